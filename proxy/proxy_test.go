package proxy_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/proxy"
)

type captured struct {
	method        string
	path          string
	query         string
	header        http.Header
	body          []byte
	contentLength int64
}

func newGateway(t *testing.T, status int, responseBody string, responseHeader map[string]string) (*httptest.Server, *captured) {
	t.Helper()
	capture := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.method = r.Method
		capture.path = r.URL.Path
		capture.query = r.URL.RawQuery
		capture.header = r.Header.Clone()
		capture.contentLength = r.ContentLength
		capture.body, _ = io.ReadAll(r.Body)
		for key, value := range responseHeader {
			w.Header().Set(key, value)
		}
		w.WriteHeader(status)
		io.WriteString(w, responseBody)
	}))
	t.Cleanup(server.Close)
	return server, capture
}

func TestForwardSetsGatewayHeaders(t *testing.T) {
	server, capture := newGateway(t, http.StatusOK, `[]`, nil)
	mediator := proxy.MustNew(&proxy.Builder{TargetURL: server.URL})

	request := httptest.NewRequest(http.MethodGet, "/employee_list?select=*", nil)
	request.Header.Set("Authorization", "Bearer token")
	recorder := httptest.NewRecorder()

	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "/employee_list", capture.path)
	assert.Equal(t, "select=*", capture.query)
	assert.Equal(t, "ws_7_abc", capture.header.Get("Accept-Profile"))
	assert.Empty(t, capture.header.Get("Content-Profile"))
	assert.Equal(t, "Bearer token", capture.header.Get("Authorization"))
}

func TestForwardWriteUsesContentProfileAndDefaultPrefer(t *testing.T) {
	server, capture := newGateway(t, http.StatusCreated, `[{"id":1}]`, nil)
	mediator := proxy.MustNew(&proxy.Builder{TargetURL: server.URL})

	request := httptest.NewRequest(http.MethodPost, "/employee_list",
		strings.NewReader(`{"full_name":"Jo"}`))
	request.Header.Set("Authorization", "Bearer token")
	recorder := httptest.NewRecorder()

	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))

	assert.Equal(t, "ws_7_abc", capture.header.Get("Content-Profile"))
	assert.Equal(t, "return=representation", capture.header.Get("Prefer"))
	assert.Equal(t, int64(len(capture.body)), capture.contentLength)
	assert.JSONEq(t, `{"full_name":"Jo"}`, string(capture.body))
}

func TestForwardKeepsCallerPrefer(t *testing.T) {
	server, capture := newGateway(t, http.StatusCreated, `{}`, nil)
	mediator := proxy.MustNew(&proxy.Builder{TargetURL: server.URL})

	request := httptest.NewRequest(http.MethodPost, "/employee_list", strings.NewReader(`{}`))
	request.Header.Set("Authorization", "Bearer token")
	request.Header.Set("Prefer", "return=minimal")
	recorder := httptest.NewRecorder()

	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))
	assert.Equal(t, "return=minimal", capture.header.Get("Prefer"))
}

func TestForwardBlocksFullTableModification(t *testing.T) {
	server, capture := newGateway(t, http.StatusOK, `{}`, nil)
	mediator := proxy.MustNew(&proxy.Builder{TargetURL: server.URL})

	for _, method := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete} {
		request := httptest.NewRequest(method, "/employee_list", strings.NewReader(`{"id":1}`))
		request.Header.Set("Authorization", "Bearer token")
		recorder := httptest.NewRecorder()

		err := mediator.Forward(recorder, request, "ws_7_abc")
		require.Error(t, err, method)
		assert.Equal(t, http.StatusBadRequest, baaserr.Status(err))
	}
	// nothing reached the gateway
	assert.Empty(t, capture.method)

	// with a predicate the request goes through
	request := httptest.NewRequest(http.MethodDelete, "/employee_list?id=eq.1", nil)
	request.Header.Set("Authorization", "Bearer token")
	require.NoError(t, mediator.Forward(httptest.NewRecorder(), request, "ws_7_abc"))
	assert.Equal(t, http.MethodDelete, capture.method)
}

func TestForwardRequiresBearer(t *testing.T) {
	server, _ := newGateway(t, http.StatusOK, `{}`, nil)
	mediator := proxy.MustNew(&proxy.Builder{TargetURL: server.URL})

	request := httptest.NewRequest(http.MethodGet, "/employee_list", nil)
	err := mediator.Forward(httptest.NewRecorder(), request, "ws_7_abc")
	assert.ErrorIs(t, err, baaserr.ErrUnauthorized)
}

func TestForwardRejectsInvalidJSONBody(t *testing.T) {
	server, _ := newGateway(t, http.StatusOK, `{}`, nil)
	mediator := proxy.MustNew(&proxy.Builder{TargetURL: server.URL})

	request := httptest.NewRequest(http.MethodPost, "/employee_list", strings.NewReader(`{not json`))
	request.Header.Set("Authorization", "Bearer token")
	err := mediator.Forward(httptest.NewRecorder(), request, "ws_7_abc")
	assert.Equal(t, http.StatusBadRequest, baaserr.Status(err))
}

func TestDataResponseHandlerRelaysSuccess(t *testing.T) {
	server, _ := newGateway(t, http.StatusOK, `[{"id":1}]`, map[string]string{"Content-Type": "application/json"})
	mediator := proxy.MustNew(&proxy.Builder{
		TargetURL:  server.URL,
		SelfHandle: proxy.DataResponseHandler(),
	})

	request := httptest.NewRequest(http.MethodGet, "/employee_list", nil)
	request.Header.Set("Authorization", "Bearer token")
	recorder := httptest.NewRecorder()
	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `[{"id":1}]`, recorder.Body.String())
}

func TestDataResponseHandlerTranslatesAllowListedError(t *testing.T) {
	server, _ := newGateway(t, http.StatusConflict,
		`{"code":"PGRST115","message":"pkey mismatch"}`, nil)
	mediator := proxy.MustNew(&proxy.Builder{
		TargetURL:  server.URL,
		SelfHandle: proxy.DataResponseHandler(),
	})

	request := httptest.NewRequest(http.MethodGet, "/employee_list", nil)
	request.Header.Set("Authorization", "Bearer token")
	recorder := httptest.NewRecorder()
	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "pkey mismatch")
}

func TestDataResponseHandlerMasksOtherErrors(t *testing.T) {
	server, _ := newGateway(t, http.StatusConflict,
		`{"code":"23505","message":"duplicate key value violates unique constraint \"employee_list_pkey\""}`, nil)
	mediator := proxy.MustNew(&proxy.Builder{
		TargetURL:  server.URL,
		SelfHandle: proxy.DataResponseHandler(),
	})

	request := httptest.NewRequest(http.MethodPost, "/employee_list", strings.NewReader(`{}`))
	request.Header.Set("Authorization", "Bearer token")
	recorder := httptest.NewRecorder()
	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.NotContains(t, recorder.Body.String(), "employee_list_pkey")
	assert.Contains(t, recorder.Body.String(), "Error code: 23505")
}

func TestDocsResponseHandlerRewritesOpenAPI(t *testing.T) {
	openAPI := `{
		"swagger": "2.0",
		"host": "gateway.internal:3000",
		"basePath": "/",
		"paths": {
			"/employee_list": {
				"get": {},
				"post": {},
				"delete": {}
			}
		}
	}`
	server, _ := newGateway(t, http.StatusOK, openAPI,
		map[string]string{"Content-Type": "application/openapi+json; charset=utf-8"})
	mediator := proxy.MustNew(&proxy.Builder{
		TargetURL:  server.URL,
		SelfHandle: proxy.DocsResponseHandler("app.example.com", "/api/data"),
	})

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer token")
	request.Header.Set(proxy.ReadOnlyDocsHeader, "true")
	recorder := httptest.NewRecorder()
	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))

	var document map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &document))
	assert.Equal(t, "app.example.com", document["host"])
	assert.Equal(t, "/api/data", document["basePath"])

	operations := document["paths"].(map[string]interface{})["/employee_list"].(map[string]interface{})
	assert.Contains(t, operations, "get")
	assert.NotContains(t, operations, "post")
	assert.NotContains(t, operations, "delete")
}

func TestDocsResponseHandlerPassesThroughOtherContent(t *testing.T) {
	server, _ := newGateway(t, http.StatusOK, `plain`, map[string]string{"Content-Type": "text/plain"})
	mediator := proxy.MustNew(&proxy.Builder{
		TargetURL:  server.URL,
		SelfHandle: proxy.DocsResponseHandler("app.example.com", "/api/data"),
	})

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer token")
	recorder := httptest.NewRecorder()
	require.NoError(t, mediator.Forward(recorder, request, "ws_7_abc"))
	assert.Equal(t, "plain", recorder.Body.String())
}
