package proxy

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/stratobase/stratobase/core/logger"
)

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// allow-listed upstream error codes that translate to a client-visible 400
var translatableGatewayCodes = map[string]bool{
	GatewayCodeMismatchPKey: true,
}

// DataResponseHandler translates gateway responses on the data-write path.
// Successful responses are relayed as-is. Error responses are never relayed
// verbatim: an allow-listed code becomes a 400 with a safe message, anything
// else becomes a generic 500 with the original detail logged server-side
// only.
func DataResponseHandler() SelfHandleFunc {
	return func(upstream *http.Response, request *http.Request, body []byte, w http.ResponseWriter) {
		copyHeaders(w.Header(), upstream.Header, true)

		if upstream.StatusCode <= 299 {
			w.WriteHeader(upstream.StatusCode)
			w.Write(body)
			return
		}

		var gwErr gatewayError
		json.Unmarshal(body, &gwErr)

		w.Header().Set("Content-Type", "application/json")
		if translatableGatewayCodes[gwErr.Code] {
			message := gwErr.Message
			if message == "" {
				message = "Primary key values in request body do not match value in URL."
			}
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"statusCode": http.StatusBadRequest,
				"error":      "Bad request",
				"message":    message,
			})
			return
		}

		logger.FromContext(request.Context()).
			WithField("statusCode", upstream.StatusCode).
			Errorln("gateway returned error response:", string(body))

		code := gwErr.Code
		if code == "" {
			code = "none"
		}
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"statusCode": http.StatusInternalServerError,
			"error":      "Internal server error",
			"message":    "An internal server error occurred. Error code: " + code,
		})
	}
}

// DocsResponseHandler rewrites the gateway's OpenAPI document: the host and
// base path are replaced with this service's public data API address, and
// for read-only tokens every non-GET operation is removed. Non-OpenAPI
// responses pass through unchanged.
func DocsResponseHandler(docsHost, basePath string) SelfHandleFunc {
	return func(upstream *http.Response, request *http.Request, body []byte, w http.ResponseWriter) {
		copyHeaders(w.Header(), upstream.Header, true)

		contentType := strings.ToLower(upstream.Header.Get("Content-Type"))
		if !strings.HasPrefix(contentType, "application/openapi+json") {
			w.WriteHeader(upstream.StatusCode)
			w.Write(body)
			return
		}

		var document map[string]interface{}
		if err := json.Unmarshal(body, &document); err != nil {
			logger.FromContext(request.Context()).Errorln("cannot parse openapi document:", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		document["host"] = docsHost
		document["basePath"] = basePath
		if request.Header.Get(ReadOnlyDocsHeader) == "true" {
			removeModifyingOperations(document)
		}

		rewritten, err := json.Marshal(document)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(upstream.StatusCode)
		w.Write(rewritten)
	}
}

func removeModifyingOperations(document map[string]interface{}) {
	paths, ok := document["paths"].(map[string]interface{})
	if !ok {
		return
	}
	for _, endpoint := range paths {
		operations, ok := endpoint.(map[string]interface{})
		if !ok {
			continue
		}
		for method := range operations {
			if strings.ToLower(method) != "get" {
				delete(operations, method)
			}
		}
	}
}
