/*Package proxy mediates data-plane requests between clients and the REST
gateway.

The mediator validates a request, rewrites the headers the gateway's
schema-switching and row-level-security mechanisms require, and forwards it
with a fully buffered body. Responses are either streamed through or
collected and reshaped, depending on the route: data writes get their error
responses translated so internal schema and constraint details never reach a
client, the docs route rewrites the OpenAPI document.
*/
package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/stratobase/stratobase/core/baaserr"
	"github.com/stratobase/stratobase/core/logger"
)

// Gateway error codes of interest, see the PostgREST error reference.
const (
	GatewayCodeMissingSchema = "PGRST106"
	GatewayCodeMismatchPKey  = "PGRST115"
)

// ReadOnlyDocsHeader marks a docs request as made with a read-only token.
// Internal header between the docs handler and the response rewriter, never
// client-supplied.
const ReadOnlyDocsHeader = "x-baas-ro-api-user"

// MethodModifiesExisting returns true for methods that modify existing rows.
func MethodModifiesExisting(method string) bool {
	switch strings.ToLower(method) {
	case "put", "patch", "delete":
		return true
	}
	return false
}

// MethodWrites returns true for methods that write data.
func MethodWrites(method string) bool {
	return strings.ToLower(method) == "post" || MethodModifiesExisting(method)
}

// SelfHandleFunc collects the full upstream response and writes the final
// client response itself.
type SelfHandleFunc func(upstream *http.Response, request *http.Request, body []byte, w http.ResponseWriter)

// Mediator forwards requests to the REST gateway.
type Mediator struct {
	target     *url.URL
	client     *http.Client
	selfHandle SelfHandleFunc
}

// Builder assembles a Mediator.
type Builder struct {
	// TargetURL is the gateway base URL. Mandatory.
	TargetURL string
	// Client is the HTTP client used for forwarding. Defaults to
	// http.DefaultClient.
	Client *http.Client
	// SelfHandle switches the mediator from pass-through streaming to
	// buffered response handling. Optional.
	SelfHandle SelfHandleFunc
}

// MustNew creates a Mediator.
func MustNew(b *Builder) *Mediator {
	target, err := url.Parse(b.TargetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		panic("proxy: invalid target url '" + b.TargetURL + "'")
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Mediator{target: target, client: client, selfHandle: b.SelfHandle}
}

// Forward validates the request and forwards it to the gateway with the
// schema selector set. The caller must have rewritten the request path and
// set the bearer token already.
//
// Validation failures are returned before anything is sent upstream; once
// forwarding starts, the mediator writes the response itself and returns
// nil.
func (m *Mediator) Forward(w http.ResponseWriter, r *http.Request, schema string) error {
	// full-table operations are blocked at the edge, mirroring the
	// gateway's own safety rule
	if MethodModifiesExisting(r.Method) && strings.TrimPrefix(r.URL.RawQuery, "?") == "" {
		return baaserr.NewValidationError("query", "query parameters must be specified for modifying operations")
	}
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ") {
		return baaserr.ErrUnauthorized
	}

	body, err := bufferBody(r)
	if err != nil {
		return err
	}

	outURL := *m.target
	outURL.Path = singleJoiningSlash(m.target.Path, r.URL.Path)
	outURL.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	for key, values := range r.Header {
		out.Header[key] = values
	}

	// this is how one shared gateway serves many tenant schemas
	if MethodWrites(r.Method) {
		out.Header.Set("Content-Profile", schema)
	} else {
		out.Header.Set("Accept-Profile", schema)
	}
	if out.Header.Get("Prefer") == "" {
		// have writes echo the affected rows back
		out.Header.Set("Prefer", "return=representation")
	}
	// an explicit length avoids upstream clients stalling on chunked
	// non-empty bodies
	out.ContentLength = int64(len(body))

	upstream, err := m.client.Do(out)
	if err != nil {
		logger.FromContext(r.Context()).Errorln("cannot reach gateway:", err)
		return &baaserr.UpstreamGatewayError{StatusCode: http.StatusBadGateway}
	}
	defer upstream.Body.Close()

	if m.selfHandle != nil {
		collected, err := io.ReadAll(upstream.Body)
		if err != nil {
			logger.FromContext(r.Context()).Errorln("cannot read gateway response:", err)
			return &baaserr.UpstreamGatewayError{StatusCode: upstream.StatusCode}
		}
		m.selfHandle(upstream, r, collected, w)
		return nil
	}

	copyHeaders(w.Header(), upstream.Header, false)
	w.WriteHeader(upstream.StatusCode)
	io.Copy(w, upstream.Body)
	return nil
}

// bufferBody reads the full request body. Non-empty bodies must be valid
// JSON and are re-serialized so the forwarded length is exact.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, baaserr.NewValidationError("body", "request body is not valid JSON")
	}
	return json.Marshal(document)
}

func copyHeaders(dst, src http.Header, skipLength bool) {
	for key, values := range src {
		if skipLength && strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// from net/http/httputil
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}
