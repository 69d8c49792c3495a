/*Package baaserr defines the error taxonomy for the provisioning core and
its HTTP representation.

Validation, not-found and conflict errors are detected before any physical
mutation and surface as 4xx. Everything that happens after a physical
mutation is wrapped as a ProvisioningError; raw database or gateway error
text never reaches a client.
*/
package baaserr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// FieldError carries field-level validation detail.
type FieldError struct {
	Field    string   `json:"field"`
	Messages []string `json:"messages"`
}

// ValidationError reports one or more invalid request fields.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 && len(e.Fields[0].Messages) == 1 {
		return fmt.Sprintf("field '%s': %s", e.Fields[0].Field, e.Fields[0].Messages[0])
	}
	return fmt.Sprintf("%d fields failed validation", len(e.Fields))
}

// NewValidationError creates a single-field validation error.
func NewValidationError(field string, messages ...string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Messages: messages}}}
}

// NotFoundError is returned when the referenced object does not exist or
// when the caller may not access it. Access denials deliberately look like
// missing objects so that existence is not confirmed to unauthorized
// callers.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return e.What + " not found"
}

// ConflictError is returned when a name maps to a physical identifier that
// already exists.
type ConflictError struct {
	Name       string
	Identifier string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("'%s' maps to identifier '%s' which already exists, pick another name", e.Name, e.Identifier)
}

// UnsafeQueryError means a generated SQL fragment contained a semicolon.
// This indicates an identifier validation bypass; the operation must abort
// without executing anything.
type UnsafeQueryError struct {
	Query string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("query '%s' has semicolon, possible SQL injection attempt", e.Query)
}

// UpstreamGatewayError is a non-allow-listed error response from the REST
// gateway. Detail is logged server-side, clients only see a generic message.
type UpstreamGatewayError struct {
	StatusCode int
	Code       string
}

func (e *UpstreamGatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d (code %s)", e.StatusCode, e.Code)
}

// ProvisioningError wraps a failure that happened after partial physical
// changes. Compensated records whether the compensating drop succeeded;
// orphaned physical objects require manual cleanup.
type ProvisioningError struct {
	Operation   string
	Err         error
	Compensated bool
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning operation '%s' failed: %v", e.Operation, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// ErrUnauthorized is returned for missing or invalid credentials.
var ErrUnauthorized = errors.New("unauthorized")

type responseBody struct {
	StatusCode int          `json:"statusCode"`
	Error      string       `json:"error"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// Status maps an error from the taxonomy to its HTTP status code.
func Status(err error) int {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the JSON error response for err. Internal errors are
// masked with a generic message, the caller is expected to have logged the
// detail already.
func WriteError(w http.ResponseWriter, err error) {
	status := Status(err)
	body := responseBody{
		StatusCode: status,
		Error:      http.StatusText(status),
	}

	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		body.Message = "request validation failed"
		body.Details = validation.Fields
	case status < http.StatusInternalServerError:
		body.Message = err.Error()
	default:
		body.Message = "an internal server error occurred"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
