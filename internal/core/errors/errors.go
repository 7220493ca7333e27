package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpInvalidPayloadError = "invalid_payload"
	HttpDuplicateError      = "duplicate"
	HttpValidationError     = "validation_failed"
	HttpNotFoundError       = "not_found"
	HttpUnauthorizedError   = "unauthorized"
	HttpForbiddenError      = "forbidden"
)

// ErrorResponse is the error response body for edge and cloud endpoints.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
