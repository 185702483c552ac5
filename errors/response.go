package errors

// ErrorResponse is the JSON body of every failed API call:
//
//	{"error": {"code": "NOT_FOUND", "message": "run \"r1\" not found", "retryable": false}}
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the error object inside ErrorResponse. Cause is never
// exposed.
type ErrorBody struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToResponse renders e for an API client.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: e.Code, Message: e.Message, Retryable: e.Retryable, Details: e.Details}}
}
