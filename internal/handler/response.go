package handler

// Response is the envelope every endpoint returns. Error is only set on
// failures surfaced directly by a handler; failures routed through c.Error
// are shaped by the error middleware instead.
type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Success: true, Data: data}
}

func NewErrorResponse(message string) *Response {
	return &Response{Error: message}
}
