package responses

// SuccessEnvelope is the body of every 2xx response: {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope is the body of every error response. Code is one of the
// pkg/errors codes (NO_STOCK_AVAILABLE, ALREADY_REQUESTED, ...) so desk
// clients can branch without parsing Message.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
