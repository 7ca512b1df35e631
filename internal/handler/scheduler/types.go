package scheduler

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// FetchResponse reports whether a fetch trigger started a cycle
type FetchResponse struct {
	Accepted bool `json:"accepted"`
}
