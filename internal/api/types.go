package api

// AskRequest is the JSON body for POST /ask.
type AskRequest struct {
	Message string `json:"message"`
}

// AskResponse is returned by POST /ask for every outcome, including worker
// failures.
type AskResponse struct {
	Response string `json:"response"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is returned when the request itself is unusable.
type ErrorResponse struct {
	Error string `json:"error"`
}
