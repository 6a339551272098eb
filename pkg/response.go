package pkg

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope of the plain HTTP endpoints: health and failed
// websocket handshakes.
type APIResponse struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   string     `json:"error,omitempty"`
	Code    string     `json:"code,omitempty"`
	Details *Rejection `json:"details,omitempty"`
}

var codeStatus = map[string]int{
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeAccessDenied:      http.StatusForbidden,
	CodeNotFound:          http.StatusNotFound,
	CodeRateLimited:       http.StatusTooManyRequests,
	CodeValidationFailed:  http.StatusBadRequest,
	CodeRetryableInternal: http.StatusInternalServerError,
}

// JSON writes data in a successful envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, APIResponse{Success: true, Data: data})
}

// Error classifies err and writes it with the matching status. The message is
// the one a websocket client would see for the same error.
func Error(w http.ResponseWriter, err error) {
	rej := Classify(err)

	status, ok := codeStatus[rej.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := APIResponse{Error: rej.Message, Code: rej.Code}
	if rej.ResetAt != nil || rej.IdempotencyToken != "" {
		resp.Details = &rej
	}
	write(w, status, resp)
}

func write(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
