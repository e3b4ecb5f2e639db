package agentd

import (
	"encoding/json"
	"net/http"
	"time"
)

// envelope is the uniform JSON response shape for every non-streaming
// endpoint.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Timestamp: nowRFC3339()})
}

func writeCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: data, Timestamp: nowRFC3339()})
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg, ErrorCode: code, Timestamp: nowRFC3339()})
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
