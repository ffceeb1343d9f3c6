// Package handlers implements the boundary HTTP surface's read-only and
// upload-and-spawn endpoints over the run engine's filesystem state.
package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON error body returned by every handler in this
// package.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
