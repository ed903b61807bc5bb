// Package httpx provides JSON response utilities shared by all API handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the response wrapper every endpoint emits.
type Envelope struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Data       any    `json:"data,omitempty"`
	Pagination any    `json:"pagination,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// OK sends a successful envelope with data.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Success: true, Data: data})
}

// OKPage sends a successful envelope with data and pagination metadata.
func OKPage(w http.ResponseWriter, status int, data, pagination any) {
	JSON(w, status, Envelope{Success: true, Data: data, Pagination: pagination})
}

// Fail sends an unsuccessful envelope with a user-facing message.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Success: false, Message: message})
}

// DecodeJSON decodes a JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
