package httpx

import (
	"encoding/json"
	"net/http"
)

// StatusBody is the minimal envelope every authority response carries.
type StatusBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v as JSON with the given status code. Responses are never
// cacheable since most of them carry tokens.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteStatus writes a bare {"status","message"} body.
func WriteStatus(w http.ResponseWriter, code int, status, message string) {
	WriteJSON(w, code, StatusBody{Status: status, Message: message})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// DecodeJSON reads a JSON request body of at most 1 MiB into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
