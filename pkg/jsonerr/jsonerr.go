// Package jsonerr renders HTTP error responses as a small JSON document.
package jsonerr

import (
	"encoding/json"
	"net/http"
)

// Response is the body of every error response: a single message
// identifying what was wrong with the request.
type Response struct {
	Error string `json:"error"`
}

// Error works like [http.Error] but writes a JSON body.
//
// Callers still need a naked return in the handler.
func Error(w http.ResponseWriter, msg string, httpcode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpcode)
	b, _ := json.Marshal(Response{Error: msg})
	w.Write(b)
}
