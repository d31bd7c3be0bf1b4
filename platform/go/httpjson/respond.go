package httpjson

import (
	"encoding/json"
	"net/http"
)

// Problem is the error body rendered by all handlers.
type Problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// Write renders v as JSON with the given status code.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error renders a Problem body.
func Error(w http.ResponseWriter, status int, title, detail string) {
	Write(w, status, Problem{Title: title, Detail: detail, Status: status})
}

// Decode parses the request body into v, limiting its size.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
