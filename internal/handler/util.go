// Package handler provides HTTP handlers for the support bridge.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON decodes a request body into v, rejecting oversized payloads.
func decodeJSON(r *http.Request, v interface{}, maxBytes int64) error {
	body := io.LimitReader(r.Body, maxBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}
