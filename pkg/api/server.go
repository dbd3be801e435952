// Package api holds small HTTP response helpers shared by the BROP and CDP
// listeners: consistent JSON encoding, error envelopes, and permissive CORS
// for browser-originated requests against the discovery endpoints.
package api

import (
	"encoding/json"
	"net/http"

	bridgelog "github.com/rubiojr/cdpbridge/pkg/log"
)

var logger = bridgelog.ForService("api")

// ErrorResponse is the JSON body written by WriteError.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON encodes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("encoding JSON response: %v", err)
	}
}

// WriteError writes a JSON error envelope.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}

// CorsMiddleware allows any origin to reach the discovery and logs
// endpoints, matching how browser-based CDP clients probe the bridge
// directly from page contexts.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
