// Package httputil holds the JSON error bodies the HTTP listener answers
// with when it cannot serve a definition.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Error codes written in the "error" field.
const (
	CodeInvalidBody        = "invalid_body"
	CodeUnavailable        = "definitions_unavailable"
	CodeUpgradeRequired    = "upgrade_required"
	CodeNoMatch            = "no_match"
	CodeUpstreamError      = "upstream_error"
	CodeUpstreamTimeout    = "upstream_timeout"
	CodeDelayExceedsLimit  = "delay_exceeds_timeout"
	CodeInternal           = "internal_error"
	CodeStreamsUnsupported = "streaming_unsupported"
)

// MaxLogBodySize is the default maximum body size for logging (10KB).
const MaxLogBodySize = 10 * 1024

// ErrorBody is the JSON shape of an error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteJSON(w, status, ErrorBody{Error: errCode, Message: message})
}

// TruncateBody truncates data to maxSize bytes, appending "...(truncated)" if truncated.
// If maxSize <= 0, uses MaxLogBodySize.
func TruncateBody(data []byte, maxSize int) string {
	if maxSize <= 0 {
		maxSize = MaxLogBodySize
	}
	if len(data) > maxSize {
		return string(data[:maxSize]) + "...(truncated)"
	}
	return string(data)
}
