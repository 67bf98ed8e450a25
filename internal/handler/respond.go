package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"feedsync/internal/relay"
)

// Error codes returned in the "code" field of failed responses
const (
	CodeValidation    = "validation"
	CodeNotFound      = "not_found"
	CodeRateLimited   = "rate_limited"
	CodeTimeout       = "timeout"
	CodeUpstream      = "upstream"
	CodeNetwork       = "network"
	CodeNotEnabled    = "not_enabled"
	CodeNotConfigured = "not_configured"
	CodeInternal      = "internal"
)

// maxBodyBytes はリクエストボディの上限（1MB）
const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	respondJSON(w, http.StatusOK, body)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func reqLog(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}

// queryInt parses an integer query parameter. Missing or malformed values yield def.
func queryInt(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// relayStatus maps a relay error onto an HTTP status and error code
func relayStatus(err error) (int, string) {
	switch relay.Classify(err) {
	case relay.ClassTimeout:
		return http.StatusGatewayTimeout, CodeTimeout
	case relay.ClassUpstream:
		return http.StatusBadGateway, CodeUpstream
	case relay.ClassQuota:
		return http.StatusTooManyRequests, CodeRateLimited
	case relay.ClassNetwork:
		return http.StatusServiceUnavailable, CodeNetwork
	case relay.ClassNotEnabled:
		return http.StatusForbidden, CodeNotEnabled
	case relay.ClassNotConfigured:
		return http.StatusInternalServerError, CodeNotConfigured
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
