package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTimeout is returned when the hard deadline expires before the exchange completes
	ErrTimeout = errors.New("upstream request timed out")
	// ErrNotConfigured is returned when the upstream credential is missing
	ErrNotConfigured = errors.New("upstream credential is not configured")
	// ErrNotEnabled is returned when the feature is switched off
	ErrNotEnabled = errors.New("feature is not enabled")
)

// UpstreamError is a non-2xx response from the provider
type UpstreamError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// NetworkError wraps a transport failure reaching the provider
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "upstream network failure: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Class groups relay errors for status mapping
type Class string

const (
	ClassNone          Class = ""
	ClassTimeout       Class = "timeout"
	ClassUpstream      Class = "upstream"
	ClassQuota         Class = "quota"
	ClassNetwork       Class = "network"
	ClassNotEnabled    Class = "not_enabled"
	ClassNotConfigured Class = "not_configured"
	ClassCancelled     Class = "cancelled"
	ClassGeneric       Class = "generic"
)

// Classify maps err onto a Class
func Classify(err error) Class {
	var upstream *UpstreamError
	var network *NetworkError

	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrNotEnabled):
		return ClassNotEnabled
	case errors.Is(err, ErrNotConfigured):
		return ClassNotConfigured
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.As(err, &upstream):
		if upstream.Status == http.StatusTooManyRequests || mentionsQuota(upstream.Message) {
			return ClassQuota
		}
		return ClassUpstream
	case errors.As(err, &network):
		return ClassNetwork
	default:
		return ClassGeneric
	}
}

func mentionsQuota(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit")
}

// upstreamMessage extracts a readable message from a provider error body.
// It accepts {"error":"..."}, {"error":{...}} and {"message":"..."}.
func upstreamMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "unknown error"
	}

	if len(payload.Error) > 0 && string(payload.Error) != "null" {
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		return string(payload.Error)
	}
	if payload.Message != "" {
		return payload.Message
	}
	return "unknown error"
}
