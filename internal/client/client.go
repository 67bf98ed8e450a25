// Package client talks to a feedsync server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"feedsync/internal/model"
)

// maxResponseSize bounds a JSON response body (10MB)
const maxResponseSize = 10 * 1024 * 1024

// relayStatusTrailer mirrors the server's streaming outcome trailer
const relayStatusTrailer = "X-Relay-Status"

var (
	// ErrStreamTimeout is returned when the server reports that a streamed reply hit its deadline
	ErrStreamTimeout = errors.New("stream timed out on the server")
	// ErrStreamAborted is returned when a streamed reply ended without a clean finish
	ErrStreamAborted = errors.New("stream ended before completion")
)

// APIError is a non-2xx response from the server
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Query selects a window of the feed. Offset counts back from the newest message.
// A positive BeforeID takes precedence over Offset on the server.
type Query struct {
	Limit    int
	Offset   int
	BeforeID int64
}

// PollResult is the long-poll answer
type PollResult struct {
	HasNew bool `json:"hasNewMessages"`
	Count  int  `json:"newMessageCount"`
}

// Option configures a Client
type Option func(*Client)

// WithToken sends a bearer token on every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithDeviceID identifies this client when the server runs without token verification
func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request diagnostics
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is a feedsync API client
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
	logger   zerolog.Logger
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeviceID returns the configured device id
func (c *Client) DeviceID() string {
	return c.deviceID
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
	return req, nil
}

// do sends a request and decodes a JSON success envelope into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// Messages fetches a window of the feed ordered by id ascending
func (c *Client) Messages(ctx context.Context, q Query) ([]model.Message, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.BeforeID > 0 {
		params.Set("before", strconv.FormatInt(q.BeforeID, 10))
	}

	var out struct {
		Data []model.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages", params, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type createdMessage struct {
	MessageID int64         `json:"messageId"`
	Data      model.Message `json:"data"`
}

// Send appends a text message
func (c *Client) Send(ctx context.Context, content string) (model.Message, error) {
	var out createdMessage
	err := c.do(ctx, http.MethodPost, "/api/messages", nil, map[string]string{
		"content":  content,
		"type":     string(model.TypeText),
		"deviceId": c.deviceID,
	}, &out)
	return out.Data, err
}

// SaveAI stores a completed AI reply in the feed
func (c *Client) SaveAI(ctx context.Context, content string) (model.Message, error) {
	var out createdMessage
	err := c.do(ctx, http.MethodPost, "/api/ai/message", nil, map[string]string{"content": content}, &out)
	return out.Data, err
}

// Delete soft-deletes a message
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

// Clear removes every message. code must match the server's confirm code.
func (c *Client) Clear(ctx context.Context, code string) (model.ClearStats, error) {
	var out struct {
		Data model.ClearStats `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, "/api/clear-all", nil, map[string]string{"confirmCode": code}, &out)
	return out.Data, err
}

// Sync records this device on the server
func (c *Client) Sync(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/sync", nil, map[string]string{
		"deviceId":   c.deviceID,
		"deviceName": name,
	}, nil)
}

// Poll blocks on the server until a message newer than afterID exists or timeout elapses
func (c *Client) Poll(ctx context.Context, afterID int64, timeout time.Duration) (PollResult, error) {
	params := url.Values{}
	params.Set("lastMessageId", strconv.FormatInt(afterID, 10))
	if secs := int(timeout / time.Second); secs > 0 {
		params.Set("timeout", strconv.Itoa(secs))
	}

	var out PollResult
	err := c.do(ctx, http.MethodGet, "/api/poll", params, nil, &out)
	return out, err
}

// Chat asks the AI relay for a completion. Streamed text is copied to w as it arrives.
// The full reply is returned either way.
func (c *Client) Chat(ctx context.Context, message string, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/ai/chat", nil, map[string]any{
		"message": message,
		"stream":  true,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var out struct {
			Response string `json:"response"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if w != nil {
			io.WriteString(w, out.Response)
		}
		return out.Response, nil
	}

	var full strings.Builder
	dst := io.Writer(&full)
	if w != nil {
		dst = io.MultiWriter(&full, w)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return full.String(), fmt.Errorf("stream interrupted: %w", err)
	}

	switch resp.Trailer.Get(relayStatusTrailer) {
	case "done", "":
		return full.String(), nil
	case "timeout":
		return full.String(), ErrStreamTimeout
	default:
		return full.String(), ErrStreamAborted
	}
}
