// Package relay forwards long-running AI requests to an upstream provider.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"feedsync/internal/metrics"
)

const (
	// maxErrorBody bounds how much of an error response is read
	maxErrorBody = 64 * 1024
	// maxBufferedBody bounds a non-streaming response
	maxBufferedBody = 16 * 1024 * 1024
	chunkSize       = 4 * 1024
)

// Request is one upstream call
type Request struct {
	// Kind labels metrics and logs ("chat", "image")
	Kind   string
	URL    string
	APIKey string
	Body   any
}

// Result is either *StreamingBody or *BufferedResult
type Result interface {
	State() State
	isResult()
}

// Options configures a Relay
type Options struct {
	Timeout time.Duration
	// UpstreamRPS paces calls to the provider. Zero disables pacing.
	UpstreamRPS float64
	Client      *http.Client
}

// Relay issues upstream requests under a hard deadline
type Relay struct {
	client  *http.Client
	timeout time.Duration
	pacer   *rate.Limiter
	logger  zerolog.Logger
}

// New creates a Relay
func New(opts Options, logger zerolog.Logger) *Relay {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		// デッドラインは context で管理するので Client.Timeout は設定しない
		client = &http.Client{}
	}

	r := &Relay{
		client:  client,
		timeout: opts.Timeout,
		logger:  logger.With().Str("component", "relay").Logger(),
	}
	if opts.UpstreamRPS > 0 {
		r.pacer = rate.NewLimiter(rate.Limit(opts.UpstreamRPS), 1)
	}
	return r
}

// Timeout returns the hard deadline applied to every exchange
func (r *Relay) Timeout() time.Duration {
	return r.timeout
}

// Do sends req. The deadline covers the whole exchange, including reading a streaming body.
// A returned *StreamingBody must be closed by the caller.
func (r *Relay) Do(ctx context.Context, req Request) (Result, error) {
	if req.APIKey == "" {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	state := &stateBox{}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)

	fail := func(err error) (Result, error) {
		cancel()
		r.finish(req.Kind, state, err, start)
		return nil, err
	}

	state.move(StateRequesting)

	if r.pacer != nil {
		if err := r.pacer.Wait(ctx); err != nil {
			return fail(r.contextErr(ctx, err))
		}
	}

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return fail(fmt.Errorf("failed to encode upstream request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Errorf("failed to build upstream request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fail(r.contextErr(ctx, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return fail(&UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(body), Body: body})
	}

	contentType := resp.Header.Get("Content-Type")
	if IsStreaming(contentType) {
		state.move(StateStreaming)
		return &StreamingBody{
			ContentType: contentType,
			body:        resp.Body,
			ctx:         ctx,
			cancel:      cancel,
			state:       state,
			relay:       r,
			kind:        req.Kind,
			start:       start,
		}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody))
	resp.Body.Close()
	if err != nil {
		return fail(r.contextErr(ctx, err))
	}

	result := newBufferedResult(resp.StatusCode, raw)
	state.move(StateBufferedDone)
	result.state = state
	cancel()
	r.finish(req.Kind, state, nil, start)
	return result, nil
}

// contextErr distinguishes deadline expiry, caller cancellation and transport failures
func (r *Relay) contextErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return context.Canceled
	default:
		return &NetworkError{Err: err}
	}
}

func (r *Relay) finish(kind string, state *stateBox, err error, start time.Time) {
	switch Classify(err) {
	case ClassNone:
	case ClassTimeout, ClassCancelled:
		state.move(StateTimedOut)
	default:
		state.move(StateFailed)
	}

	final := state.load()
	metrics.RelayRequests.WithLabelValues(kind, final.String()).Inc()
	metrics.RelayDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Warn().Err(err).Str("class", string(Classify(err)))
	}
	ev.Str("kind", kind).
		Str("state", final.String()).
		Dur("elapsed", time.Since(start)).
		Msg("relay finished")
}

// IsStreaming reports whether a response content type is forwarded incrementally
func IsStreaming(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "text/event-stream" || mediaType == "text/plain"
}

// StreamingBody forwards an upstream stream as it is consumed
type StreamingBody struct {
	ContentType string

	body      io.ReadCloser
	ctx       context.Context
	cancel    context.CancelFunc
	state     *stateBox
	relay     *Relay
	kind      string
	start     time.Time
	closeOnce sync.Once
	err       error
}

func (*StreamingBody) isResult() {}

// State returns the current lifecycle state
func (s *StreamingBody) State() State {
	return s.state.load()
}

// WriteTo copies the stream to w chunk by chunk, flushing after each write when w is an http.Flusher.
// The body is closed when WriteTo returns.
func (s *StreamingBody) WriteTo(w io.Writer) (int64, error) {
	defer s.Close()

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	var written int64

	for {
		n, rerr := s.body.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				s.err = fmt.Errorf("failed to forward stream: %w", werr)
				return written, s.err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if rerr == io.EOF {
			s.state.move(StateDraining)
			if flusher != nil {
				flusher.Flush()
			}
			return written, nil
		}
		if rerr != nil {
			s.err = s.relay.contextErr(s.ctx, rerr)
			return written, s.err
		}
	}
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *StreamingBody) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// 先にキャンセルして読み込み中の Read を解放する
		if s.ctx.Err() == nil && s.State() != StateDraining && s.err == nil {
			s.err = context.Canceled
		}
		s.cancel()
		err = s.body.Close()

		if s.State() == StateDraining {
			s.state.move(StateDone)
			s.relay.finish(s.kind, s.state, nil, s.start)
			return
		}
		s.relay.finish(s.kind, s.state, s.err, s.start)
	})
	return err
}

// Err returns the error that ended the stream, if any
func (s *StreamingBody) Err() error {
	return s.err
}

// BufferedResult is a complete non-streaming response
type BufferedResult struct {
	Status  int
	Raw     json.RawMessage
	Content string
	Model   string
	Usage   json.RawMessage

	state *stateBox
}

func (*BufferedResult) isResult() {}

func (b *BufferedResult) State() State {
	if b.state == nil {
		return StateBufferedDone
	}
	return b.state.load()
}

func newBufferedResult(status int, raw []byte) *BufferedResult {
	res := &BufferedResult{Status: status, Raw: raw}

	var parsed struct {
		Model   string          `json:"model"`
		Usage   json.RawMessage `json:"usage"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		res.Model = parsed.Model
		res.Usage = parsed.Usage
		if len(parsed.Choices) > 0 {
			res.Content = parsed.Choices[0].Message.Content
		}
	}
	if !json.Valid(raw) {
		res.Raw = nil
	}
	return res
}
