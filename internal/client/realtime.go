package client

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Transport names the push mechanism the runner is currently using
type Transport string

const (
	TransportSSE  Transport = "sse"
	TransportPoll Transport = "poll"
)

// Handlers react to feed changes. Every field is optional.
type Handlers struct {
	// OnChange is called when the feed may have new messages, including after every (re)connect
	OnChange func(ctx context.Context)
	OnDelete func(id int64)
	OnClear  func()
	// LastID returns the newest id the caller has seen; used by long-poll
	LastID func() int64
}

// RealtimeOptions tunes reconnect and fallback behavior
type RealtimeOptions struct {
	// HeartbeatTimeout drops a silent SSE connection. Should exceed the server heartbeat interval.
	HeartbeatTimeout time.Duration
	PollTimeout      time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	// FailuresBeforePoll consecutive SSE failures switch the runner to long-poll
	FailuresBeforePoll int
	// PollRounds long-poll rounds are run before SSE is tried again
	PollRounds int
}

func (o RealtimeOptions) withDefaults() RealtimeOptions {
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 75 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.FailuresBeforePoll <= 0 {
		o.FailuresBeforePoll = 3
	}
	if o.PollRounds <= 0 {
		o.PollRounds = 10
	}
	return o
}

// Realtime keeps exactly one push transport open at a time.
// It prefers SSE and falls back to long-poll after repeated SSE failures.
type Realtime struct {
	client    *Client
	handlers  Handlers
	opts      RealtimeOptions
	logger    zerolog.Logger
	transport atomic.Value // Transport
}

// NewRealtime creates a runner for c
func NewRealtime(c *Client, h Handlers, opts RealtimeOptions) *Realtime {
	r := &Realtime{
		client:   c,
		handlers: h,
		opts:     opts.withDefaults(),
		logger:   c.logger.With().Str("component", "realtime").Logger(),
	}
	r.transport.Store(TransportSSE)
	return r
}

// Transport returns the transport currently in use
func (r *Realtime) Transport() Transport {
	return r.transport.Load().(Transport)
}

// Run drives the push transports until ctx is done
func (r *Realtime) Run(ctx context.Context) error {
	failures := 0
	delay := r.opts.BackoffMin

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if failures >= r.opts.FailuresBeforePoll {
			r.transport.Store(TransportPoll)
			r.logger.Warn().Int("failures", failures).Msg("push channel unavailable, switching to long-poll")
			if err := r.runPoll(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			failures = 0
			delay = r.opts.BackoffMin
			continue
		}

		r.transport.Store(TransportSSE)
		connected, err := r.runSSE(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			// 一度つながったら失敗回数をリセット
			failures = 0
			delay = r.opts.BackoffMin
		}
		failures++
		r.logger.Info().Err(err).Dur("retry_in", delay).Msg("event stream closed, reconnecting")

		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
		if delay > r.opts.BackoffMax {
			delay = r.opts.BackoffMax
		}
	}
}

// runSSE consumes one SSE connection. connected is true if the server accepted the stream.
func (r *Realtime) runSSE(ctx context.Context) (connected bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.client.Events(sctx)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	// ハートビートが途絶えたら接続を切る
	watchdog := time.AfterFunc(r.opts.HeartbeatTimeout, cancel)
	defer watchdog.Stop()

	for {
		name, data, err := stream.ReadEvent()
		if err != nil {
			if sctx.Err() != nil && ctx.Err() == nil {
				return true, errors.New("heartbeat timeout")
			}
			return true, err
		}
		watchdog.Reset(r.opts.HeartbeatTimeout)
		r.dispatch(ctx, name, data)
	}
}

func (r *Realtime) dispatch(ctx context.Context, name string, data []byte) {
	switch name {
	case "connection", "message":
		// 再接続時も取りこぼしがないよう再同期する
		if r.handlers.OnChange != nil {
			r.handlers.OnChange(ctx)
		}
	case "messageDeleted":
		var payload struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			r.logger.Warn().Err(err).Msg("malformed messageDeleted event")
			return
		}
		id, err := strconv.ParseInt(payload.MessageID, 10, 64)
		if err != nil {
			r.logger.Warn().Str("id", payload.MessageID).Msg("malformed message id")
			return
		}
		if r.handlers.OnDelete != nil {
			r.handlers.OnDelete(id)
		}
	case "clearAll":
		if r.handlers.OnClear != nil {
			r.handlers.OnClear()
		}
	case "heartbeat":
	default:
		r.logger.Debug().Str("event", name).Msg("ignoring unknown event")
	}
}

// runPoll runs PollRounds long-poll requests back to back
func (r *Realtime) runPoll(ctx context.Context) error {
	delay := r.opts.BackoffMin

	for round := 0; round < r.opts.PollRounds; round++ {
		var after int64
		if r.handlers.LastID != nil {
			after = r.handlers.LastID()
		}

		res, err := r.client.Poll(ctx, after, r.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn().Err(err).Dur("retry_in", delay).Msg("long-poll failed")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay *= 2
			if delay > r.opts.BackoffMax {
				delay = r.opts.BackoffMax
			}
			continue
		}

		delay = r.opts.BackoffMin
		if res.HasNew && r.handlers.OnChange != nil {
			r.handlers.OnChange(ctx)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
