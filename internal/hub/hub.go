// Package hub fans feed-change events out to push channels.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"feedsync/internal/metrics"
)

// CountSource reports how many messages arrived after a point in time
type CountSource interface {
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// Options tunes the periodic tasks of the hub
type Options struct {
	PollInterval      time.Duration
	Lookback          time.Duration
	HeartbeatInterval time.Duration
	// Buffer is the per-channel queue length. A channel whose queue is full is reaped.
	Buffer int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Lookback <= 0 {
		o.Lookback = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	return o
}

// Subscription is one registered push channel
type Subscription struct {
	ID           uuid.UUID
	Transport    string
	DeviceID     string
	RegisteredAt time.Time

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events delivers queued events. It is never closed; wait on Done instead.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the hub removes the subscription
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub owns the registry of push channels
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	source CountSource
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a hub. source may be nil, in which case the store poll is disabled.
func New(source CountSource, opts Options, logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[uuid.UUID]*Subscription),
		source: source,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "hub").Logger(),
		now:    time.Now,
	}
}

// Register adds a push channel and queues the connection event for it
func (h *Hub) Register(transport, deviceID string) *Subscription {
	sub := &Subscription{
		ID:           uuid.New(),
		Transport:    transport,
		DeviceID:     deviceID,
		RegisteredAt: h.now(),
		events:       make(chan Event, h.opts.Buffer),
		done:         make(chan struct{}),
	}
	sub.events <- Connected()

	h.mu.Lock()
	h.subs[sub.ID] = sub
	total := len(h.subs)
	h.mu.Unlock()

	metrics.PushChannels.WithLabelValues(transport).Inc()
	h.logger.Info().
		Str("subscription", sub.ID.String()).
		Str("transport", transport).
		Str("device_id", deviceID).
		Int("total", total).
		Msg("push channel registered")
	return sub
}

// Unregister removes sub. Calling it more than once, or concurrently with Broadcast, is safe.
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	total := len(h.subs)
	h.mu.Unlock()

	sub.close()
	if !ok {
		return
	}

	metrics.PushChannels.WithLabelValues(sub.Transport).Dec()
	h.logger.Info().
		Str("subscription", sub.ID.String()).
		Str("transport", sub.Transport).
		Int("total", total).
		Msg("push channel removed")
}

// Len returns the number of registered channels
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues e on every channel without blocking and returns how many accepted it.
// Channels with a full queue are reaped; their clients reconnect and resync.
func (h *Hub) Broadcast(e Event) int {
	// スナップショットを取ってからロックを外し、送信中の登録解除と競合しないようにする
	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	var dead []*Subscription
	for _, sub := range snapshot {
		select {
		case <-sub.done:
			continue
		default:
		}

		select {
		case sub.events <- e:
			delivered++
		default:
			dead = append(dead, sub)
		}
	}

	for _, sub := range dead {
		metrics.PushDropped.Inc()
		h.logger.Warn().
			Str("subscription", sub.ID.String()).
			Str("event", e.Name).
			Msg("push channel queue full, dropping channel")
		h.Unregister(sub)
	}

	metrics.PushEvents.WithLabelValues(e.Name).Inc()
	return delivered
}

// Run drives the store poll and the heartbeat until ctx is done, then closes every channel
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if h.source != nil {
		g.Go(func() error {
			return h.every(ctx, h.opts.PollInterval, h.pollOnce)
		})
	}
	g.Go(func() error {
		return h.every(ctx, h.opts.HeartbeatInterval, func(context.Context) {
			h.Broadcast(Heartbeat())
		})
	})

	err := g.Wait()
	h.closeAll()
	return err
}

func (h *Hub) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// pollOnce counts recent messages and announces them. Store errors never stop the hub.
func (h *Hub) pollOnce(ctx context.Context) {
	if h.Len() == 0 {
		return
	}

	count, err := h.source.CountSince(ctx, h.now().Add(-h.opts.Lookback))
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Error().Err(err).Msg("failed to poll store for new messages")
		}
		return
	}
	if count > 0 {
		h.Broadcast(NewMessages(count))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	for _, sub := range snapshot {
		h.Unregister(sub)
	}
}
