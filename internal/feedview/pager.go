package feedview

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PagerOptions tunes backward loading
type PagerOptions struct {
	BatchSize int
	// Threshold is the distance from the top edge that triggers a load
	Threshold float64
	Debounce  time.Duration
	// OnLoad is called after every scroll-triggered load
	OnLoad func(prepended int, err error)
}

func (o PagerOptions) withDefaults() PagerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 30
	}
	if o.Threshold <= 0 {
		o.Threshold = 80
	}
	if o.Debounce <= 0 {
		o.Debounce = 100 * time.Millisecond
	}
	return o
}

// Pager extends a View backward as the viewport nears its top edge
type Pager struct {
	view    *View
	fetcher Fetcher
	vp      Viewport
	opts    PagerOptions
	logger  zerolog.Logger

	loading  atomic.Bool
	detached atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
	// detachedGen は切り離した時点の世代
	detachedGen uint64
}

// NewPager creates a pager for the engine's view
func NewPager(e *Engine, opts PagerOptions) *Pager {
	return &Pager{
		view:    e.view,
		fetcher: e.fetcher,
		vp:      e.vp,
		opts:    opts.withDefaults(),
		logger:  e.logger,
	}
}

// Detached reports whether scroll events are no longer acted on.
// A pager detached by the end of history re-attaches once the view is replaced with more history behind it.
func (p *Pager) Detached() bool {
	return !p.attached()
}

// Loading reports whether a load is in flight
func (p *Pager) Loading() bool {
	return p.loading.Load()
}

// LoadOlder prepends the batch preceding the oldest loaded message and keeps the viewport anchored.
// It returns the number of messages prepended.
func (p *Pager) LoadOlder(ctx context.Context) (int, error) {
	if !p.attached() || !p.view.Cursor().HasMore {
		return 0, nil
	}
	if !p.loading.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer p.loading.Store(false)

	cur, gen := p.view.position()

	batch, err := p.fetcher.Fetch(ctx, Page{
		Limit:    p.opts.BatchSize,
		Offset:   cur.Loaded,
		BeforeID: cur.OldestID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load older messages: %w", err)
	}

	prevHeight := p.vp.ContentHeight()
	prevTop := p.vp.ScrollTop()

	exhausted := len(batch) < p.opts.BatchSize
	n, ok := p.view.prepend(gen, batch, exhausted)
	if !ok {
		// 取得中に全体が置き換えられた場合は破棄
		p.logger.Debug().Msg("view replaced during load, discarding batch")
		return 0, nil
	}
	if exhausted {
		p.detach(gen)
	}
	if n == 0 {
		return 0, nil
	}

	p.vp.Render(p.view.Messages())
	p.vp.SetScrollTop(prevTop + p.vp.ContentHeight() - prevHeight)
	return n, nil
}

// OnScroll records a scroll position. The check runs once the gesture has been still for Debounce.
func (p *Pager) OnScroll(ctx context.Context, top float64) {
	if !p.attached() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.opts.Debounce, func() {
		if top > p.opts.Threshold || p.loading.Load() || !p.view.Cursor().HasMore {
			return
		}
		n, err := p.LoadOlder(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("loading older messages failed")
		}
		if p.opts.OnLoad != nil {
			p.opts.OnLoad(n, err)
		}
	})
}

// Stop cancels a pending debounced check
func (p *Pager) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimer()
}

// stopTimer は mu を保持した状態で呼ぶ
func (p *Pager) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// detach stops acting on scroll events until the view generation moves past gen
func (p *Pager) detach(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detachedGen = gen
	p.detached.Store(true)
	p.stopTimer()
}

// attached re-arms a detached pager when the view has been replaced and has more history again
func (p *Pager) attached() bool {
	if !p.detached.Load() {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur, gen := p.view.position()
	if gen == p.detachedGen || !cur.HasMore {
		return false
	}
	p.detached.Store(false)
	p.logger.Debug().Uint64("generation", gen).Msg("history available again, pager re-attached")
	return true
}
