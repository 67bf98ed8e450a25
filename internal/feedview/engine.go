package feedview

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"feedsync/internal/model"
)

// Outcome describes what a reconciliation did to the view
type Outcome int

const (
	// OutcomeDropped means another reconciliation was in flight
	OutcomeDropped Outcome = iota
	// OutcomeUnchanged means the fetched window matched the view
	OutcomeUnchanged
	// OutcomeAppended means only newer messages were added
	OutcomeAppended
	// OutcomeReplaced means the view was swapped for the fetched window
	OutcomeReplaced
	// OutcomeReanchored means the view was replaced and scrolled to keep a surviving item in place
	OutcomeReanchored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeAppended:
		return "appended"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeReanchored:
		return "reanchored"
	}
	return "unknown"
}

// Options tunes the sync and pagination engines
type Options struct {
	// Window is how many recent messages a reconciliation fetches
	Window    int
	MaxWindow int
}

func (o Options) withDefaults() Options {
	if o.MaxWindow <= 0 {
		o.MaxWindow = 100000
	}
	if o.Window <= 0 {
		o.Window = 5000
	}
	if o.Window > o.MaxWindow {
		o.Window = o.MaxWindow
	}
	return o
}

// SyncOptions modifies a single reconciliation
type SyncOptions struct {
	// Reset discards the view and reloads it
	Reset bool
	// ForceScroll scrolls to the newest item even when nothing changed, as after a local send
	ForceScroll bool
}

// Engine reconciles a View with the server
type Engine struct {
	view    *View
	fetcher Fetcher
	vp      Viewport
	opts    Options
	logger  zerolog.Logger
	syncing atomic.Bool
}

// NewEngine creates an engine driving view through vp
func NewEngine(view *View, fetcher Fetcher, vp Viewport, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		view:    view,
		fetcher: fetcher,
		vp:      vp,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "feedview").Logger(),
	}
}

func (e *Engine) View() *View {
	return e.view
}

// Sync reconciles the view with the newest window of the feed.
// A call made while another is in flight returns OutcomeDropped without fetching.
func (e *Engine) Sync(ctx context.Context, o SyncOptions) (Outcome, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return OutcomeDropped, nil
	}
	defer e.syncing.Store(false)

	prev := e.view.Messages()
	first := len(prev) == 0

	fetched, err := e.fetcher.Fetch(ctx, Page{Limit: e.opts.Window})
	if err != nil {
		if first {
			// 初回失敗は空表示
			e.vp.Render(nil)
			return OutcomeUnchanged, fmt.Errorf("initial load failed: %w", err)
		}
		return OutcomeUnchanged, fmt.Errorf("refresh failed: %w", err)
	}
	hasMore := len(fetched) >= e.opts.Window

	if first || o.Reset {
		e.view.replace(fetched, hasMore)
		e.vp.Render(e.view.Messages())
		e.vp.ScrollToBottom()
		return OutcomeReplaced, nil
	}

	if !o.ForceScroll && !e.vp.AtBottom() {
		return e.reconcileAway(prev, fetched, hasMore), nil
	}

	if !changed(prev, fetched) {
		if o.ForceScroll {
			e.vp.ScrollToBottom()
		}
		e.view.setHasMore(hasMore)
		return OutcomeUnchanged, nil
	}

	e.view.replace(fetched, hasMore)
	e.vp.Render(e.view.Messages())
	e.vp.ScrollToBottom()
	return OutcomeReplaced, nil
}

// reconcileAway handles a refresh while the user is reading older messages
func (e *Engine) reconcileAway(prev, fetched []model.Message, hasMore bool) Outcome {
	lastID := prev[len(prev)-1].ID

	for i, m := range fetched {
		if m.ID != lastID {
			continue
		}
		if e.view.appendTail(fetched[i+1:]) == 0 {
			return OutcomeUnchanged
		}
		e.vp.Render(e.view.Messages())
		return OutcomeAppended
	}

	// 末尾が見つからない（削除・全消去後など）場合は置き換えて表示位置を保つ
	if !hasNewIDs(prev, fetched) && len(prev) == len(fetched) {
		return OutcomeUnchanged
	}
	anchorID, offset, ok := e.vp.TopVisible()
	e.view.replace(fetched, hasMore)
	msgs := e.view.Messages()
	e.vp.Render(msgs)

	if ok {
		if id, found := nearest(msgs, anchorID); found {
			e.vp.ScrollToItem(id, offset)
		}
	}
	e.logger.Debug().Int64("last_id", lastID).Int("fetched", len(fetched)).Msg("tail not found, view replaced")
	return OutcomeReanchored
}

// ApplyDelete removes id after a messageDeleted event
func (e *Engine) ApplyDelete(id int64) bool {
	if !e.view.remove(id) {
		return false
	}
	e.vp.Render(e.view.Messages())
	return true
}

// Clear empties the view after a clearAll event
func (e *Engine) Clear() {
	e.view.reset()
	e.vp.Render(nil)
}

// hasNewIDs reports whether fetched holds any id missing from prev
func hasNewIDs(prev, fetched []model.Message) bool {
	known := make(map[int64]struct{}, len(prev))
	for _, m := range prev {
		known[m.ID] = struct{}{}
	}
	for _, m := range fetched {
		if _, ok := known[m.ID]; !ok {
			return true
		}
	}
	return false
}

// nearest returns the id of the surviving message closest to target, preferring older ones
func nearest(msgs []model.Message, target int64) (int64, bool) {
	if len(msgs) == 0 {
		return 0, false
	}
	best := msgs[0].ID
	for _, m := range msgs {
		if m.ID > target {
			break
		}
		best = m.ID
	}
	return best, true
}
