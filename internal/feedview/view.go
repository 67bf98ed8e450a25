// Package feedview keeps a client-side partial copy of the feed consistent with the server.
package feedview

import (
	"context"
	"slices"
	"sync"

	"feedsync/internal/model"
)

// Page selects a window of the feed. Offset counts back from the newest message;
// a positive BeforeID takes precedence.
type Page struct {
	Limit    int
	Offset   int
	BeforeID int64
}

// Fetcher loads a window of the feed ordered by id ascending
type Fetcher interface {
	Fetch(ctx context.Context, p Page) ([]model.Message, error)
}

// FetchFunc adapts a function to Fetcher
type FetchFunc func(ctx context.Context, p Page) ([]model.Message, error)

func (f FetchFunc) Fetch(ctx context.Context, p Page) ([]model.Message, error) {
	return f(ctx, p)
}

// Viewport is the rendering surface a View is shown in.
// Heights and offsets are in pixels (or rows, for terminal surfaces).
type Viewport interface {
	// Render redraws the surface with msgs
	Render(msgs []model.Message)
	// AtBottom reports whether the newest item is visible
	AtBottom() bool
	ScrollToBottom()
	ScrollTop() float64
	SetScrollTop(top float64)
	ContentHeight() float64
	// TopVisible returns the first visible item and its offset from the top edge
	TopVisible() (id int64, offset float64, ok bool)
	// ScrollToItem positions item id at offset from the top edge
	ScrollToItem(id int64, offset float64)
}

// Cursor describes how much history is loaded
type Cursor struct {
	OldestID int64
	Loaded   int
	HasMore  bool
}

// View is the ordered, deduplicated set of messages currently loaded
type View struct {
	mu     sync.RWMutex
	msgs   []model.Message
	index  map[int64]struct{}
	cursor Cursor
	// gen は置き換えのたびに増える
	gen uint64
}

// NewView creates an empty view
func NewView() *View {
	return &View{index: make(map[int64]struct{})}
}

// Messages returns a copy of the loaded messages, ascending by id
func (v *View) Messages() []model.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.msgs)
}

// position returns the cursor together with the generation it belongs to
func (v *View) position() (Cursor, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cursor, v.gen
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.msgs)
}

func (v *View) Cursor() Cursor {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cursor
}

// Generation changes whenever the view is replaced or cleared
func (v *View) Generation() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.gen
}

func (v *View) Contains(id int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.index[id]
	return ok
}

// LastID returns the newest loaded id, or 0 when empty
func (v *View) LastID() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.msgs) == 0 {
		return 0
	}
	return v.msgs[len(v.msgs)-1].ID
}

// replace swaps in msgs wholesale. Duplicates and out-of-order entries are dropped.
func (v *View) replace(msgs []model.Message, hasMore bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.msgs = v.msgs[:0:0]
	v.index = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := v.index[m.ID]; dup {
			continue
		}
		if n := len(v.msgs); n > 0 && m.ID < v.msgs[n-1].ID {
			continue
		}
		v.index[m.ID] = struct{}{}
		v.msgs = append(v.msgs, m)
	}
	v.cursor.HasMore = hasMore
	v.gen++
	v.refreshCursor()
}

// appendTail adds messages newer than the current tail and returns how many were added
func (v *View) appendTail(msgs []model.Message) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if _, dup := v.index[m.ID]; dup {
			continue
		}
		if n := len(v.msgs); n > 0 && m.ID < v.msgs[n-1].ID {
			continue
		}
		v.index[m.ID] = struct{}{}
		v.msgs = append(v.msgs, m)
		added++
	}
	v.refreshCursor()
	return added
}

// prepend adds messages older than the current head and returns how many were added.
// Nothing changes and ok is false when the view was replaced or cleared since gen was read.
// exhausted clears has-more in the same step.
func (v *View) prepend(gen uint64, msgs []model.Message, exhausted bool) (added int, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gen != gen {
		return 0, false
	}

	oldest := v.cursor.OldestID
	older := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := v.index[m.ID]; dup {
			continue
		}
		if oldest > 0 && m.ID >= oldest {
			continue
		}
		if n := len(older); n > 0 && m.ID <= older[n-1].ID {
			continue
		}
		older = append(older, m)
	}
	for _, m := range older {
		v.index[m.ID] = struct{}{}
	}
	v.msgs = append(older, v.msgs...)
	if exhausted {
		v.cursor.HasMore = false
	}
	v.refreshCursor()
	return len(older), true
}

// remove drops id from the view and reports whether it was present
func (v *View) remove(id int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.index[id]; !ok {
		return false
	}
	delete(v.index, id)
	v.msgs = slices.DeleteFunc(v.msgs, func(m model.Message) bool { return m.ID == id })
	v.refreshCursor()
	return true
}

func (v *View) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.msgs = nil
	v.index = make(map[int64]struct{})
	v.cursor = Cursor{}
	v.gen++
}

func (v *View) setHasMore(hasMore bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cursor.HasMore = hasMore
}

// refreshCursor は mu を保持した状態で呼ぶ
func (v *View) refreshCursor() {
	v.cursor.Loaded = len(v.msgs)
	v.cursor.OldestID = 0
	if len(v.msgs) > 0 {
		v.cursor.OldestID = v.msgs[0].ID
	}
}

// changed reports whether two windows differ in length or in any id/timestamp pair
func changed(prev, next []model.Message) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range prev {
		if !prev[i].SameVersion(next[i]) {
			return true
		}
	}
	return false
}
