package feedview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/model"
)

// fakeFeed サーバー側のログを模倣する
type fakeFeed struct {
	mu    sync.Mutex
	msgs  []model.Message
	next  int64
	calls atomic.Int32
	pages []Page
	err   error
	// gate が設定されていると Fetch はそこで待つ
	gate chan struct{}
}

func newFakeFeed(n int) *fakeFeed {
	f := &fakeFeed{}
	f.add(n)
	return f
}

func (f *fakeFeed) add(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.next++
		f.msgs = append(f.msgs, model.Message{
			ID:        f.next,
			Type:      model.TypeText,
			Content:   fmt.Sprintf("message %d", f.next),
			Timestamp: time.UnixMilli(1_700_000_000_000 + f.next),
		})
	}
}

func (f *fakeFeed) remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.msgs {
		if m.ID == id {
			f.msgs = append(f.msgs[:i], f.msgs[i+1:]...)
			return
		}
	}
}

func (f *fakeFeed) Fetch(ctx context.Context, p Page) ([]model.Message, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, p)
	if f.err != nil {
		return nil, f.err
	}

	src := f.msgs
	if p.BeforeID > 0 {
		cut := len(src)
		for i, m := range src {
			if m.ID >= p.BeforeID {
				cut = i
				break
			}
		}
		src = src[:cut]
	} else {
		end := len(src) - p.Offset
		if end < 0 {
			end = 0
		}
		src = src[:end]
	}
	start := len(src) - p.Limit
	if start < 0 {
		start = 0
	}
	return append([]model.Message(nil), src[start:]...), nil
}

// fakeViewport 各行の高さが一定のスクロール領域
type fakeViewport struct {
	mu       sync.Mutex
	items    []model.Message
	row      float64
	height   float64
	top      float64
	renders  int
	scrolled int
}

func newViewport() *fakeViewport {
	return &fakeViewport{row: 20, height: 100}
}

func (v *fakeViewport) Render(msgs []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = msgs
	v.renders++
}

func (v *fakeViewport) content() float64 {
	return float64(len(v.items)) * v.row
}

func (v *fakeViewport) AtBottom() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top+v.height >= v.content()-1
}

func (v *fakeViewport) ScrollToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrolled++
	v.top = v.content() - v.height
	if v.top < 0 {
		v.top = 0
	}
}

func (v *fakeViewport) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *fakeViewport) SetScrollTop(top float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.top = top
}

func (v *fakeViewport) ContentHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.content()
}

func (v *fakeViewport) TopVisible() (int64, float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.items) == 0 {
		return 0, 0, false
	}
	idx := int(v.top / v.row)
	if idx >= len(v.items) {
		idx = len(v.items) - 1
	}
	return v.items[idx].ID, float64(idx)*v.row - v.top, true
}

func (v *fakeViewport) ScrollToItem(id int64, offset float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, m := range v.items {
		if m.ID == id {
			v.top = float64(i)*v.row - offset
			return
		}
	}
}

func (v *fakeViewport) scrolls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scrolled
}

func idsOf(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func span(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func newEngine(feed *fakeFeed, vp *fakeViewport, window int) *Engine {
	return NewEngine(NewView(), feed, vp, Options{Window: window}, zerolog.Nop())
}

// TestSync_FirstLoad 初回は全体を読み込み最下部へ
func TestSync_FirstLoad(t *testing.T) {
	feed := newFakeFeed(10)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)

	out, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplaced, out)
	assert.Equal(t, span(1, 10), idsOf(e.View().Messages()))
	assert.Equal(t, 1, vp.scrolls())
	assert.True(t, vp.AtBottom())

	cur := e.View().Cursor()
	assert.Equal(t, Cursor{OldestID: 1, Loaded: 10, HasMore: false}, cur)
}

// TestSync_WindowTruncates 取得件数が窓に達したら has-more
func TestSync_WindowTruncates(t *testing.T) {
	feed := newFakeFeed(42)
	e := newEngine(feed, newViewport(), 30)

	_, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, span(13, 42), idsOf(e.View().Messages()))
	assert.True(t, e.View().Cursor().HasMore)
}

// TestSync_Idempotent 変化がなければビューもスクロールも動かない
func TestSync_Idempotent(t *testing.T) {
	feed := newFakeFeed(10)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	before := e.View().Messages()
	top, renders, scrolls := vp.ScrollTop(), vp.renders, vp.scrolls()

	for i := 0; i < 2; i++ {
		out, err := e.Sync(ctx, SyncOptions{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, out)
	}

	assert.Equal(t, before, e.View().Messages())
	assert.Equal(t, top, vp.ScrollTop())
	assert.Equal(t, renders, vp.renders)
	assert.Equal(t, scrolls, vp.scrolls())
}

// TestSync_AppendsSuffixWhenScrolledUp 上方を閲覧中は差分だけ追加しスクロールしない
func TestSync_AppendsSuffixWhenScrolledUp(t *testing.T) {
	feed := newFakeFeed(7)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	// 上方にスクロール
	vp.SetScrollTop(0)
	require.False(t, vp.AtBottom())

	feed.add(5)
	out, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAppended, out)
	assert.Equal(t, span(1, 12), idsOf(e.View().Messages()))
	assert.Equal(t, 0.0, vp.ScrollTop())
	assert.Equal(t, 1, vp.scrolls())
}

// TestSync_ReplacesAtBottom 最下部にいる場合は置き換えて追従
func TestSync_ReplacesAtBottom(t *testing.T) {
	feed := newFakeFeed(10)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	feed.add(2)
	out, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplaced, out)
	assert.Equal(t, span(1, 12), idsOf(e.View().Messages()))
	assert.Equal(t, 2, vp.scrolls())
	assert.True(t, vp.AtBottom())
}

// TestSync_ReanchorsWhenTailMissing 既知の末尾が消えた場合は表示位置を保って置き換え
func TestSync_ReanchorsWhenTailMissing(t *testing.T) {
	feed := newFakeFeed(10)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	// id 4 の行が先頭に見えている状態
	vp.SetScrollTop(60)
	anchor, _, _ := vp.TopVisible()
	require.EqualValues(t, 4, anchor)

	feed.remove(10)
	feed.remove(2)
	out, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeReanchored, out)
	assert.Equal(t, []int64{1, 3, 4, 5, 6, 7, 8, 9}, idsOf(e.View().Messages()))

	id, offset, ok := vp.TopVisible()
	require.True(t, ok)
	assert.EqualValues(t, 4, id)
	assert.Equal(t, 0.0, offset)
	assert.Equal(t, 1, vp.scrolls())
}

// TestSync_TailMissingWithoutNewIDsKeepsView 新しい id も件数の変化もなければ置き換えない
func TestSync_TailMissingWithoutNewIDsKeepsView(t *testing.T) {
	feed := newFakeFeed(10)
	vp := newViewport()
	stale := false
	fetcher := FetchFunc(func(ctx context.Context, p Page) ([]model.Message, error) {
		msgs, err := feed.Fetch(ctx, p)
		if stale && err == nil {
			// 末尾が抜けて直前の行が重複した応答
			msgs = append(msgs[:len(msgs)-1], msgs[len(msgs)-2])
		}
		return msgs, err
	})
	e := NewEngine(NewView(), fetcher, vp, Options{Window: 5000}, zerolog.Nop())
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	vp.SetScrollTop(0)
	gen := e.View().Generation()
	renders := vp.renders

	stale = true
	out, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnchanged, out)
	assert.Equal(t, span(1, 10), idsOf(e.View().Messages()))
	assert.Equal(t, gen, e.View().Generation())
	assert.Equal(t, renders, vp.renders)
}

// TestSync_ConcurrentClear 別ゴルーチンの全消去と競合しても落ちない
func TestSync_ConcurrentClear(t *testing.T) {
	feed := newFakeFeed(20)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				e.Clear()
			}
		}
	}()

	for i := 0; i < 500; i++ {
		vp.SetScrollTop(0)
		_, err := e.Sync(ctx, SyncOptions{})
		require.NoError(t, err)
	}
	close(stop)
	<-done
}

// TestSync_ForceScroll 自分の送信後は変化がなくても最下部へ
func TestSync_ForceScroll(t *testing.T) {
	feed := newFakeFeed(10)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	vp.SetScrollTop(0)

	feed.add(1)
	out, err := e.Sync(ctx, SyncOptions{ForceScroll: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, out)
	assert.True(t, vp.AtBottom())
}

// TestSync_Reset 明示的なリセット
func TestSync_Reset(t *testing.T) {
	feed := newFakeFeed(3)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	gen := e.View().Generation()

	out, err := e.Sync(ctx, SyncOptions{Reset: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, out)
	assert.NotEqual(t, gen, e.View().Generation())
}

// TestSync_DropsConcurrent 進行中の同期があれば破棄する
func TestSync_DropsConcurrent(t *testing.T) {
	feed := newFakeFeed(5)
	feed.gate = make(chan struct{})
	e := newEngine(feed, newViewport(), 5000)

	done := make(chan Outcome)
	go func() {
		out, _ := e.Sync(context.Background(), SyncOptions{})
		done <- out
	}()
	require.Eventually(t, func() bool { return feed.calls.Load() == 1 }, time.Second, time.Millisecond)

	out, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, out)

	close(feed.gate)
	assert.Equal(t, OutcomeReplaced, <-done)
	assert.EqualValues(t, 1, feed.calls.Load())
}

// TestSync_Failures 初回失敗は空表示、以降はビューを保持
func TestSync_Failures(t *testing.T) {
	feed := newFakeFeed(3)
	feed.err = errors.New("offline")
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, vp.renders)
	assert.Empty(t, vp.items)

	feed.err = nil
	_, err = e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	feed.err = errors.New("offline")
	_, err = e.Sync(ctx, SyncOptions{})
	require.Error(t, err)
	assert.Equal(t, span(1, 3), idsOf(e.View().Messages()))
}

// TestApplyDeleteAndClear 削除・全消去イベント
func TestApplyDeleteAndClear(t *testing.T) {
	feed := newFakeFeed(5)
	vp := newViewport()
	e := newEngine(feed, vp, 5000)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	assert.True(t, e.ApplyDelete(1))
	assert.False(t, e.ApplyDelete(1))
	assert.Equal(t, span(2, 5), idsOf(e.View().Messages()))
	assert.EqualValues(t, 2, e.View().Cursor().OldestID)

	e.Clear()
	assert.Zero(t, e.View().Len())
	assert.Equal(t, Cursor{}, e.View().Cursor())
	assert.Empty(t, vp.items)
}

// TestLoadOlder_PrependsAndAnchors 古い履歴の追加とスクロール位置の維持
func TestLoadOlder_PrependsAndAnchors(t *testing.T) {
	feed := newFakeFeed(72)
	vp := newViewport()
	e := newEngine(feed, vp, 30)
	p := NewPager(e, PagerOptions{BatchSize: 30})
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, span(43, 72), idsOf(e.View().Messages()))

	vp.SetScrollTop(10)
	anchor, offset, _ := vp.TopVisible()

	n, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, span(13, 72), idsOf(e.View().Messages()))

	// 追加された高さ分だけスクロール位置が進む
	assert.Equal(t, 10.0+30*20, vp.ScrollTop())
	gotAnchor, gotOffset, _ := vp.TopVisible()
	assert.Equal(t, anchor, gotAnchor)
	assert.Equal(t, offset, gotOffset)

	last := feed.pages[len(feed.pages)-1]
	assert.Equal(t, Page{Limit: 30, Offset: 30, BeforeID: 43}, last)
	assert.True(t, e.View().Cursor().HasMore)
	assert.False(t, p.Detached())
}

// TestLoadOlder_ShortBatchDetaches 残り12件なら12件追加して以降は読み込まない
func TestLoadOlder_ShortBatchDetaches(t *testing.T) {
	feed := newFakeFeed(42)
	vp := newViewport()
	e := newEngine(feed, vp, 30)
	p := NewPager(e, PagerOptions{BatchSize: 30, Debounce: 5 * time.Millisecond})
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	n, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, span(1, 42), idsOf(e.View().Messages()))
	assert.False(t, e.View().Cursor().HasMore)
	assert.True(t, p.Detached())

	calls := feed.calls.Load()
	p.OnScroll(ctx, 0)
	time.Sleep(30 * time.Millisecond)
	n, err = p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, calls, feed.calls.Load())
}

// TestLoadOlder_ReattachesAfterReset 履歴の終端で止まっても、置き換え後に続きがあれば再開する
func TestLoadOlder_ReattachesAfterReset(t *testing.T) {
	feed := newFakeFeed(42)
	e := newEngine(feed, newViewport(), 30)
	p := NewPager(e, PagerOptions{BatchSize: 30})
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	n, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.True(t, p.Detached())

	feed.add(100)
	_, err = e.Sync(ctx, SyncOptions{Reset: true})
	require.NoError(t, err)
	assert.Equal(t, span(113, 142), idsOf(e.View().Messages()))
	assert.True(t, e.View().Cursor().HasMore)
	assert.False(t, p.Detached())

	n, err = p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, span(83, 142), idsOf(e.View().Messages()))
}

// TestLoadOlder_ReattachesAfterBottomReplace 窓を超えて増えた後の置き換えでも再開する
func TestLoadOlder_ReattachesAfterBottomReplace(t *testing.T) {
	feed := newFakeFeed(42)
	vp := newViewport()
	e := newEngine(feed, vp, 30)
	p := NewPager(e, PagerOptions{BatchSize: 30})
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	_, err = p.LoadOlder(ctx)
	require.NoError(t, err)
	require.True(t, p.Detached())

	// 最下部のまま新着 5 件
	vp.ScrollToBottom()
	feed.add(5)
	out, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, OutcomeReplaced, out)
	assert.Equal(t, span(18, 47), idsOf(e.View().Messages()))
	assert.False(t, p.Detached())

	n, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.Equal(t, span(1, 47), idsOf(e.View().Messages()))
	assert.True(t, p.Detached())
}

// TestLoadOlder_StaysDetachedWithoutMoreHistory 置き換え後も続きがなければ切り離したまま
func TestLoadOlder_StaysDetachedWithoutMoreHistory(t *testing.T) {
	feed := newFakeFeed(42)
	e := newEngine(feed, newViewport(), 30)
	p := NewPager(e, PagerOptions{BatchSize: 30})
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	_, err = p.LoadOlder(ctx)
	require.NoError(t, err)

	e.Clear()
	assert.True(t, p.Detached())

	calls := feed.calls.Load()
	n, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, calls, feed.calls.Load())
}

// TestViewPrepend_RejectsStaleGeneration 置き換え後の古い世代の追加は無視される
func TestViewPrepend_RejectsStaleGeneration(t *testing.T) {
	feed := newFakeFeed(90)
	all, err := feed.Fetch(context.Background(), Page{Limit: 90})
	require.NoError(t, err)

	v := NewView()
	v.replace(all[30:60], true)
	gen := v.Generation()
	v.replace(all[60:], true)

	n, ok := v.prepend(gen, all[:30], true)
	assert.False(t, ok)
	assert.Zero(t, n)
	assert.Equal(t, span(61, 90), idsOf(v.Messages()))
	assert.True(t, v.Cursor().HasMore)

	n, ok = v.prepend(v.Generation(), all[30:60], true)
	assert.True(t, ok)
	assert.Equal(t, 30, n)
	assert.Equal(t, span(31, 90), idsOf(v.Messages()))
	assert.False(t, v.Cursor().HasMore)
}

// TestLoadOlder_NoDuplicates 取得結果に既知の id が混じっても重複しない
func TestLoadOlder_NoDuplicates(t *testing.T) {
	feed := newFakeFeed(40)
	e := newEngine(feed, newViewport(), 30)
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	overlap := FetchFunc(func(ctx context.Context, p Page) ([]model.Message, error) {
		msgs, err := feed.Fetch(ctx, Page{Limit: p.Limit + 5, Offset: p.Offset - 5})
		return msgs, err
	})
	p := NewPager(NewEngine(e.View(), overlap, newViewport(), Options{Window: 30}, zerolog.Nop()), PagerOptions{BatchSize: 30})

	n, err := p.LoadOlder(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, span(1, 40), idsOf(e.View().Messages()))
}

// TestLoadOlder_DiscardsAfterReplace 取得中に置き換えが起きたら結果を捨てる
func TestLoadOlder_DiscardsAfterReplace(t *testing.T) {
	feed := newFakeFeed(60)
	e := newEngine(feed, newViewport(), 30)
	ctx := context.Background()
	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	gate := make(chan struct{})
	slow := FetchFunc(func(ctx context.Context, p Page) ([]model.Message, error) {
		<-gate
		return feed.Fetch(ctx, p)
	})
	p := NewPager(NewEngine(e.View(), slow, newViewport(), Options{Window: 30}, zerolog.Nop()), PagerOptions{BatchSize: 30})

	result := make(chan int)
	go func() {
		n, _ := p.LoadOlder(ctx)
		result <- n
	}()
	require.Eventually(t, p.Loading, time.Second, time.Millisecond)

	_, err = e.Sync(ctx, SyncOptions{Reset: true})
	require.NoError(t, err)
	close(gate)

	assert.Zero(t, <-result)
	assert.Equal(t, span(31, 60), idsOf(e.View().Messages()))
}

// TestOnScroll_Debounces 連続したスクロールでは1回だけ読み込む
func TestOnScroll_Debounces(t *testing.T) {
	feed := newFakeFeed(100)
	vp := newViewport()
	e := newEngine(feed, vp, 30)

	loaded := make(chan int, 4)
	p := NewPager(e, PagerOptions{
		BatchSize: 30,
		Debounce:  20 * time.Millisecond,
		OnLoad:    func(n int, err error) { loaded <- n },
	})
	ctx := context.Background()

	_, err := e.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	calls := feed.calls.Load()

	for _, top := range []float64{300, 200, 120, 60, 10} {
		p.OnScroll(ctx, top)
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case n := <-loaded:
		assert.Equal(t, 30, n)
	case <-time.After(time.Second):
		t.Fatal("scroll near the top did not trigger a load")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls+1, feed.calls.Load())

	// しきい値より下では読み込まない
	p.OnScroll(ctx, 500)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls+1, feed.calls.Load())
	assert.Empty(t, loaded)
}
