package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/handler"
	"feedsync/internal/store"
)

// newTestServer 実際のルーターをメモリ上の SQLite で起動
func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*handler.Handler, *httptest.Server) {
	t.Helper()

	cfg := config.Config{
		Feed: config.FeedConfig{DefaultLimit: 5000, MaxLimit: 100000, ClearConfirmCode: "1234", MaxFileSizeMB: 100},
		Push: config.PushConfig{
			PollInterval:   10 * time.Millisecond,
			PollMaxTimeout: 2 * time.Second,
			PollDefault:    100 * time.Millisecond,
		},
		AI:    config.AIConfig{ChatModel: "gpt-4o-mini", Timeout: 2 * time.Second},
		Limit: config.LimitConfig{ChatWindow: time.Minute, ChatMax: 10, ImageWindow: time.Minute, ImageMax: 5, SweepEach: time.Minute},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	st, err := store.NewSQLite(ctx, db)
	require.NoError(t, err)

	h := handler.New(st, cfg, nil, zerolog.Nop())
	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})
	return h, srv
}

// TestSSEReader イベントの区切りとフィールド解析
func TestSSEReader(t *testing.T) {
	raw := ": comment\r\n" +
		"event: connection\n" +
		"data: connected\n\n" +
		"event: message\n" +
		"data: {\"newMessages\":2}\n\n" +
		"data: line one\n" +
		"data: line two\n" +
		"id: 7\n\n" +
		"event: heartbeat\n" +
		"data: ping"

	r := NewSSEReader(strings.NewReader(raw))

	tests := []struct {
		name string
		data string
	}{
		{"connection", "connected"},
		{"message", `{"newMessages":2}`},
		{"", "line one\nline two"},
		{"heartbeat", "ping"},
	}
	for _, tt := range tests {
		name, data, err := r.ReadEvent()
		require.NoError(t, err)
		assert.Equal(t, tt.name, name)
		assert.Equal(t, tt.data, string(data))
	}

	_, _, err := r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

// TestSSEReader_RejectsHugeEvent 上限を超えるイベント
func TestSSEReader_RejectsHugeEvent(t *testing.T) {
	raw := "data: " + strings.Repeat("x", maxEventSize) + "\n\n"
	_, _, err := NewSSEReader(strings.NewReader(raw)).ReadEvent()
	assert.Error(t, err)
}

// TestClient_Messages 送信・取得・削除・全消去
func TestClient_Messages(t *testing.T) {
	_, srv := newTestServer(t)
	c := New(srv.URL, WithDeviceID("dev-cli"))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		msg, err := c.Send(ctx, fmt.Sprintf("hello %d", i))
		require.NoError(t, err)
		assert.EqualValues(t, i, msg.ID)
		assert.Equal(t, "dev-cli", msg.DeviceID)
	}

	all, err := c.Messages(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "hello 1", all[0].Content)

	tail, err := c.Messages(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, []int64{tail[0].ID, tail[1].ID})

	older, err := c.Messages(ctx, Query{Limit: 2, Offset: 2, BeforeID: 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, []int64{older[0].ID, older[1].ID})

	require.NoError(t, c.Delete(ctx, 3))
	err = c.Delete(ctx, 3)
	assert.True(t, IsNotFound(err))

	_, err = c.Clear(ctx, "0000")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "validation", apiErr.Code)

	stats, err := c.Clear(ctx, "1234")
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.DeletedMessages)

	require.NoError(t, c.Sync(ctx, "laptop"))

	ai, err := c.SaveAI(ctx, "an answer")
	require.NoError(t, err)
	assert.Equal(t, "ai_response", string(ai.Type))
}

// TestClient_Poll 新着の有無
func TestClient_Poll(t *testing.T) {
	_, srv := newTestServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	res, err := c.Poll(ctx, 0, 0)
	require.NoError(t, err)
	assert.False(t, res.HasNew)

	_, err = c.Send(ctx, "x")
	require.NoError(t, err)

	res, err = c.Poll(ctx, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, res.HasNew)
	assert.Equal(t, 1, res.Count)
}

// TestClient_ChatStream ストリーム応答の受信
func TestClient_ChatStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		for _, part := range []string{"Hel", "lo ", "there"} {
			io.WriteString(w, part)
			w.(http.Flusher).Flush()
		}
	}))
	defer upstream.Close()

	_, srv := newTestServer(t, func(c *config.Config) {
		c.AI.ChatEnabled = true
		c.AI.ChatAPIKey = "sk-test"
		c.AI.ChatBaseURL = upstream.URL
	})

	var echoed strings.Builder
	reply, err := New(srv.URL).Chat(context.Background(), "hi", &echoed)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply)
	assert.Equal(t, "Hello there", echoed.String())
}

// TestClient_ChatDisabled 無効時のエラー
func TestClient_ChatDisabled(t *testing.T) {
	_, srv := newTestServer(t)

	_, err := New(srv.URL).Chat(context.Background(), "hi", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "not_enabled", apiErr.Code)
}

type recorder struct {
	mu      sync.Mutex
	changes int
	deleted []int64
	clears  int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnChange: func(context.Context) {
			r.mu.Lock()
			r.changes++
			r.mu.Unlock()
		},
		OnDelete: func(id int64) {
			r.mu.Lock()
			r.deleted = append(r.deleted, id)
			r.mu.Unlock()
		},
		OnClear: func() {
			r.mu.Lock()
			r.clears++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() (int, []int64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes, append([]int64(nil), r.deleted...), r.clears
}

// TestRealtime_SSE プッシュイベントをハンドラーへ振り分ける
func TestRealtime_SSE(t *testing.T) {
	h, srv := newTestServer(t)
	c := New(srv.URL)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := NewRealtime(c, rec.handlers(), RealtimeOptions{BackoffMin: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// connection イベントで初回同期
	require.Eventually(t, func() bool {
		changes, _, _ := rec.snapshot()
		return changes >= 1 && h.Hub.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, TransportSSE, rt.Transport())

	msg, err := c.Send(ctx, "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		changes, _, _ := rec.snapshot()
		return changes >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Delete(ctx, msg.ID))
	_, err = c.Clear(ctx, "1234")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, deleted, clears := rec.snapshot()
		return len(deleted) == 1 && clears == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, deleted, _ := rec.snapshot()
	assert.Equal(t, []int64{msg.ID}, deleted)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// TestRealtime_FallsBackToPoll SSE が使えない場合は long-poll に切り替え、同時には使わない
func TestRealtime_FallsBackToPoll(t *testing.T) {
	var active, maxActive, sseAttempts, polls atomic.Int32
	enter := func() {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				return
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		enter()
		defer active.Add(-1)
		sseAttempts.Add(1)
		http.Error(w, `{"success":false,"code":"internal","message":"down"}`, http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/api/poll", func(w http.ResponseWriter, r *http.Request) {
		enter()
		defer active.Add(-1)
		polls.Add(1)
		assert.Equal(t, "42", r.URL.Query().Get("lastMessageId"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"hasNewMessages":true,"newMessageCount":1}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rec := &recorder{}
	hs := rec.handlers()
	hs.LastID = func() int64 { return 42 }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := NewRealtime(New(srv.URL), hs, RealtimeOptions{
		BackoffMin:         time.Millisecond,
		BackoffMax:         5 * time.Millisecond,
		FailuresBeforePoll: 2,
		PollRounds:         3,
	})
	go rt.Run(ctx)

	require.Eventually(t, func() bool {
		changes, _, _ := rec.snapshot()
		return changes >= 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, sseAttempts.Load(), int32(2))
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
	assert.Equal(t, int32(1), maxActive.Load())
}

// TestRealtime_HeartbeatTimeout 無通信の接続は張り直す
func TestRealtime_HeartbeatTimeout(t *testing.T) {
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connects.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: connection\ndata: connected\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := NewRealtime(New(srv.URL), Handlers{}, RealtimeOptions{
		HeartbeatTimeout: 50 * time.Millisecond,
		BackoffMin:       time.Millisecond,
	})
	go rt.Run(ctx)

	require.Eventually(t, func() bool {
		return connects.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
