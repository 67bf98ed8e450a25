package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryAt(t0 time.Time) (*Memory, *fakeClock) {
	clk := &fakeClock{now: t0}
	m := NewMemory()
	m.now = clk.Now
	return m, clk
}

// TestMemory_BurstRejectsAfterMax max 回まで許可し、次は拒否
func TestMemory_BurstRejectsAfterMax(t *testing.T) {
	m, _ := newMemoryAt(time.Unix(1000, 0))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := m.Admit(ctx, "chat:10.0.0.1", time.Minute, 10)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 10-i-1, d.Remaining)
	}

	d, err := m.Admit(ctx, "chat:10.0.0.1", time.Minute, 10)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60*time.Second, d.RetryAfter)
}

// TestMemory_WindowElapses ウィンドウ経過後は再び許可
func TestMemory_WindowElapses(t *testing.T) {
	m, clk := newMemoryAt(time.Unix(1000, 0))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := m.Admit(ctx, "image:ip", time.Minute, 5)
		require.NoError(t, err)
	}
	d, _ := m.Admit(ctx, "image:ip", time.Minute, 5)
	require.False(t, d.Allowed)

	clk.Advance(time.Minute + time.Millisecond)

	d, err := m.Admit(ctx, "image:ip", time.Minute, 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

// TestMemory_RejectionDoesNotRecord 拒否されたリクエストは記録されない
func TestMemory_RejectionDoesNotRecord(t *testing.T) {
	m, clk := newMemoryAt(time.Unix(1000, 0))
	ctx := context.Background()

	_, _ = m.Admit(ctx, "k", 10*time.Second, 1)
	clk.Advance(9 * time.Second)
	d, _ := m.Admit(ctx, "k", 10*time.Second, 1)
	require.False(t, d.Allowed)

	// 最初のリクエストから10秒経過すれば許可される
	clk.Advance(1001 * time.Millisecond)
	d, _ = m.Admit(ctx, "k", 10*time.Second, 1)
	assert.True(t, d.Allowed)
}

// TestMemory_KeysAreIndependent キーごとに独立
func TestMemory_KeysAreIndependent(t *testing.T) {
	m, _ := newMemoryAt(time.Unix(1000, 0))
	ctx := context.Background()

	d, _ := m.Admit(ctx, "chat:a", time.Minute, 1)
	require.True(t, d.Allowed)
	d, _ = m.Admit(ctx, "chat:a", time.Minute, 1)
	require.False(t, d.Allowed)

	d, _ = m.Admit(ctx, "chat:b", time.Minute, 1)
	assert.True(t, d.Allowed)
	d, _ = m.Admit(ctx, "image:a", time.Minute, 1)
	assert.True(t, d.Allowed)
}

// TestMemory_Sweep 空になったキーを削除
func TestMemory_Sweep(t *testing.T) {
	m, clk := newMemoryAt(time.Unix(1000, 0))
	ctx := context.Background()

	_, _ = m.Admit(ctx, "old", time.Minute, 3)
	clk.Advance(50 * time.Second)
	_, _ = m.Admit(ctx, "new", time.Minute, 3)
	clk.Advance(20 * time.Second)

	assert.Equal(t, 1, m.Sweep(time.Minute))
	assert.Equal(t, 1, m.Keys())
}

// TestRetryAfterSeconds 切り上げ
func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
	assert.Equal(t, 2, RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 1, RetryAfterSeconds(time.Millisecond))
}

// TestMemory_ConcurrentAdmitsNeverExceedMax 並行リクエストでも上限を超えない
func TestMemory_ConcurrentAdmitsNeverExceedMax(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.Admit(ctx, "shared", time.Minute, 10)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

// TestRedis_Burst REDIS_URL がある場合のみ実行
func TestRedis_Burst(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping: TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	r := NewRedis(client)
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	defer client.Del(ctx, r.prefix+key)

	for i := 0; i < 3; i++ {
		d, err := r.Admit(ctx, key, time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := r.Admit(ctx, key, time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60*time.Second, d.RetryAfter)
}
