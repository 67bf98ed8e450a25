package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults 環境変数なしのデフォルト値テスト
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 5000, cfg.Feed.DefaultLimit)
	assert.Equal(t, 100000, cfg.Feed.MaxLimit)
	assert.Equal(t, 5*time.Second, cfg.Push.BroadcastInterval)
	assert.Equal(t, 30*time.Second, cfg.Push.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.Push.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 10, cfg.Limit.ChatMax)
	assert.Equal(t, 5, cfg.Limit.ImageMax)
	assert.Equal(t, time.Minute, cfg.Limit.ChatWindow)
	assert.Equal(t, time.Minute, cfg.Limit.ImageWindow)
}

// TestLoad_Overrides 環境変数による上書きテスト
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , http://b.example ,")
	t.Setenv("AI_RATE_LIMIT", "3")
	t.Setenv("AI_ENABLED", "true")
	t.Setenv("HEARTBEAT_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.Limit.ChatMax)
	assert.True(t, cfg.AI.ChatEnabled)
	assert.Equal(t, 2*time.Second, cfg.Push.HeartbeatInterval)
}

// TestLoad_RouteWindows ルートごとのウィンドウ設定
func TestLoad_RouteWindows(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("AI_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("IMAGE_RATE_LIMIT_WINDOW", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Limit.ChatWindow)
	assert.Equal(t, 2*time.Minute, cfg.Limit.ImageWindow)
	assert.Equal(t, 2*time.Minute, cfg.Limit.LongestWindow())

	t.Setenv("IMAGE_RATE_LIMIT_WINDOW", "-1s")
	_, err = Load()
	assert.Error(t, err)
}

// TestLoad_InvalidValues 不正な値はエラー
func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"AI_RATE_LIMIT":        "ten",
		"AI_RATE_LIMIT_WINDOW": "1",
		"BROADCAST_INTERVAL":   "5",
		"AI_ENABLED":           "maybe",
		"DB_DRIVER":            "oracle",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// TestLoad_PostgresRequiresURL postgres は DATABASE_URL 必須
func TestLoad_PostgresRequiresURL(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}
