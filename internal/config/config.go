package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// データベース接続設定
	DBDriver     string // sqlite | mysql | postgres
	DatabasePath string
	DatabaseURL  string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string

	// 空の場合はメモリ上のレートリミッターを使う
	RedisURL string

	// 空の場合は認証なし
	JWTSecret string

	// サーバー設定
	ServerPort string
	Env        string

	// CORS設定
	AllowedOrigins []string

	Feed  FeedConfig
	Push  PushConfig
	AI    AIConfig
	Limit LimitConfig
}

// FeedConfig controls message listing and mutations
type FeedConfig struct {
	DefaultLimit       int
	MaxLimit           int
	ClearConfirmCode   string
	MaxFileSizeMB      int
	SessionExpireHours int
}

// PushConfig controls the broadcast hub and long-poll
type PushConfig struct {
	BroadcastInterval time.Duration
	Lookback          time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	PollMaxTimeout    time.Duration
	PollDefault       time.Duration
}

// AIConfig describes the upstream completion and image providers
type AIConfig struct {
	ChatEnabled  bool
	ChatBaseURL  string
	ChatAPIKey   string
	ChatModel    string
	ImageEnabled bool
	ImageBaseURL string
	ImageAPIKey  string
	ImageModel   string
	Timeout      time.Duration
	UpstreamRPS  float64
}

// LimitConfig holds per-route admission limits
type LimitConfig struct {
	ChatWindow  time.Duration
	ChatMax     int
	ImageWindow time.Duration
	ImageMax    int
	SweepEach   time.Duration
}

// LongestWindow returns the widest window of all rules. The sweeper must keep instants that long.
func (c LimitConfig) LongestWindow() time.Duration {
	return max(c.ChatWindow, c.ImageWindow)
}

// IsDevelopment reports whether the server runs in development mode
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	l := &loader{}

	cfg := Config{
		DBDriver:     getEnv("DB_DRIVER", "sqlite"),
		DatabasePath: getEnv("DATABASE_PATH", "feedsync.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "3306"),
		DBUser:       os.Getenv("DB_USER"),
		DBPassword:   os.Getenv("DB_PASSWORD"),
		DBName:       os.Getenv("DB_NAME"),
		RedisURL:     os.Getenv("REDIS_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		ServerPort:   getEnv("SERVER_PORT", getEnv("PORT", "8080")),
		Env:          getEnv("ENV", "development"),
		Feed: FeedConfig{
			DefaultLimit:       l.int("MESSAGE_LOAD_LIMIT", 5000),
			MaxLimit:           l.int("MESSAGE_MAX_LIMIT", 100000),
			ClearConfirmCode:   getEnv("CLEAR_CONFIRM_CODE", "1234"),
			MaxFileSizeMB:      l.int("MAX_FILE_SIZE_MB", 100),
			SessionExpireHours: l.int("SESSION_EXPIRE_HOURS", 24),
		},
		Push: PushConfig{
			BroadcastInterval: l.duration("BROADCAST_INTERVAL", 5*time.Second),
			Lookback:          l.duration("BROADCAST_LOOKBACK", 10*time.Second),
			HeartbeatInterval: l.duration("HEARTBEAT_INTERVAL", 30*time.Second),
			PollInterval:      l.duration("POLL_INTERVAL", time.Second),
			PollMaxTimeout:    l.duration("POLL_MAX_TIMEOUT", 60*time.Second),
			PollDefault:       l.duration("POLL_DEFAULT_TIMEOUT", 30*time.Second),
		},
		AI: AIConfig{
			ChatEnabled:  l.bool("AI_ENABLED", false),
			ChatBaseURL:  getEnv("AI_CHAT_BASE_URL", "https://api.siliconflow.cn/v1/chat/completions"),
			ChatAPIKey:   os.Getenv("AI_CHAT_API_KEY"),
			ChatModel:    getEnv("AI_CHAT_MODEL", "Qwen/Qwen2.5-7B-Instruct"),
			ImageEnabled: l.bool("IMAGE_GEN_ENABLED", false),
			ImageBaseURL: getEnv("AI_IMAGE_BASE_URL", "https://api.siliconflow.cn/v1/images/generations"),
			ImageAPIKey:  os.Getenv("AI_IMAGE_API_KEY"),
			ImageModel:   getEnv("AI_IMAGE_MODEL", "Kwai-Kolors/Kolors"),
			Timeout:      l.duration("AI_TIMEOUT", 30*time.Second),
			UpstreamRPS:  l.float("AI_UPSTREAM_RPS", 0),
		},
		Limit: LimitConfig{
			ChatMax:   l.int("AI_RATE_LIMIT", 10),
			ImageMax:  l.int("IMAGE_RATE_LIMIT", 5),
			SweepEach: l.duration("RATE_LIMIT_SWEEP", time.Minute),
		},
	}

	// ルートごとのウィンドウ。未指定なら RATE_LIMIT_WINDOW を使う
	window := l.duration("RATE_LIMIT_WINDOW", time.Minute)
	cfg.Limit.ChatWindow = l.duration("AI_RATE_LIMIT_WINDOW", window)
	cfg.Limit.ImageWindow = l.duration("IMAGE_RATE_LIMIT_WINDOW", window)

	allowedOrigins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if l.err != nil {
		return Config{}, l.err
	}

	switch cfg.DBDriver {
	case "sqlite", "mysql", "postgres":
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.DBDriver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for postgres")
	}
	if cfg.Feed.DefaultLimit <= 0 || cfg.Feed.MaxLimit < cfg.Feed.DefaultLimit {
		return Config{}, fmt.Errorf("invalid message limits: default=%d max=%d", cfg.Feed.DefaultLimit, cfg.Feed.MaxLimit)
	}
	if cfg.Limit.ChatWindow <= 0 || cfg.Limit.ImageWindow <= 0 {
		return Config{}, fmt.Errorf("invalid rate limit windows: chat=%s image=%s", cfg.Limit.ChatWindow, cfg.Limit.ImageWindow)
	}

	return cfg, nil
}

// MySQLDSN builds the go-sql-driver DSN from the DB_* settings
func (c Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loader は最初のパースエラーを保持する
type loader struct {
	err error
}

func (l *loader) fail(key, raw string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func (l *loader) int(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return n
}

func (l *loader) float(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return f
}

func (l *loader) bool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return b
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return d
}
