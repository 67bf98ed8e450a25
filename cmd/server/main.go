package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/handler"
	"feedsync/internal/ratelimit"
	"feedsync/internal/store"
)

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 環境変数を読み込み
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("⚠️  .env file not found, using environment only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ストアを初期化
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("❌ Failed to initialize store")
	}
	defer st.Close()

	// レートリミッター（REDIS_URL があれば共有ウィンドウ）
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("❌ redis connection failed")
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb)
		logger.Info().Msg("connected to Redis")
	}

	h := handler.New(st, cfg, limiter, logger)

	// ハブとスイーパーを開始
	hubDone := make(chan error, 1)
	go func() {
		hubDone <- h.Run(ctx)
	}()

	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Device-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", handler.RelayStatusTrailer},
		MaxAge:           300,
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// WriteTimeout はプッシュ接続とストリーム転送を切ってしまうので設定しない
	}

	printBanner(cfg)

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Str("env", cfg.Env).Msg("🚀 Server started successfully")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// ストアを閉じる前にハブのタスクを待つ
	select {
	case err := <-hubDone:
		if err != nil {
			logger.Error().Err(err).Msg("broadcast hub stopped with error")
		}
	case <-shutdownCtx.Done():
		logger.Warn().Msg("broadcast hub did not stop in time")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

// openStore opens the feed store selected by DB_DRIVER
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(ctx, pool)
	case "mysql":
		db, err := database.Init(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store.NewMySQL(ctx, db)
	default:
		db, err := database.Init(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store.NewSQLite(ctx, db)
	}
}

func printBanner(cfg config.Config) {
	fmt.Println("========================================")
	fmt.Println("  Feedsync Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  Events: http://localhost:%s/api/events\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	switch cfg.DBDriver {
	case "mysql":
		fmt.Printf("  Database: mysql %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	case "postgres":
		fmt.Println("  Database: postgres")
	default:
		fmt.Printf("  Database: sqlite %s\n", cfg.DatabasePath)
	}
	if cfg.RedisURL != "" {
		fmt.Println("  Rate limits: redis")
	} else {
		fmt.Println("  Rate limits: memory")
	}
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")
}
