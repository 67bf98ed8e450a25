package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"feedsync/internal/config"
	"feedsync/internal/hub"
	"feedsync/internal/middleware"
	"feedsync/internal/poll"
	"feedsync/internal/ratelimit"
	"feedsync/internal/relay"
	"feedsync/internal/store"
)

// Handler holds application dependencies
type Handler struct {
	Store   store.Store
	Config  config.Config
	Hub     *hub.Hub
	Poller  *poll.Waiter
	Relay   *relay.Relay
	Limiter ratelimit.Limiter
	Auth    *middleware.Auth
	Logger  zerolog.Logger
}

// New creates a new Handler with the given dependencies
func New(st store.Store, cfg config.Config, limiter ratelimit.Limiter, logger zerolog.Logger) *Handler {
	if limiter == nil {
		limiter = ratelimit.NewMemory()
	}
	return &Handler{
		Store:  st,
		Config: cfg,
		Hub: hub.New(st, hub.Options{
			PollInterval:      cfg.Push.BroadcastInterval,
			Lookback:          cfg.Push.Lookback,
			HeartbeatInterval: cfg.Push.HeartbeatInterval,
		}, logger),
		Poller: poll.NewWaiter(st, cfg.Push.PollInterval, cfg.Push.PollMaxTimeout),
		Relay: relay.New(relay.Options{
			Timeout:     cfg.AI.Timeout,
			UpstreamRPS: cfg.AI.UpstreamRPS,
		}, logger),
		Limiter: limiter,
		Auth:    middleware.NewAuth(cfg.JWTSecret),
		Logger:  logger,
	}
}

// Run drives the broadcast hub and, for the in-memory limiter, its sweeper until ctx is done.
// It returns only after every task it started has stopped.
func (h *Handler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if mem, ok := h.Limiter.(*ratelimit.Memory); ok {
		g.Go(func() error {
			mem.RunSweeper(ctx, h.Config.Limit.SweepEach, h.Config.Limit.LongestWindow())
			return nil
		})
	}
	g.Go(func() error {
		return h.Hub.Run(ctx)
	})
	return g.Wait()
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logger(h.Logger), middleware.Metrics)

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.Auth.Middleware)

	// REST API
	api.HandleFunc("/messages", h.GetMessages).Methods("GET")
	api.HandleFunc("/messages", h.CreateMessage).Methods("POST")
	api.HandleFunc("/messages/{id:[0-9]+}", h.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/clear-all", h.ClearAll).Methods("POST")
	api.HandleFunc("/sync", h.SyncDevice).Methods("POST")
	api.HandleFunc("/search", h.Search).Methods("GET")
	api.HandleFunc("/search/suggestions", h.Suggestions).Methods("GET")
	api.HandleFunc("/config", h.ClientConfig).Methods("GET")

	// リアルタイム配信
	api.HandleFunc("/events", h.HandleEvents).Methods("GET")
	api.HandleFunc("/poll", h.HandlePoll).Methods("GET")

	// AI
	chatLimit := middleware.RateLimit(h.Limiter, middleware.Rule{
		Name: "chat", Max: h.Config.Limit.ChatMax, Window: h.Config.Limit.ChatWindow,
	}, h.Logger)
	imageLimit := middleware.RateLimit(h.Limiter, middleware.Rule{
		Name: "image", Max: h.Config.Limit.ImageMax, Window: h.Config.Limit.ImageWindow,
	}, h.Logger)
	api.Handle("/ai/chat", chatLimit(http.HandlerFunc(h.Chat))).Methods("POST")
	api.Handle("/ai/image", imageLimit(http.HandlerFunc(h.GenerateImage))).Methods("POST")
	api.HandleFunc("/ai/message", h.SaveAIMessage).Methods("POST")

	// WebSocket
	r.Handle("/ws", h.Auth.Middleware(http.HandlerFunc(h.HandleWebSocket))).Methods("GET")

	return r
}
