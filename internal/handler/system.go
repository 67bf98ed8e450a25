package handler

import (
	"context"
	"net/http"
	"time"
)

// ClientConfig handles GET /api/config
// API キーやエンドポイントは返さない
func (h *Handler) ClientConfig(w http.ResponseWriter, r *http.Request) {
	feed := h.Config.Feed
	ai := h.Config.AI

	respondOK(w, map[string]any{
		"data": map[string]any{
			"maxFileSize":        int64(feed.MaxFileSizeMB) << 20,
			"maxFileSizeMB":      feed.MaxFileSizeMB,
			"sessionExpireHours": feed.SessionExpireHours,
			"aiEnabled":          ai.ChatEnabled,
			"imageGenEnabled":    ai.ImageEnabled,
			"aiConfig": map[string]any{
				"model":       ai.ChatModel,
				"maxTokens":   4000,
				"temperature": 0.7,
				"stream":      true,
			},
			"imageGenConfig": map[string]any{
				"model":           ai.ImageModel,
				"defaultSize":     "1024x1024",
				"defaultSteps":    20,
				"defaultGuidance": 7.5,
			},
			"push": map[string]any{
				"heartbeatSeconds":   int(h.Config.Push.HeartbeatInterval / time.Second),
				"pollTimeoutSeconds": int(h.Config.Push.PollDefault / time.Second),
			},
		},
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		reqLog(r).Error().Err(err).Msg("[GET /health] ❌ store unreachable")
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"store":  "down",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"store":   "up",
		"clients": h.Hub.Len(),
	})
}
