package handler

import (
	"net/http"

	"feedsync/internal/middleware"
)

// HandleEvents handles GET /api/events (Server-Sent Events)
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, CodeInternal, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// nginx のバッファリングを無効化
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Hub.Register("sse", middleware.DeviceID(r.Context()))
	defer h.Hub.Unregister(sub)

	log := reqLog(r)
	log.Info().Str("subscription", sub.ID.String()).Msg("[GET /api/events] 🔌 SSE connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("subscription", sub.ID.String()).Msg("[GET /api/events] SSE client disconnected")
			return
		case <-sub.Done():
			return
		case e := <-sub.Events():
			frame, err := e.SSE()
			if err != nil {
				log.Error().Err(err).Str("event", e.Name).Msg("[GET /api/events] ❌ failed to encode event")
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
