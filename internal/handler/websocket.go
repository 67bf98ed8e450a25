package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"feedsync/internal/middleware"
)

const wsWriteWait = 10 * time.Second

// createUpgrader creates a WebSocket upgrader with the given allowed origins.
// Requests without an Origin header (non-browser clients) are accepted.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := reqLog(r)

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[GET /ws] WebSocket upgrade error")
		return
	}
	defer conn.Close()

	sub := h.Hub.Register("ws", middleware.DeviceID(r.Context()))
	defer h.Hub.Unregister(sub)

	log.Info().Str("subscription", sub.ID.String()).Int("clients", h.Hub.Len()).Msg("[GET /ws] 🔌 New WebSocket connection")

	// クライアントからのメッセージを受信（切断検知用）
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			log.Info().Str("subscription", sub.ID.String()).Msg("[GET /ws] Client disconnected")
			return
		case <-sub.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
			return
		case e := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e.WS()); err != nil {
				log.Warn().Err(err).Msg("[GET /ws] write failed, dropping client")
				return
			}
		}
	}
}
