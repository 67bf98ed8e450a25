package handler

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"feedsync/internal/model"
	"feedsync/internal/store"
)

const minQueryLen = 2

// Search handles GET /api/search
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if utf8.RuneCountInString(text) < minQueryLen {
		respondError(w, http.StatusBadRequest, CodeValidation, "search query needs at least 2 characters")
		return
	}

	query := store.SearchQuery{
		Text:   text,
		Limit:  int(queryInt(r, "limit", 20)),
		Offset: int(queryInt(r, "offset", 0)),
	}
	if t := q.Get("type"); t != "" && t != "all" {
		query.Type = model.MessageType(t)
		if !query.Type.Valid() {
			respondError(w, http.StatusBadRequest, CodeValidation, "unknown message type")
			return
		}
	}
	if d := q.Get("deviceId"); d != "" && d != "all" {
		query.DeviceID = d
	}
	if since, ok := store.TimeRangeStart(q.Get("timeRange"), time.Now()); ok {
		query.Since = since
	}

	msgs, err := h.Store.Search(r.Context(), query)
	if err != nil {
		reqLog(r).Error().Err(err).Msg("[GET /api/search] ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Database error")
		return
	}

	respondOK(w, map[string]any{"data": msgs})
}

// Suggestions handles GET /api/search/suggestions
// 短すぎるクエリはエラーではなく空配列を返す
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("q"))
	if utf8.RuneCountInString(text) < minQueryLen {
		respondOK(w, map[string]any{"data": []string{}})
		return
	}

	out, err := h.Store.Suggestions(r.Context(), text, 10)
	if err != nil {
		reqLog(r).Error().Err(err).Msg("[GET /api/search/suggestions] ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Database error")
		return
	}
	if out == nil {
		out = []string{}
	}

	respondOK(w, map[string]any{"data": out})
}
