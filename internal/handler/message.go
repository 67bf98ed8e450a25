package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"feedsync/internal/hub"
	"feedsync/internal/metrics"
	"feedsync/internal/middleware"
	"feedsync/internal/model"
	"feedsync/internal/store"
)

// aiDeviceID is the device recorded for stored AI replies
const aiDeviceID = "ai-system"

type createMessageRequest struct {
	Content      string            `json:"content"`
	Type         model.MessageType `json:"type"`
	DeviceID     string            `json:"deviceId"`
	OriginalName string            `json:"originalName"`
	FileSize     int64             `json:"fileSize"`
	MimeType     string            `json:"mimeType"`
	StorageKey   string            `json:"storageKey"`
}

// GetMessages handles GET /api/messages
// offset は最新から数え、before が指定された場合はその ID より古いものを返す
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := int(queryInt(r, "limit", 0))
	if limit <= 0 {
		limit = h.Config.Feed.DefaultLimit
	} else if limit > h.Config.Feed.MaxLimit {
		limit = h.Config.Feed.MaxLimit
	}

	offset := int(queryInt(r, "offset", 0))
	if offset < 0 {
		offset = 0
	}

	var (
		msgs []model.Message
		err  error
	)
	if before := queryInt(r, "before", 0); before > 0 {
		msgs, err = h.Store.RangeBefore(r.Context(), before, limit)
	} else {
		msgs, err = h.Store.RangeByOffset(r.Context(), limit, offset)
	}
	if err != nil {
		reqLog(r).Error().Err(err).Msg("[GET /api/messages] ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Database error")
		return
	}

	respondOK(w, map[string]any{"data": msgs})
}

// CreateMessage handles POST /api/messages
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		reqLog(r).Warn().Err(err).Msg("[POST /api/messages] ❌ Bad Request")
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}

	if req.Type == "" {
		req.Type = model.TypeText
	}
	if !req.Type.Valid() {
		respondError(w, http.StatusBadRequest, CodeValidation, "unknown message type")
		return
	}

	msg := &model.Message{
		Type:     req.Type,
		Content:  req.Content,
		DeviceID: req.DeviceID,
	}
	if msg.DeviceID == "" {
		msg.DeviceID = middleware.DeviceID(r.Context())
	}

	switch req.Type {
	case model.TypeFile:
		if req.OriginalName == "" || req.StorageKey == "" {
			respondError(w, http.StatusBadRequest, CodeValidation, "originalName and storageKey are required for file messages")
			return
		}
		maxSize := int64(h.Config.Feed.MaxFileSizeMB) << 20
		if maxSize > 0 && req.FileSize > maxSize {
			respondError(w, http.StatusBadRequest, CodeValidation, "file exceeds the size limit")
			return
		}
		msg.FileInfo = &model.FileInfo{
			OriginalName: req.OriginalName,
			FileSize:     req.FileSize,
			MimeType:     req.MimeType,
			StorageKey:   req.StorageKey,
		}
		if msg.Content == "" {
			msg.Content = req.OriginalName
		}
	default:
		if strings.TrimSpace(req.Content) == "" {
			reqLog(r).Warn().Msg("[POST /api/messages] ❌ Bad Request: missing or empty content")
			respondError(w, http.StatusBadRequest, CodeValidation, "content is required")
			return
		}
	}

	h.appendAndAnnounce(w, r, "[POST /api/messages]", msg)
}

// SaveAIMessage handles POST /api/ai/message
func (h *Handler) SaveAIMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		DeviceID string `json:"deviceId"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, CodeValidation, "content is required")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = aiDeviceID
	}

	h.appendAndAnnounce(w, r, "[POST /api/ai/message]", &model.Message{
		Type:     model.TypeAIResponse,
		Content:  req.Content,
		DeviceID: req.DeviceID,
	})
}

func (h *Handler) appendAndAnnounce(w http.ResponseWriter, r *http.Request, tag string, msg *model.Message) {
	if err := h.Store.Append(r.Context(), msg); err != nil {
		reqLog(r).Error().Err(err).Msg(tag + " ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to create message")
		return
	}

	metrics.MessagesAppended.WithLabelValues(string(msg.Type)).Inc()
	reqLog(r).Info().Int64("id", msg.ID).Str("type", string(msg.Type)).Msg(tag + " ✅ Created message")

	h.Hub.Broadcast(hub.NewMessages(1))

	respondOK(w, map[string]any{
		"messageId": msg.ID,
		"data":      msg,
	})
}

// DeleteMessage handles DELETE /api/messages/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	tag := "[DELETE /api/messages/" + raw + "]"

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid message id")
		return
	}

	if err := h.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			reqLog(r).Warn().Msg(tag + " ❌ Not Found")
			respondError(w, http.StatusNotFound, CodeNotFound, "Message not found")
			return
		}
		reqLog(r).Error().Err(err).Msg(tag + " ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to delete message")
		return
	}

	reqLog(r).Info().Msg(tag + " ✅ Deleted successfully")

	// 他のクライアントに削除を通知
	h.Hub.Broadcast(hub.Deleted(id))

	respondOK(w, map[string]any{"message": "message deleted"})
}

// ClearAll handles POST /api/clear-all
func (h *Handler) ClearAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfirmCode string `json:"confirmCode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	if req.ConfirmCode != h.Config.Feed.ClearConfirmCode {
		reqLog(r).Warn().Msg("[POST /api/clear-all] ❌ wrong confirm code")
		respondError(w, http.StatusBadRequest, CodeValidation, "wrong confirm code")
		return
	}

	stats, err := h.Store.Clear(r.Context())
	if err != nil {
		reqLog(r).Error().Err(err).Msg("[POST /api/clear-all] ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Failed to clear messages")
		return
	}

	reqLog(r).Info().
		Int64("messages", stats.DeletedMessages).
		Int64("files", stats.DeletedFiles).
		Msg("[POST /api/clear-all] ✅ Cleared feed")

	h.Hub.Broadcast(hub.Cleared())

	respondOK(w, map[string]any{
		"message": "all data cleared",
		"data":    stats,
	})
}
