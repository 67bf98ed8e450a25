package handler

import (
	"net/http"
	"strings"
	"time"

	"feedsync/internal/model"
)

const unknownDevice = "Unknown device"

// SyncDevice handles POST /api/sync
func (h *Handler) SyncDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"deviceId"`
		DeviceName string `json:"deviceName"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		respondError(w, http.StatusBadRequest, CodeValidation, "deviceId is required")
		return
	}
	if strings.TrimSpace(req.DeviceName) == "" {
		req.DeviceName = unknownDevice
	}

	d := model.Device{ID: req.DeviceID, Name: req.DeviceName, LastSeen: time.Now()}
	if err := h.Store.UpsertDevice(r.Context(), d); err != nil {
		reqLog(r).Error().Err(err).Msg("[POST /api/sync] ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Database error")
		return
	}

	reqLog(r).Debug().Str("device", d.ID).Msg("[POST /api/sync] device seen")
	respondOK(w, nil)
}
