package handler

import (
	"net/http"
	"time"

	"feedsync/internal/metrics"
	"feedsync/internal/poll"
)

// HandlePoll handles GET /api/poll
// lastMessageId より新しいメッセージが現れるか timeout（秒）が経過するまで待機する
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	afterID := queryInt(r, "lastMessageId", 0)
	if afterID < 0 {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid lastMessageId")
		return
	}
	timeout := h.Poller.Clamp(
		time.Duration(queryInt(r, "timeout", 0))*time.Second,
		h.Config.Push.PollDefault,
	)

	res, err := h.Poller.Wait(r.Context(), afterID, timeout)
	if err != nil {
		if poll.IsCancelled(err) {
			metrics.LongPolls.WithLabelValues("cancelled").Inc()
			return
		}
		metrics.LongPolls.WithLabelValues("error").Inc()
		reqLog(r).Error().Err(err).Msg("[GET /api/poll] ❌ Database error")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Database error")
		return
	}

	if res.HasNew {
		metrics.LongPolls.WithLabelValues("new").Inc()
	} else {
		metrics.LongPolls.WithLabelValues("timeout").Inc()
	}

	respondOK(w, map[string]any{
		"hasNewMessages":  res.HasNew,
		"newMessageCount": res.Count,
	})
}
