package handler

import (
	"net/http"
	"strings"

	"feedsync/internal/middleware"
	"feedsync/internal/relay"
)

// RelayStatusTrailer carries the outcome of a streamed relay once the body has been sent
const RelayStatusTrailer = "X-Relay-Status"

const noAnswer = "Sorry, I could not produce an answer."

type chatRequest struct {
	Message     string   `json:"message"`
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	Stream      bool     `json:"stream"`
}

type imageRequest struct {
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negativePrompt"`
	ImageSize         string   `json:"imageSize"`
	NumInferenceSteps *int     `json:"numInferenceSteps"`
	GuidanceScale     *float64 `json:"guidanceScale"`
	Seed              *int64   `json:"seed"`
}

// Chat handles POST /api/ai/chat
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	const tag = "[POST /api/ai/chat]"
	cfg := h.Config.AI

	if !cfg.ChatEnabled {
		h.relayFailed(w, r, tag, relay.ErrNotEnabled)
		return
	}
	if cfg.ChatAPIKey == "" {
		h.relayFailed(w, r, tag, relay.ErrNotConfigured)
		return
	}

	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, CodeValidation, "message is required")
		return
	}

	body := map[string]any{
		"model":       cfg.ChatModel,
		"messages":    []map[string]string{{"role": "user", "content": req.Message}},
		"max_tokens":  4000,
		"temperature": 0.7,
		"stream":      req.Stream,
	}
	if req.Model != "" {
		body["model"] = req.Model
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}

	res, err := h.Relay.Do(r.Context(), relay.Request{
		Kind:   "chat",
		URL:    cfg.ChatBaseURL,
		APIKey: cfg.ChatAPIKey,
		Body:   body,
	})
	if err != nil {
		h.relayFailed(w, r, tag, err)
		return
	}

	switch res := res.(type) {
	case *relay.StreamingBody:
		h.forwardStream(w, r, tag, res)
	case *relay.BufferedResult:
		answer := res.Content
		if answer == "" {
			answer = noAnswer
		}
		respondOK(w, map[string]any{
			"response": answer,
			"usage":    res.Usage,
			"model":    res.Model,
		})
	}
}

// GenerateImage handles POST /api/ai/image
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	const tag = "[POST /api/ai/image]"
	cfg := h.Config.AI

	if !cfg.ImageEnabled {
		h.relayFailed(w, r, tag, relay.ErrNotEnabled)
		return
	}
	if cfg.ImageAPIKey == "" {
		h.relayFailed(w, r, tag, relay.ErrNotConfigured)
		return
	}

	var req imageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		respondError(w, http.StatusBadRequest, CodeValidation, "prompt is required")
		return
	}

	body := map[string]any{
		"model":               cfg.ImageModel,
		"prompt":              prompt,
		"image_size":          "1024x1024",
		"batch_size":          1,
		"num_inference_steps": 20,
		"guidance_scale":      7.5,
	}
	if req.ImageSize != "" {
		body["image_size"] = req.ImageSize
	}
	if req.NumInferenceSteps != nil {
		body["num_inference_steps"] = *req.NumInferenceSteps
	}
	if req.GuidanceScale != nil {
		body["guidance_scale"] = *req.GuidanceScale
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		body["negative_prompt"] = neg
	}
	if req.Seed != nil && *req.Seed != 0 {
		body["seed"] = *req.Seed
	}

	res, err := h.Relay.Do(r.Context(), relay.Request{
		Kind:   "image",
		URL:    cfg.ImageBaseURL,
		APIKey: cfg.ImageAPIKey,
		Body:   body,
	})
	if err != nil {
		h.relayFailed(w, r, tag, err)
		return
	}

	switch res := res.(type) {
	case *relay.StreamingBody:
		h.forwardStream(w, r, tag, res)
	case *relay.BufferedResult:
		var data any = res.Raw
		if res.Raw == nil {
			data = map[string]any{}
		}
		respondOK(w, map[string]any{"data": data})
	}
}

// forwardStream copies a streaming upstream body to the client and reports the outcome in a trailer
func (h *Handler) forwardStream(w http.ResponseWriter, r *http.Request, tag string, body *relay.StreamingBody) {
	defer body.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Trailer", RelayStatusTrailer)
	w.WriteHeader(http.StatusOK)

	n, err := body.WriteTo(w)

	var status string
	switch body.State() {
	case relay.StateDone:
		status = "done"
	case relay.StateTimedOut:
		status = "timeout"
	default:
		status = "error"
	}
	w.Header().Set(RelayStatusTrailer, status)

	log := reqLog(r).With().Int64("bytes", n).Str("state", body.State().String()).Logger()
	if err != nil {
		log.Warn().Err(err).Msg(tag + " ⚠️ stream ended early")
		return
	}
	log.Info().Msg(tag + " ✅ stream forwarded")
}

func (h *Handler) relayFailed(w http.ResponseWriter, r *http.Request, tag string, err error) {
	status, code := relayStatus(err)

	log := reqLog(r).With().
		Str("device", middleware.DeviceID(r.Context())).
		Str("class", string(relay.Classify(err))).
		Logger()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(tag + " ❌ relay failed")
	} else {
		log.Warn().Err(err).Msg(tag + " ❌ relay refused")
	}

	respondError(w, status, code, relayMessage(code, err))
}

// relayMessage returns the client-facing text for a relay failure
func relayMessage(code string, err error) string {
	switch code {
	case CodeTimeout:
		return "The AI service did not answer in time, please retry"
	case CodeUpstream:
		return "The AI service is temporarily unavailable, please retry later"
	case CodeRateLimited:
		return "The AI service quota is exhausted, please retry later"
	case CodeNetwork:
		return "Could not reach the AI service, check the network"
	case CodeNotEnabled:
		return "This AI feature is not enabled"
	case CodeNotConfigured:
		return "The AI service is not configured"
	}
	if err != nil {
		return err.Error()
	}
	return "AI request failed"
}

