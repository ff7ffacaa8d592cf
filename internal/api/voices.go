package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voicedesk/internal/domain"
)

// ListVoices returns the voice catalog.
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"voices":  h.Voices.All(),
		"default": domain.DefaultVoiceStyle,
	})
}

// PreviewVoice streams a short MPEG sample of a voice style.
func (h *Handler) PreviewVoice(w http.ResponseWriter, r *http.Request) {
	style, err := domain.ParseVoiceStyle(chi.URLParam(r, "style"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	audio, err := h.Previewer.Preview(r.Context(), style)
	if err != nil {
		slog.Warn("Voice preview failed", "style", style, "error", err)
		status := StatusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		Error(w, status, "voice preview is unavailable")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		slog.Debug("Failed to write preview audio", "error", err)
	}
}
