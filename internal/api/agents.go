package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/identity"
)

// ListAgents returns the signed-in user's agents, newest first.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	s := identity.SessionFromContext(r.Context())
	agents, err := h.Repo.ListAgents(r.Context(), s.UserID)
	if err != nil {
		slog.Error("Failed to list agents", "user_id", s.UserID, "error", err)
		writeError(w, err)
		return
	}
	if agents == nil {
		agents = []*domain.AgentRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

// GetAgent returns one of the signed-in user's agents.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	s := identity.SessionFromContext(r.Context())
	rec, err := h.Repo.GetAgent(r.Context(), s.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, rec)
}

// PatchAgent edits the mutable fields of an agent.
func (h *Handler) PatchAgent(w http.ResponseWriter, r *http.Request) {
	s := identity.SessionFromContext(r.Context())
	var patch domain.AgentPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if patch.Empty() {
		Error(w, http.StatusBadRequest, "no editable fields in request")
		return
	}
	rec, err := h.Repo.UpdateAgent(r.Context(), s.UserID, chi.URLParam(r, "id"), patch, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("Agent updated", "user_id", s.UserID, "agent_id", rec.ID)
	JSON(w, http.StatusOK, rec)
}

// DeleteAgent removes an agent record.
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	s := identity.SessionFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.Repo.DeleteAgent(r.Context(), s.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("Agent deleted", "user_id", s.UserID, "agent_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetEmbed returns the website widget snippet for an agent.
func (h *Handler) GetEmbed(w http.ResponseWriter, r *http.Request) {
	s := identity.SessionFromContext(r.Context())
	rec, err := h.Repo.GetAgent(r.Context(), s.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"agent_id":        rec.ID,
		"remote_agent_id": rec.RemoteAgentID,
		"snippet":         rec.EmbedSnippet(),
	})
}
