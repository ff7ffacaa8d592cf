package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/identity"
)

type pendingResponse struct {
	RequestID     string                     `json:"request_id"`
	Status        domain.PendingStatus       `json:"status"`
	Attempts      int                        `json:"attempts"`
	Draft         *domain.DraftConfiguration `json:"draft,omitempty"`
	LastError     string                     `json:"last_error,omitempty"`
	RemoteAgentID string                     `json:"remote_agent_id,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	ExpiresAt     time.Time                  `json:"expires_at"`
}

// newPendingResponse hides expired items. Once a user has attempted an item,
// its draft and failure details are shown only to that user.
func newPendingResponse(p *domain.PendingConfiguration, s *identity.Session, now time.Time) *pendingResponse {
	if p == nil || p.Expired(now) {
		return nil
	}
	resp := &pendingResponse{
		RequestID: p.RequestID,
		Status:    p.Status,
		Attempts:  p.Attempts,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
	if p.ClaimedBy == "" {
		resp.Draft = &p.Draft
		return resp
	}
	if s != nil && s.UserID == p.ClaimedBy {
		resp.Draft = &p.Draft
		resp.LastError = p.LastError
		resp.RemoteAgentID = p.RemoteAgentID
	}
	return resp
}

// GetPending returns the device's parked configuration, if any.
func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	item, err := h.Repo.GetPending(r.Context(), dev)
	if err != nil {
		writeError(w, err)
		return
	}
	session := identity.SessionFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]interface{}{"pending": newPendingResponse(item, session, time.Now().UTC())})
}

// RetryPending re-attempts the device's failed configuration.
func (h *Handler) RetryPending(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.ReplayTimeout)
	defer cancel()

	rec, err := h.Reactor.Retry(ctx, dev, identity.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Wizard.Reset(ctx, dev); err != nil {
		slog.Warn("Failed to reset wizard after retry", "device_id", dev, "error", err)
	}
	JSON(w, http.StatusCreated, map[string]interface{}{"agent": rec})
}

// DiscardPending empties the device's slot.
func (h *Handler) DiscardPending(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	if err := h.Repo.DeletePending(r.Context(), dev); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("Pending configuration discarded", "device_id", dev)
	w.WriteHeader(http.StatusNoContent)
}
