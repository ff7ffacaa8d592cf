package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/identity"
)

// Identity provider auth events.
const (
	EventSignedIn  = "SIGNED_IN"
	EventSignedOut = "SIGNED_OUT"
)

type authEventRequest struct {
	Event string `json:"event"`
}

type authEventResponse struct {
	Replayed bool                `json:"replayed"`
	Agent    *domain.AgentRecord `json:"agent,omitempty"`
}

// AuthEvent reacts to an identity provider event posted by the page. Any
// event other than sign-out replays the device's waiting configuration, if
// there is one; the slot itself is the guard.
func (h *Handler) AuthEvent(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	var req authEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event := strings.ToUpper(strings.TrimSpace(req.Event))
	session := identity.SessionFromContext(r.Context())
	slog.Info("Auth event received", "event", event, "device_id", dev, "user_id", session.UserID, "ip", identity.IPFromRequest(r))

	if event == EventSignedOut {
		JSON(w, http.StatusOK, authEventResponse{})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.ReplayTimeout)
	defer cancel()

	rec, err := h.Reactor.Replay(ctx, dev, session)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		JSON(w, http.StatusOK, authEventResponse{})
		return
	}
	if err := h.Wizard.Reset(ctx, dev); err != nil {
		slog.Warn("Failed to reset wizard after replay", "device_id", dev, "error", err)
	}
	JSON(w, http.StatusCreated, authEventResponse{Replayed: true, Agent: rec})
}
