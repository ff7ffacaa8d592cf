// Package api provides HTTP handlers for the voicedesk API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voicedesk/internal/elevenlabs"
	"github.com/ashureev/voicedesk/internal/handoff"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/knowledge"
	"github.com/ashureev/voicedesk/internal/secrets"
	"github.com/ashureev/voicedesk/internal/store"
	"github.com/ashureev/voicedesk/internal/voice"
	"github.com/ashureev/voicedesk/internal/wizard"
)

const defaultReplayTimeout = 60 * time.Second

// Deps are the services the handlers delegate to.
type Deps struct {
	Repo          store.Repository
	Auth          *identity.Authenticator
	Wizard        *wizard.Service
	Orchestrator  *handoff.Orchestrator
	Reactor       *handoff.Reactor
	Voices        *voice.Catalog
	Previewer     *voice.Previewer
	Knowledge     *knowledge.Store
	ReplayTimeout time.Duration
}

// Handler provides common handler utilities.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(d Deps) *Handler {
	if d.ReplayTimeout <= 0 {
		d.ReplayTimeout = defaultReplayTimeout
	}
	return &Handler{Deps: d}
}

// RegisterRoutes registers every /api route. The device identity middleware
// must already be installed on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(identity.OptionalSession(h.Auth))

		r.Get("/wizard", h.GetWizard)
		r.Patch("/wizard", h.PatchWizard)
		r.Post("/wizard/next", h.NextStep)
		r.Post("/wizard/previous", h.PreviousStep)
		r.Get("/wizard/defaults", h.GetDefaults)

		r.Post("/knowledge-base", h.UploadKnowledgeBase)

		r.Get("/voices", h.ListVoices)
		r.Get("/voices/{style}/preview", h.PreviewVoice)

		r.Get("/pending", h.GetPending)
		r.Delete("/pending", h.DiscardPending)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireSession)

			r.Post("/auth/events", h.AuthEvent)
			r.Post("/pending/retry", h.RetryPending)

			r.Get("/agents", h.ListAgents)
			r.Get("/agents/{id}", h.GetAgent)
			r.Patch("/agents/{id}", h.PatchAgent)
			r.Delete("/agents/{id}", h.DeleteAgent)
			r.Get("/agents/{id}/embed", h.GetEmbed)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	var verr *elevenlabs.ProvisioningError
	var perr *handoff.PersistenceError
	switch {
	case errors.Is(err, wizard.ErrInvalidVoiceStyle),
		errors.Is(err, voice.ErrUnmappedVoiceStyle),
		errors.Is(err, knowledge.ErrUnsupportedType),
		errors.Is(err, knowledge.ErrTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, handoff.ErrAuthenticationRequired),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, knowledge.ErrNotFound),
		errors.Is(err, handoff.ErrNothingToRetry):
		return http.StatusNotFound
	case errors.Is(err, secrets.ErrSecretUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &perr):
		return http.StatusInternalServerError
	case errors.As(err, &verr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and writes a message safe to show users.
func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := handoff.Describe(err)
	switch {
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		msg = err.Error()
	case status == http.StatusUnauthorized:
		msg = "authentication required"
	}
	Error(w, status, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func deviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identity.DeviceIDFromContext(r.Context())
	if id == "" {
		Error(w, http.StatusBadRequest, "device identity required")
		return "", false
	}
	return id, true
}
