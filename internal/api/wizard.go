package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/handoff"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/wizard"
)

type wizardResponse struct {
	Step     int                       `json:"step"`
	StepName string                    `json:"step_name"`
	Steps    int                       `json:"steps"`
	Draft    domain.DraftConfiguration `json:"draft"`
	Outcome  *handoff.Outcome          `json:"outcome,omitempty"`
}

func newWizardResponse(s *domain.WizardState) wizardResponse {
	return wizardResponse{
		Step:     s.Step,
		StepName: wizard.StepName(s.Step),
		Steps:    wizard.LastStep,
		Draft:    s.Draft,
	}
}

// GetWizard returns the device's wizard position and draft.
func (h *Handler) GetWizard(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	state, err := h.Wizard.Load(r.Context(), dev)
	if err != nil {
		slog.Error("Failed to load wizard", "device_id", dev, "error", err)
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, newWizardResponse(state))
}

// PatchWizard merges fields into the device's draft.
func (h *Handler) PatchWizard(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	var patch domain.DraftPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	state, err := h.Wizard.Apply(r.Context(), dev, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, newWizardResponse(state))
}

// NextStep advances the wizard, or submits the draft from the last step.
func (h *Handler) NextStep(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	state, action, err := h.Wizard.Next(r.Context(), dev)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := newWizardResponse(state)
	if action != wizard.ActionSubmit {
		JSON(w, http.StatusOK, resp)
		return
	}

	// The vendor call outlives a closed tab.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.ReplayTimeout)
	defer cancel()

	outcome, err := h.Orchestrator.Submit(ctx, dev, identity.SessionFromContext(r.Context()), state.Draft)
	if err != nil {
		writeError(w, err)
		return
	}
	if outcome.Status == handoff.OutcomeCreated {
		if err := h.Wizard.Reset(ctx, dev); err != nil {
			slog.Warn("Failed to reset wizard after creation", "device_id", dev, "error", err)
		}
	}
	resp.Outcome = outcome
	status := http.StatusCreated
	if outcome.Status == handoff.OutcomeDeferred {
		status = http.StatusAccepted
	}
	JSON(w, status, resp)
}

// PreviousStep moves the wizard back one step.
func (h *Handler) PreviousStep(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	state, err := h.Wizard.Previous(r.Context(), dev)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, newWizardResponse(state))
}

// GetDefaults returns the suggested prompt and greeting for the current names.
func (h *Handler) GetDefaults(w http.ResponseWriter, r *http.Request) {
	dev, ok := deviceID(w, r)
	if !ok {
		return
	}
	state, err := h.Wizard.Load(r.Context(), dev)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"prompt":         wizard.DefaultPrompt(state.Draft),
		"welcomeMessage": wizard.DefaultWelcome(state.Draft),
	})
}
