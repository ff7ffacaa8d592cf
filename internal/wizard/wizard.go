// Package wizard implements the onboarding wizard that collects a draft agent
// configuration one step at a time.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/store"
	"github.com/ashureev/voicedesk/internal/voice"
)

// Wizard steps, in order.
const (
	StepBusiness = iota + 1
	StepAgent
	StepVoice
	StepKnowledge
	StepReview
)

const (
	FirstStep = StepBusiness
	LastStep  = StepReview
)

var stepNames = map[int]string{
	StepBusiness:  "business",
	StepAgent:     "agent",
	StepVoice:     "voice",
	StepKnowledge: "knowledge",
	StepReview:    "review",
}

// StepName returns the short name of a step.
func StepName(step int) string {
	return stepNames[step]
}

// Action is what the caller must do after a transition.
type Action string

const (
	// ActionNone means the wizard only moved.
	ActionNone Action = ""
	// ActionSubmit means the final step was confirmed and the draft must be
	// handed off for creation.
	ActionSubmit Action = "submit"
)

// ErrInvalidVoiceStyle is returned when a patch names a style the catalog
// does not map.
var ErrInvalidVoiceStyle = errors.New("invalid voice style")

// Next returns the step after step, or ActionSubmit when step is the last one.
func Next(step int) (int, Action) {
	if step >= LastStep {
		return LastStep, ActionSubmit
	}
	if step < FirstStep {
		return FirstStep, ActionNone
	}
	return step + 1, ActionNone
}

// Previous returns the step before step. It is a no-op on the first step.
func Previous(step int) int {
	if step <= FirstStep {
		return FirstStep
	}
	if step > LastStep {
		return LastStep
	}
	return step - 1
}

// DefaultPrompt is the suggested support-desk prompt for d.
func DefaultPrompt(d domain.DraftConfiguration) string {
	return fmt.Sprintf("You are an inbound Customer Service representative for %s and your name is %s. "+
		"You will be relaxed, calm, professional and helpful to callers who are calling to raise a support request. "+
		"You will take their details, confirming, and raise a ticket to the support desk on their behalf with the "+
		"details of their issue and let them know we will follow up with them asap", d.BusinessName, d.AgentName)
}

// DefaultWelcome is the suggested greeting for d.
func DefaultWelcome(d domain.DraftConfiguration) string {
	return fmt.Sprintf("Hi, thank you for calling %s, my name is %s, how can I assist you today?", d.BusinessName, d.AgentName)
}

// Service persists wizard progress per device.
type Service struct {
	drafts store.DraftStore
	voices *voice.Catalog
	now    func() time.Time
}

// NewService creates a wizard service.
func NewService(drafts store.DraftStore, voices *voice.Catalog) *Service {
	return &Service{
		drafts: drafts,
		voices: voices,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the device's wizard state, starting a fresh one if needed.
func (s *Service) Load(ctx context.Context, deviceID string) (*domain.WizardState, error) {
	state, err := s.drafts.GetDraft(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load wizard state: %w", err)
	}
	if state != nil {
		return state, nil
	}
	state = &domain.WizardState{
		DeviceID:  deviceID,
		Step:      FirstStep,
		Draft:     domain.NewDraft(),
		UpdatedAt: s.now(),
	}
	if err := s.drafts.SaveDraft(ctx, state); err != nil {
		return nil, fmt.Errorf("create wizard state: %w", err)
	}
	return state, nil
}

func (s *Service) save(ctx context.Context, state *domain.WizardState) error {
	state.UpdatedAt = s.now()
	if err := s.drafts.SaveDraft(ctx, state); err != nil {
		return fmt.Errorf("save wizard state: %w", err)
	}
	return nil
}

// Apply merges patch into the device's draft.
func (s *Service) Apply(ctx context.Context, deviceID string, patch domain.DraftPatch) (*domain.WizardState, error) {
	if patch.VoiceStyle != nil {
		if _, err := s.voices.Lookup(*patch.VoiceStyle); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVoiceStyle, *patch.VoiceStyle)
		}
	}
	state, err := s.Load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	patch.Apply(&state.Draft)
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Next advances the device's wizard. On the last step it leaves the position
// unchanged and returns ActionSubmit.
func (s *Service) Next(ctx context.Context, deviceID string) (*domain.WizardState, Action, error) {
	state, err := s.Load(ctx, deviceID)
	if err != nil {
		return nil, ActionNone, err
	}
	step, action := Next(state.Step)
	if action == ActionSubmit {
		return state, action, nil
	}
	state.Step = step
	if err := s.save(ctx, state); err != nil {
		return nil, ActionNone, err
	}
	return state, action, nil
}

// Previous moves the device's wizard back one step.
func (s *Service) Previous(ctx context.Context, deviceID string) (*domain.WizardState, error) {
	state, err := s.Load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if step := Previous(state.Step); step != state.Step {
		state.Step = step
		if err := s.save(ctx, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Reset discards the device's draft once it has been turned into an agent.
func (s *Service) Reset(ctx context.Context, deviceID string) error {
	if err := s.drafts.DeleteDraft(ctx, deviceID); err != nil {
		return fmt.Errorf("reset wizard state: %w", err)
	}
	return nil
}
