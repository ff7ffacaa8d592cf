package provision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/elevenlabs"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/secrets"
	"github.com/ashureev/voicedesk/internal/voice"
)

type fakeVendor struct {
	calls  int
	apiKey string
	cfg    elevenlabs.AgentConfig
	id     string
	err    error
}

func (f *fakeVendor) CreateAgent(_ context.Context, apiKey string, cfg elevenlabs.AgentConfig) (string, error) {
	f.calls++
	f.apiKey = apiKey
	f.cfg = cfg
	return f.id, f.err
}

type staticSecret map[string]string

func (s staticSecret) Secret(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", secrets.ErrSecretUnavailable
}

type fakeTexts map[string]string

func (f fakeTexts) Text(ref string) (string, error) {
	if v, ok := f[ref]; ok {
		return v, nil
	}
	return "", errors.New("missing")
}

var testSession = &identity.Session{UserID: "user-1"}

func acmeDraft() domain.DraftConfiguration {
	return domain.DraftConfiguration{
		BusinessName: "Acme IT",
		AgentName:    "Ava",
		VoiceStyle:   domain.VoiceCalm,
	}
}

func TestProvisionFillsDefaults(t *testing.T) {
	vendor := &fakeVendor{id: "agent_123"}
	p := New(voice.Default(), staticSecret{secrets.VendorAPIKey: "xi-key"}, vendor, nil)

	id, err := p.Provision(context.Background(), acmeDraft(), testSession)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if id != "agent_123" || vendor.calls != 1 || vendor.apiKey != "xi-key" {
		t.Fatalf("id=%q calls=%d key=%q", id, vendor.calls, vendor.apiKey)
	}

	agent := vendor.cfg.ConversationConfig.Agent
	if agent.Prompt.Prompt != "You are Ava, a helpful AI assistant for Acme IT." {
		t.Errorf("prompt = %q", agent.Prompt.Prompt)
	}
	if agent.FirstMessage != "Hello! I'm Ava, how can I help you today?" {
		t.Errorf("first message = %q", agent.FirstMessage)
	}
	if vendor.cfg.ConversationConfig.TTS.VoiceID != "CwhRBWXzGAHq8TQ4Fs17" {
		t.Errorf("voice id = %q", vendor.cfg.ConversationConfig.TTS.VoiceID)
	}
	if vendor.cfg.Name != "Ava" {
		t.Errorf("name = %q", vendor.cfg.Name)
	}
}

func TestProvisionKeepsExplicitPromptAndWelcome(t *testing.T) {
	vendor := &fakeVendor{id: "agent_1"}
	p := New(voice.Default(), staticSecret{secrets.VendorAPIKey: "k"}, vendor, nil)

	d := acmeDraft()
	d.Prompt = "Custom prompt"
	d.WelcomeMessage = "Custom hello"
	if _, err := p.Provision(context.Background(), d, testSession); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	agent := vendor.cfg.ConversationConfig.Agent
	if agent.Prompt.Prompt != "Custom prompt" || agent.FirstMessage != "Custom hello" {
		t.Fatalf("explicit values replaced: %+v", agent)
	}
}

func TestProvisionRejectsUnmappedStyleBeforeCall(t *testing.T) {
	vendor := &fakeVendor{id: "agent_1"}
	p := New(voice.Default(), staticSecret{secrets.VendorAPIKey: "k"}, vendor, nil)

	d := acmeDraft()
	d.VoiceStyle = "whisper"
	_, err := p.Provision(context.Background(), d, testSession)
	if !errors.Is(err, voice.ErrUnmappedVoiceStyle) {
		t.Fatalf("expected ErrUnmappedVoiceStyle, got %v", err)
	}
	if vendor.calls != 0 {
		t.Fatalf("vendor called %d times", vendor.calls)
	}
}

func TestProvisionFailsFastWithoutSecret(t *testing.T) {
	vendor := &fakeVendor{id: "agent_1"}
	p := New(voice.Default(), staticSecret{}, vendor, nil)

	_, err := p.Provision(context.Background(), acmeDraft(), testSession)
	if !errors.Is(err, secrets.ErrSecretUnavailable) {
		t.Fatalf("expected ErrSecretUnavailable, got %v", err)
	}
	if vendor.calls != 0 {
		t.Fatalf("vendor called %d times", vendor.calls)
	}
}

func TestProvisionPropagatesVendorError(t *testing.T) {
	vendorErr := &elevenlabs.ProvisioningError{StatusCode: 422}
	vendor := &fakeVendor{err: vendorErr}
	p := New(voice.Default(), staticSecret{secrets.VendorAPIKey: "k"}, vendor, nil)

	_, err := p.Provision(context.Background(), acmeDraft(), testSession)
	var pe *elevenlabs.ProvisioningError
	if !errors.As(err, &pe) || pe.StatusCode != 422 {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}
	if vendor.calls != 1 {
		t.Fatalf("vendor called %d times, want 1", vendor.calls)
	}
}

func TestProvisionAppendsKnowledgeBase(t *testing.T) {
	vendor := &fakeVendor{id: "agent_1"}
	long := strings.Repeat("x", MaxReferenceChars+100)
	p := New(voice.Default(), staticSecret{secrets.VendorAPIKey: "k"}, vendor, fakeTexts{"kb-1": long})

	d := acmeDraft()
	d.KnowledgeBaseRef = "kb-1"
	if _, err := p.Provision(context.Background(), d, testSession); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	prompt := vendor.cfg.ConversationConfig.Agent.Prompt.Prompt
	if !strings.HasPrefix(prompt, "You are Ava") || !strings.Contains(prompt, "## Reference material") {
		t.Fatalf("reference material not appended: %q", prompt[:80])
	}
	if got := strings.Count(prompt, "x"); got != MaxReferenceChars {
		t.Fatalf("reference length = %d, want %d", got, MaxReferenceChars)
	}
}

func TestProvisionRequiresSession(t *testing.T) {
	vendor := &fakeVendor{id: "agent_1"}
	p := New(voice.Default(), staticSecret{secrets.VendorAPIKey: "k"}, vendor, nil)
	if _, err := p.Provision(context.Background(), acmeDraft(), nil); err == nil {
		t.Fatal("expected error without session")
	}
	if vendor.calls != 0 {
		t.Fatalf("vendor called %d times", vendor.calls)
	}
}
