// Package provision turns a draft configuration into a remote ElevenLabs agent.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/elevenlabs"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/secrets"
	"github.com/ashureev/voicedesk/internal/voice"
)

// MaxReferenceChars bounds the knowledge-base text appended to a prompt.
const MaxReferenceChars = 16000

const referenceHeading = "\n\n## Reference material\n\n"

// AgentCreator creates remote agents. *elevenlabs.Client satisfies it.
type AgentCreator interface {
	CreateAgent(ctx context.Context, apiKey string, cfg elevenlabs.AgentConfig) (string, error)
}

// TextSource returns extracted knowledge-base text. *knowledge.Store satisfies it.
type TextSource interface {
	Text(ref string) (string, error)
}

// Provisioner issues exactly one vendor create call per Provision.
type Provisioner struct {
	voices    *voice.Catalog
	secrets   secrets.Source
	vendor    AgentCreator
	knowledge TextSource
}

// New creates a Provisioner. knowledge may be nil when uploads are disabled.
func New(voices *voice.Catalog, src secrets.Source, vendor AgentCreator, knowledge TextSource) *Provisioner {
	return &Provisioner{voices: voices, secrets: src, vendor: vendor, knowledge: knowledge}
}

// DefaultPrompt is the prompt used when a draft leaves it empty.
func DefaultPrompt(d domain.DraftConfiguration) string {
	return fmt.Sprintf("You are %s, a helpful AI assistant for %s.", d.AgentName, d.BusinessName)
}

// DefaultFirstMessage is the greeting used when a draft leaves it empty.
func DefaultFirstMessage(d domain.DraftConfiguration) string {
	return fmt.Sprintf("Hello! I'm %s, how can I help you today?", d.AgentName)
}

// BuildConfig resolves the draft into the vendor payload without calling out.
func (p *Provisioner) BuildConfig(d domain.DraftConfiguration) (elevenlabs.AgentConfig, error) {
	v, err := p.voices.Lookup(d.VoiceStyle)
	if err != nil {
		return elevenlabs.AgentConfig{}, err
	}

	prompt := strings.TrimSpace(d.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt(d)
	}
	first := strings.TrimSpace(d.WelcomeMessage)
	if first == "" {
		first = DefaultFirstMessage(d)
	}

	if d.KnowledgeBaseRef != "" && p.knowledge != nil {
		text, err := p.knowledge.Text(d.KnowledgeBaseRef)
		if err != nil {
			return elevenlabs.AgentConfig{}, fmt.Errorf("load knowledge base: %w", err)
		}
		prompt = appendReference(prompt, text)
	}

	return elevenlabs.NewAgentConfig(elevenlabs.AgentSpec{
		Name:         d.AgentName,
		VoiceID:      v.VoiceID,
		Prompt:       prompt,
		FirstMessage: first,
	}), nil
}

func appendReference(prompt, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return prompt
	}
	if r := []rune(text); len(r) > MaxReferenceChars {
		text = string(r[:MaxReferenceChars])
	}
	return prompt + referenceHeading + text
}

// Provision creates the remote agent for d on behalf of session and returns
// its remote id. It fails before any network call when the voice style is
// unmapped or the vendor key is unavailable.
func (p *Provisioner) Provision(ctx context.Context, d domain.DraftConfiguration, session *identity.Session) (string, error) {
	if session == nil {
		return "", errors.New("provision requires an authenticated session")
	}

	if _, err := p.voices.Lookup(d.VoiceStyle); err != nil {
		return "", err
	}
	apiKey, err := p.secrets.Secret(ctx, secrets.VendorAPIKey)
	if err != nil {
		return "", err
	}
	cfg, err := p.BuildConfig(d)
	if err != nil {
		return "", err
	}

	remoteID, err := p.vendor.CreateAgent(ctx, apiKey, cfg)
	if err != nil {
		slog.Error("Agent provisioning failed", "user_id", session.UserID, "voice_style", d.VoiceStyle, "error", err)
		return "", err
	}
	slog.Info("Agent provisioned", "user_id", session.UserID, "remote_agent_id", remoteID)
	return remoteID, nil
}
