package voice

import (
	"context"
	"fmt"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/secrets"
)

// Synthesizer turns text into audio with a vendor voice.
type Synthesizer interface {
	TextToSpeech(ctx context.Context, apiKey, voiceID, text string) ([]byte, error)
}

// Previewer renders a style's sample sentence.
type Previewer struct {
	catalog *Catalog
	secrets secrets.Source
	synth   Synthesizer
}

// NewPreviewer creates a Previewer.
func NewPreviewer(catalog *Catalog, src secrets.Source, synth Synthesizer) *Previewer {
	return &Previewer{catalog: catalog, secrets: src, synth: synth}
}

// Preview returns MPEG audio of the preview sentence for style.
func (p *Previewer) Preview(ctx context.Context, style domain.VoiceStyle) ([]byte, error) {
	v, err := p.catalog.Lookup(style)
	if err != nil {
		return nil, err
	}
	apiKey, err := p.secrets.Secret(ctx, secrets.VendorAPIKey)
	if err != nil {
		return nil, err
	}
	audio, err := p.synth.TextToSpeech(ctx, apiKey, v.VoiceID, v.PreviewText)
	if err != nil {
		return nil, fmt.Errorf("synthesize %s preview: %w", style, err)
	}
	return audio, nil
}
