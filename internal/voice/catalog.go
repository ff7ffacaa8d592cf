// Package voice holds the table mapping wizard voice styles to vendor voices.
package voice

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/voicedesk/internal/domain"
)

//go:embed voices.yaml
var defaultCatalog []byte

// ErrUnmappedVoiceStyle is returned for a style with no vendor voice.
var ErrUnmappedVoiceStyle = errors.New("voice style has no vendor voice")

// Voice is one row of the catalog.
type Voice struct {
	Style       domain.VoiceStyle `yaml:"style" json:"style"`
	VoiceID     string            `yaml:"voice_id" json:"voice_id"`
	Label       string            `yaml:"label" json:"label"`
	PreviewText string            `yaml:"preview_text" json:"preview_text"`
}

type catalogFile struct {
	Voices []Voice `yaml:"voices"`
}

// Catalog is an immutable style to voice lookup table.
type Catalog struct {
	order  []domain.VoiceStyle
	voices map[domain.VoiceStyle]Voice
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic("voice: embedded catalog is invalid: " + err.Error())
	}
	return c
}

// Load reads a catalog file, or returns the default catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML. Every supported style must be
// mapped exactly once.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode voice catalog: %w", err)
	}

	c := &Catalog{voices: make(map[domain.VoiceStyle]Voice, len(f.Voices))}
	for _, v := range f.Voices {
		if !v.Style.Valid() {
			return nil, fmt.Errorf("voice catalog: unknown style %q", v.Style)
		}
		if v.VoiceID == "" {
			return nil, fmt.Errorf("voice catalog: style %q has no voice_id", v.Style)
		}
		if _, dup := c.voices[v.Style]; dup {
			return nil, fmt.Errorf("voice catalog: style %q listed twice", v.Style)
		}
		c.voices[v.Style] = v
		c.order = append(c.order, v.Style)
	}
	for _, s := range domain.VoiceStyles() {
		if _, ok := c.voices[s]; !ok {
			return nil, fmt.Errorf("voice catalog: style %q is not mapped", s)
		}
	}
	return c, nil
}

// Lookup returns the voice for style.
func (c *Catalog) Lookup(style domain.VoiceStyle) (Voice, error) {
	v, ok := c.voices[style]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %q", ErrUnmappedVoiceStyle, style)
	}
	return v, nil
}

// All returns the voices in catalog order.
func (c *Catalog) All() []Voice {
	out := make([]Voice, 0, len(c.order))
	for _, s := range c.order {
		out = append(out, c.voices[s])
	}
	return out
}
