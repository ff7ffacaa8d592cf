package domain

import "fmt"

// VoiceStyle is the tone a visitor picks for their agent.
type VoiceStyle string

// Supported voice styles.
const (
	VoiceFriendly     VoiceStyle = "friendly"
	VoiceProfessional VoiceStyle = "professional"
	VoiceEnergetic    VoiceStyle = "energetic"
	VoiceCalm         VoiceStyle = "calm"
)

// DefaultVoiceStyle is preselected when a new wizard draft is created.
const DefaultVoiceStyle = VoiceFriendly

// VoiceStyles lists the supported styles in display order.
func VoiceStyles() []VoiceStyle {
	return []VoiceStyle{VoiceFriendly, VoiceProfessional, VoiceEnergetic, VoiceCalm}
}

// Valid reports whether s is one of the supported styles.
func (s VoiceStyle) Valid() bool {
	switch s {
	case VoiceFriendly, VoiceProfessional, VoiceEnergetic, VoiceCalm:
		return true
	}
	return false
}

// ParseVoiceStyle converts raw input into a VoiceStyle.
func ParseVoiceStyle(raw string) (VoiceStyle, error) {
	s := VoiceStyle(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown voice style %q", raw)
	}
	return s, nil
}
