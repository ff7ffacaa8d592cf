// Package domain contains core domain types for the voicedesk service.
package domain

import (
	"fmt"
	"html"
	"time"
)

// AgentRecord is the local record of an agent provisioned at the vendor.
type AgentRecord struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"user_id"`
	Name           string     `json:"name"`
	BusinessName   string     `json:"business_name"`
	AgentName      string     `json:"agent_name"`
	VoiceStyle     VoiceStyle `json:"voice_style"`
	Prompt         string     `json:"prompt"`
	WelcomeMessage string     `json:"welcome_message"`
	RemoteAgentID  string     `json:"remote_agent_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewAgentRecord builds the record written after a successful provisioning.
// The display name starts out as the business name.
func NewAgentRecord(id, ownerID, remoteAgentID string, d DraftConfiguration, now time.Time) *AgentRecord {
	return &AgentRecord{
		ID:             id,
		OwnerID:        ownerID,
		Name:           d.BusinessName,
		BusinessName:   d.BusinessName,
		AgentName:      d.AgentName,
		VoiceStyle:     d.VoiceStyle,
		Prompt:         d.Prompt,
		WelcomeMessage: d.WelcomeMessage,
		RemoteAgentID:  remoteAgentID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AgentPatch lists the fields an owner may edit after creation.
// Voice style and remote agent id are fixed once the agent exists.
type AgentPatch struct {
	Name           *string `json:"name,omitempty"`
	BusinessName   *string `json:"business_name,omitempty"`
	AgentName      *string `json:"agent_name,omitempty"`
	Prompt         *string `json:"prompt,omitempty"`
	WelcomeMessage *string `json:"welcome_message,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AgentPatch) Empty() bool {
	return p.Name == nil && p.BusinessName == nil && p.AgentName == nil &&
		p.Prompt == nil && p.WelcomeMessage == nil
}

// Apply merges the patch into a.
func (p AgentPatch) Apply(a *AgentRecord) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.BusinessName != nil {
		a.BusinessName = *p.BusinessName
	}
	if p.AgentName != nil {
		a.AgentName = *p.AgentName
	}
	if p.Prompt != nil {
		a.Prompt = *p.Prompt
	}
	if p.WelcomeMessage != nil {
		a.WelcomeMessage = *p.WelcomeMessage
	}
}

const widgetScriptURL = "https://elevenlabs.io/convai-widget/index.js"

// EmbedSnippet returns the HTML an owner pastes into their site to show the
// conversation widget for this agent.
func (a *AgentRecord) EmbedSnippet() string {
	return fmt.Sprintf("<elevenlabs-convai agent-id=\"%s\"></elevenlabs-convai>\n"+
		"<script src=\"%s\" async type=\"text/javascript\"></script>",
		html.EscapeString(a.RemoteAgentID), widgetScriptURL)
}
