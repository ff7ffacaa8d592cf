package domain

import "time"

// DraftConfiguration is the agent configuration collected by the wizard.
type DraftConfiguration struct {
	BusinessName     string     `json:"businessName"`
	AgentName        string     `json:"agentName"`
	VoiceStyle       VoiceStyle `json:"voiceStyle"`
	Prompt           string     `json:"prompt"`
	WelcomeMessage   string     `json:"welcomeMessage"`
	KnowledgeBaseRef string     `json:"knowledgeBaseFileRef,omitempty"`
}

// NewDraft returns an empty draft with the default voice preselected.
func NewDraft() DraftConfiguration {
	return DraftConfiguration{VoiceStyle: DefaultVoiceStyle}
}

// DraftPatch carries a partial update to a draft. Nil fields are left alone.
type DraftPatch struct {
	BusinessName     *string     `json:"businessName,omitempty"`
	AgentName        *string     `json:"agentName,omitempty"`
	VoiceStyle       *VoiceStyle `json:"voiceStyle,omitempty"`
	Prompt           *string     `json:"prompt,omitempty"`
	WelcomeMessage   *string     `json:"welcomeMessage,omitempty"`
	KnowledgeBaseRef *string     `json:"knowledgeBaseFileRef,omitempty"`
}

// Apply merges the patch into d.
func (p DraftPatch) Apply(d *DraftConfiguration) {
	if p.BusinessName != nil {
		d.BusinessName = *p.BusinessName
	}
	if p.AgentName != nil {
		d.AgentName = *p.AgentName
	}
	if p.VoiceStyle != nil {
		d.VoiceStyle = *p.VoiceStyle
	}
	if p.Prompt != nil {
		d.Prompt = *p.Prompt
	}
	if p.WelcomeMessage != nil {
		d.WelcomeMessage = *p.WelcomeMessage
	}
	if p.KnowledgeBaseRef != nil {
		d.KnowledgeBaseRef = *p.KnowledgeBaseRef
	}
}

// WizardState is the persisted position of a device in the onboarding wizard.
type WizardState struct {
	DeviceID  string             `json:"-"`
	Step      int                `json:"step"`
	Draft     DraftConfiguration `json:"draft"`
	UpdatedAt time.Time          `json:"updated_at"`
}
