package elevenlabs

// AgentConfig is the body of the agent-creation request.
type AgentConfig struct {
	ConversationConfig ConversationConfig `json:"conversation_config"`
	PlatformSettings   PlatformSettings   `json:"platform_settings"`
	Name               string             `json:"name"`
}

type ConversationConfig struct {
	Agent        AgentSettings        `json:"agent"`
	ASR          ASRSettings          `json:"asr"`
	TTS          TTSSettings          `json:"tts"`
	Conversation ConversationSettings `json:"conversation"`
}

type AgentSettings struct {
	Prompt       PromptSettings `json:"prompt"`
	FirstMessage string         `json:"first_message"`
	Language     string         `json:"language"`
}

type PromptSettings struct {
	Prompt      string  `json:"prompt"`
	LLM         string  `json:"llm"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type ASRSettings struct {
	Quality              string `json:"quality"`
	Provider             string `json:"provider"`
	UserInputAudioFormat string `json:"user_input_audio_format"`
}

type TTSSettings struct {
	ModelID                string  `json:"model_id"`
	VoiceID                string  `json:"voice_id"`
	AgentOutputAudioFormat string  `json:"agent_output_audio_format"`
	Stability              float64 `json:"stability"`
	SimilarityBoost        float64 `json:"similarity_boost"`
}

type ConversationSettings struct {
	MaxDurationSeconds int `json:"max_duration_seconds"`
}

type PlatformSettings struct {
	Auth   AuthSettings   `json:"auth"`
	Widget WidgetSettings `json:"widget"`
}

type AuthSettings struct {
	EnableAuth bool `json:"enable_auth"`
}

type WidgetSettings struct {
	Variant string       `json:"variant"`
	Avatar  WidgetAvatar `json:"avatar"`
}

type WidgetAvatar struct {
	Type   string `json:"type"`
	Color1 string `json:"color_1"`
	Color2 string `json:"color_2"`
}

// AgentSpec is the per-agent input to NewAgentConfig.
type AgentSpec struct {
	Name         string
	VoiceID      string
	Prompt       string
	FirstMessage string
}

// Fixed agent defaults.
const (
	DefaultLanguage       = "en"
	DefaultLLM            = "gpt-4o-mini"
	DefaultTTSModel       = "eleven_turbo_v2"
	DefaultAudioFormat    = "pcm_16000"
	DefaultMaxDuration    = 600
	DefaultStability      = 0.5
	DefaultSimilarity     = 0.8
	defaultWidgetVariant  = "compact"
	defaultAvatarType     = "orb"
	defaultAvatarColor1   = "#2792dc"
	defaultAvatarColor2   = "#9ce6e6"
	defaultASRQuality     = "high"
	defaultASRProvider    = "elevenlabs"
	defaultMaxTokensUnset = -1
)

// NewAgentConfig fills the fixed defaults around the per-agent fields.
func NewAgentConfig(spec AgentSpec) AgentConfig {
	return AgentConfig{
		ConversationConfig: ConversationConfig{
			Agent: AgentSettings{
				Prompt: PromptSettings{
					Prompt:      spec.Prompt,
					LLM:         DefaultLLM,
					Temperature: 0,
					MaxTokens:   defaultMaxTokensUnset,
				},
				FirstMessage: spec.FirstMessage,
				Language:     DefaultLanguage,
			},
			ASR: ASRSettings{
				Quality:              defaultASRQuality,
				Provider:             defaultASRProvider,
				UserInputAudioFormat: DefaultAudioFormat,
			},
			TTS: TTSSettings{
				ModelID:                DefaultTTSModel,
				VoiceID:                spec.VoiceID,
				AgentOutputAudioFormat: DefaultAudioFormat,
				Stability:              DefaultStability,
				SimilarityBoost:        DefaultSimilarity,
			},
			Conversation: ConversationSettings{MaxDurationSeconds: DefaultMaxDuration},
		},
		PlatformSettings: PlatformSettings{
			Auth: AuthSettings{EnableAuth: false},
			Widget: WidgetSettings{
				Variant: defaultWidgetVariant,
				Avatar: WidgetAvatar{
					Type:   defaultAvatarType,
					Color1: defaultAvatarColor1,
					Color2: defaultAvatarColor2,
				},
			},
		},
		Name: spec.Name,
	}
}

type createAgentResponse struct {
	AgentID string `json:"agent_id"`
}

// SpeechRequest is the body of a text-to-speech request.
type SpeechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}
