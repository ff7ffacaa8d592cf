// Package elevenlabs is a client for the ElevenLabs conversational AI and
// text-to-speech APIs.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultTimeout = 30 * time.Second
	apiKeyHeader   = "xi-api-key"
	maxErrorBody   = 64 << 10
	maxAudioBody   = 16 << 20
)

// ProvisioningError is returned when the vendor rejects a request or cannot be
// reached. Payload holds the vendor's error body when there was one.
type ProvisioningError struct {
	StatusCode int
	Payload    json.RawMessage
	Err        error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("elevenlabs request failed: %v", e.Err)
	}
	return fmt.Sprintf("elevenlabs API error (HTTP %d): %s", e.StatusCode, string(e.Payload))
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// Client communicates with the ElevenLabs API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(baseURL string, timeout time.Duration) *Client {
	c := NewClient(timeout)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// CreateAgent provisions a conversational agent and returns its id.
// It makes exactly one request; failures are not retried.
func (c *Client) CreateAgent(ctx context.Context, apiKey string, cfg AgentConfig) (string, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling agent config: %w", err)
	}

	resp, err := c.post(ctx, "/v1/convai/agents/create", apiKey, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out createAgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ProvisioningError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if out.AgentID == "" {
		return "", &ProvisioningError{StatusCode: resp.StatusCode, Err: errors.New("response has no agent_id")}
	}
	return out.AgentID, nil
}

// TextToSpeech synthesizes text with the given voice and returns MPEG audio.
func (c *Client) TextToSpeech(ctx context.Context, apiKey, voiceID, text string) ([]byte, error) {
	body, err := json.Marshal(SpeechRequest{
		Text:    text,
		ModelID: DefaultTTSModel,
		VoiceSettings: VoiceSettings{
			Stability:       DefaultStability,
			SimilarityBoost: DefaultSimilarity,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling speech request: %w", err)
	}

	resp, err := c.post(ctx, "/v1/text-to-speech/"+voiceID, apiKey, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBody))
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return audio, nil
}

// post sends a JSON request and returns the response for 2xx statuses.
// Any other status is converted to a ProvisioningError.
func (c *Client) post(ctx context.Context, path, apiKey string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProvisioningError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if !json.Valid(payload) {
			quoted, _ := json.Marshal(string(payload))
			payload = quoted
		}
		return nil, &ProvisioningError{StatusCode: resp.StatusCode, Payload: payload}
	}
	return resp, nil
}
