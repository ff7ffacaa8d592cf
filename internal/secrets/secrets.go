// Package secrets resolves named secrets such as the vendor API key.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/voicedesk/internal/store"
)

// VendorAPIKey names the ElevenLabs API key secret.
const VendorAPIKey = "ELEVENLABS_API_KEY"

// ErrSecretUnavailable is returned when no source holds the requested secret.
var ErrSecretUnavailable = errors.New("secret unavailable")

// Source looks up a secret by name. Implementations return
// ErrSecretUnavailable when they do not hold it.
type Source interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Env reads secrets from process environment variables.
type Env struct{}

// Secret implements Source.
func (Env) Secret(_ context.Context, name string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretUnavailable, name)
}

// Store reads secrets kept in the database secrets table.
type Store struct {
	Secrets store.SecretStore
}

// Secret implements Source.
func (s Store) Secret(ctx context.Context, name string) (string, error) {
	v, err := s.Secrets.GetSecret(ctx, name)
	if errors.Is(err, store.ErrNotFound) || (err == nil && strings.TrimSpace(v) == "") {
		return "", fmt.Errorf("%w: %s", ErrSecretUnavailable, name)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	return strings.TrimSpace(v), nil
}

// Chain tries each source in order and returns the first hit.
type Chain []Source

// Secret implements Source.
func (c Chain) Secret(ctx context.Context, name string) (string, error) {
	for _, src := range c {
		v, err := src.Secret(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretUnavailable) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretUnavailable, name)
}
