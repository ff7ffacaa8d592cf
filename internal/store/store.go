// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/voicedesk/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("not found")

// DraftStore persists wizard progress per device.
type DraftStore interface {
	// GetDraft returns the wizard state for a device, or nil if none exists.
	GetDraft(ctx context.Context, deviceID string) (*domain.WizardState, error)

	// SaveDraft creates or replaces the wizard state for a device.
	SaveDraft(ctx context.Context, state *domain.WizardState) error

	// DeleteDraft removes the wizard state for a device.
	DeleteDraft(ctx context.Context, deviceID string) error

	// DeleteStaleDrafts removes drafts not updated since before.
	DeleteStaleDrafts(ctx context.Context, before time.Time) (int64, error)
}

// PendingStore is the single-slot deferred creation store, one slot per device.
type PendingStore interface {
	// PutPending writes the device's slot, replacing any previous item.
	PutPending(ctx context.Context, item *domain.PendingConfiguration) error

	// GetPending returns the device's item, or nil if the slot is empty.
	GetPending(ctx context.Context, deviceID string) (*domain.PendingConfiguration, error)

	// ClaimPending atomically moves the device's item from status from to
	// claimed and returns it. It returns nil if there is no unexpired item in
	// that status, so only one caller can win a given item.
	ClaimPending(ctx context.Context, deviceID, userID string, from domain.PendingStatus, now time.Time) (*domain.PendingConfiguration, error)

	// CompletePending clears the slot if it still holds requestID.
	CompletePending(ctx context.Context, deviceID, requestID string) (bool, error)

	// FailPending marks a claimed item as failed, keeping it for recovery.
	FailPending(ctx context.Context, deviceID, requestID, remoteAgentID, reason string, now time.Time) error

	// DeletePending empties the device's slot.
	DeletePending(ctx context.Context, deviceID string) error

	// DeleteExpiredPending removes unclaimed items whose expiry has passed.
	DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error)

	// ReleaseStaleClaims marks items claimed before cutoff as failed so an
	// interrupted replay can be retried explicitly.
	ReleaseStaleClaims(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// KnowledgeRefStore reports which knowledge-base uploads are still referenced.
type KnowledgeRefStore interface {
	KnowledgeRefsInUse(ctx context.Context) (map[string]bool, error)
}

// AgentStore persists agent records. Every call is scoped to an owner.
type AgentStore interface {
	InsertAgent(ctx context.Context, rec *domain.AgentRecord) error
	ListAgents(ctx context.Context, ownerID string) ([]*domain.AgentRecord, error)
	GetAgent(ctx context.Context, ownerID, id string) (*domain.AgentRecord, error)
	UpdateAgent(ctx context.Context, ownerID, id string, patch domain.AgentPatch, now time.Time) (*domain.AgentRecord, error)
	DeleteAgent(ctx context.Context, ownerID, id string) error
}

// SecretStore holds named secrets such as vendor API keys.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
	PutSecret(ctx context.Context, name, value string) error
}

// Repository is the full persistence surface of the service.
type Repository interface {
	DraftStore
	PendingStore
	AgentStore
	SecretStore
	KnowledgeRefStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
