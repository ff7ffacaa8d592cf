package domain

import "time"

// PendingFormatVersion is bumped whenever the stored draft encoding changes.
const PendingFormatVersion = 1

// PendingStatus is the lifecycle state of a pending configuration.
type PendingStatus string

const (
	// PendingWaiting items are replayed on the next sign-in of their device.
	PendingWaiting PendingStatus = "pending"
	// PendingClaimed items have been taken by a replay that is still running.
	PendingClaimed PendingStatus = "claimed"
	// PendingFailed items are held for an explicit retry or discard.
	PendingFailed PendingStatus = "failed"
)

// PendingConfiguration is a draft parked until its device signs in.
// Each device holds at most one; a newer submit replaces the old one.
type PendingConfiguration struct {
	RequestID     string             `json:"request_id"`
	DeviceID      string             `json:"-"`
	FormatVersion int                `json:"format_version"`
	Draft         DraftConfiguration `json:"draft"`
	Status        PendingStatus      `json:"status"`
	Attempts      int                `json:"attempts"`
	ClaimedBy     string             `json:"-"`
	RemoteAgentID string             `json:"-"`
	LastError     string             `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
}

// Expired reports whether the item is past its expiry at now.
func (p *PendingConfiguration) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
