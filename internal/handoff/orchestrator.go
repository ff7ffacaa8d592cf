package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/notify"
	"github.com/ashureev/voicedesk/internal/store"
)

// OutcomeStatus tells the caller what a submit did.
type OutcomeStatus string

const (
	// OutcomeCreated means the agent was provisioned and recorded.
	OutcomeCreated OutcomeStatus = "created"
	// OutcomeDeferred means the draft was parked until the device signs in.
	OutcomeDeferred OutcomeStatus = "deferred"
)

// Outcome is the result of Submit.
type Outcome struct {
	Status     OutcomeStatus       `json:"status"`
	Agent      *domain.AgentRecord `json:"agent,omitempty"`
	RequestID  string              `json:"request_id,omitempty"`
	RedirectTo string              `json:"redirect_to,omitempty"`
}

// Orchestrator decides between creating an agent now and deferring it
// until sign-in.
type Orchestrator struct {
	deps
	signupPath string
	pendingTTL time.Duration
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(pending store.PendingStore, agents store.AgentStore, prov Provisioner, n notify.Notifier, signupPath string, pendingTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		deps:       newDeps(pending, agents, prov, n),
		signupPath: signupPath,
		pendingTTL: pendingTTL,
	}
}

// Submit hands off a finished draft. Without a session the draft replaces the
// device's pending slot and a deferred outcome is returned; no vendor call is
// made. With a session the agent is provisioned and then recorded.
func (o *Orchestrator) Submit(ctx context.Context, deviceID string, session *identity.Session, draft domain.DraftConfiguration) (*Outcome, error) {
	if session == nil {
		return o.deferUntilSignIn(ctx, deviceID, draft)
	}

	rec, remoteID, err := o.create(ctx, draft, session, "")
	if err != nil {
		if remoteID != "" {
			o.parkOrphan(ctx, deviceID, session.UserID, draft, remoteID, err)
		}
		o.notifyFailure(deviceID, err)
		return nil, err
	}

	slog.Info("Agent created", "user_id", session.UserID, "device_id", deviceID, "agent_id", rec.ID)
	o.notifySuccess(deviceID, rec)
	return &Outcome{Status: OutcomeCreated, Agent: rec}, nil
}

func (o *Orchestrator) deferUntilSignIn(ctx context.Context, deviceID string, draft domain.DraftConfiguration) (*Outcome, error) {
	now := o.now()
	item := &domain.PendingConfiguration{
		RequestID:     o.newID(),
		DeviceID:      deviceID,
		FormatVersion: domain.PendingFormatVersion,
		Draft:         draft,
		Status:        domain.PendingWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(o.pendingTTL),
	}
	if err := o.pending.PutPending(ctx, item); err != nil {
		return nil, fmt.Errorf("store pending configuration: %w", err)
	}

	slog.Info("Agent creation deferred until sign-in", "device_id", deviceID, "request_id", item.RequestID)
	o.notifier.Notify(deviceID, notify.New(domain.NotifyInfo,
		"Account required",
		"Create an account to finish setting up your agent."))
	return &Outcome{Status: OutcomeDeferred, RequestID: item.RequestID, RedirectTo: o.signupPath}, nil
}

// parkOrphan keeps a remote agent that could not be recorded as a failed
// pending item so Retry can record it without provisioning again.
func (o *Orchestrator) parkOrphan(ctx context.Context, deviceID, userID string, draft domain.DraftConfiguration, remoteID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()

	now := o.now()
	item := &domain.PendingConfiguration{
		RequestID:     o.newID(),
		DeviceID:      deviceID,
		FormatVersion: domain.PendingFormatVersion,
		Draft:         draft,
		Status:        domain.PendingFailed,
		Attempts:      1,
		ClaimedBy:     userID,
		RemoteAgentID: remoteID,
		LastError:     cause.Error(),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(o.pendingTTL),
	}
	if err := o.pending.PutPending(ctx, item); err != nil {
		slog.Error("Failed to park orphaned remote agent", "device_id", deviceID, "remote_agent_id", remoteID, "error", err)
	}
}
