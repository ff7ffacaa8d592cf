package handoff

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/notify"
	"github.com/ashureev/voicedesk/internal/store"
)

// Reactor replays a device's pending configuration once the visitor signs in.
type Reactor struct {
	deps
	group singleflight.Group
}

// NewReactor creates a Reactor.
func NewReactor(pending store.PendingStore, agents store.AgentStore, prov Provisioner, n notify.Notifier) *Reactor {
	return &Reactor{deps: newDeps(pending, agents, prov, n)}
}

// Replay claims the device's waiting item and creates its agent. It returns
// nil with no error when there is nothing to replay. Failed items are left
// for Retry and are not picked up here.
func (r *Reactor) Replay(ctx context.Context, deviceID string, session *identity.Session) (*domain.AgentRecord, error) {
	if session == nil {
		return nil, ErrAuthenticationRequired
	}
	return r.run(ctx, deviceID, session, domain.PendingWaiting)
}

// Retry re-attempts the device's failed item. An item whose remote agent was
// already created is recorded without a second vendor call.
func (r *Reactor) Retry(ctx context.Context, deviceID string, session *identity.Session) (*domain.AgentRecord, error) {
	if session == nil {
		return nil, ErrAuthenticationRequired
	}
	rec, err := r.run(ctx, deviceID, session, domain.PendingFailed)
	if err == nil && rec == nil {
		return nil, ErrNothingToRetry
	}
	return rec, err
}

func (r *Reactor) run(ctx context.Context, deviceID string, session *identity.Session, from domain.PendingStatus) (*domain.AgentRecord, error) {
	v, err, shared := r.group.Do(deviceID+"/"+string(from), func() (any, error) {
		return r.attempt(ctx, deviceID, session, from)
	})
	if shared {
		slog.Debug("Replay coalesced", "device_id", deviceID)
	}
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*domain.AgentRecord)
	return rec, nil
}

func (r *Reactor) attempt(ctx context.Context, deviceID string, session *identity.Session, from domain.PendingStatus) (*domain.AgentRecord, error) {
	item, err := r.pending.ClaimPending(ctx, deviceID, session.UserID, from, r.now())
	if err != nil {
		return nil, fmt.Errorf("claim pending configuration: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	slog.Info("Replaying pending configuration",
		"device_id", deviceID, "user_id", session.UserID, "request_id", item.RequestID, "attempt", item.Attempts+1)

	rec, remoteID, err := r.create(ctx, item.Draft, session, item.RemoteAgentID)
	if err != nil {
		r.fail(ctx, item, remoteID, err)
		return nil, err
	}

	cleared, err := r.pending.CompletePending(ctx, deviceID, item.RequestID)
	if err != nil {
		slog.Error("Failed to clear pending configuration", "device_id", deviceID, "request_id", item.RequestID, "error", err)
	} else if !cleared {
		slog.Info("Pending slot was replaced during replay", "device_id", deviceID, "request_id", item.RequestID)
	}

	slog.Info("Agent created from pending configuration", "user_id", session.UserID, "agent_id", rec.ID, "request_id", item.RequestID)
	r.notifySuccess(deviceID, rec)
	return rec, nil
}

func (r *Reactor) fail(ctx context.Context, item *domain.PendingConfiguration, remoteID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()

	if err := r.pending.FailPending(ctx, item.DeviceID, item.RequestID, remoteID, cause.Error(), r.now()); err != nil {
		slog.Error("Failed to mark pending configuration failed",
			"device_id", item.DeviceID, "request_id", item.RequestID, "error", err)
	}
	r.notifyFailure(item.DeviceID, cause)
}
