// Package handoff moves a wizard draft across the sign-up boundary and turns
// it into exactly one provisioned agent and agent record.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/elevenlabs"
	"github.com/ashureev/voicedesk/internal/identity"
	"github.com/ashureev/voicedesk/internal/notify"
	"github.com/ashureev/voicedesk/internal/secrets"
	"github.com/ashureev/voicedesk/internal/store"
	"github.com/ashureev/voicedesk/internal/voice"
)

// ErrAuthenticationRequired is returned by operations that need a signed-in
// session when none is present.
var ErrAuthenticationRequired = errors.New("authentication required")

// ErrNothingToRetry is returned by Retry when the device holds no failed item.
var ErrNothingToRetry = errors.New("no failed configuration to retry")

// PersistenceError reports a record write that failed after the remote agent
// was created. RemoteAgentID identifies the agent left without a record.
type PersistenceError struct {
	RemoteAgentID string
	Err           error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save agent record for remote agent %s: %v", e.RemoteAgentID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Provisioner creates the remote agent for a draft.
type Provisioner interface {
	Provision(ctx context.Context, d domain.DraftConfiguration, session *identity.Session) (string, error)
}

// failureTimeout bounds bookkeeping writes made after an attempt failed, when
// the attempt's own context may already be done.
const failureTimeout = 5 * time.Second

type deps struct {
	pending  store.PendingStore
	agents   store.AgentStore
	prov     Provisioner
	notifier notify.Notifier
	now      func() time.Time
	newID    func() string
}

func newDeps(pending store.PendingStore, agents store.AgentStore, prov Provisioner, n notify.Notifier) deps {
	return deps{
		pending:  pending,
		agents:   agents,
		prov:     prov,
		notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// create provisions d unless remoteID is already known, then inserts the
// record. The returned remote id is set whenever the vendor call succeeded.
func (d *deps) create(ctx context.Context, draft domain.DraftConfiguration, session *identity.Session, remoteID string) (*domain.AgentRecord, string, error) {
	if remoteID == "" {
		id, err := d.prov.Provision(ctx, draft, session)
		if err != nil {
			return nil, "", err
		}
		remoteID = id
	}

	rec := domain.NewAgentRecord(d.newID(), session.UserID, remoteID, draft, d.now())
	if err := d.agents.InsertAgent(ctx, rec); err != nil {
		slog.Error("Agent record write failed after provisioning",
			"user_id", session.UserID, "remote_agent_id", remoteID, "error", err)
		return nil, remoteID, &PersistenceError{RemoteAgentID: remoteID, Err: err}
	}
	return rec, remoteID, nil
}

func (d *deps) notifySuccess(deviceID string, rec *domain.AgentRecord) {
	d.notifier.Notify(deviceID, notify.New(domain.NotifySuccess,
		"Agent created",
		fmt.Sprintf("%s for %s is ready.", rec.AgentName, rec.BusinessName)))
}

func (d *deps) notifyFailure(deviceID string, err error) {
	d.notifier.Notify(deviceID, notify.New(domain.NotifyError, "Agent creation failed", Describe(err)))
}

// Describe turns an orchestration error into a user-facing sentence.
func Describe(err error) string {
	var perr *PersistenceError
	var verr *elevenlabs.ProvisioningError
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return "Please sign in to continue."
	case errors.Is(err, voice.ErrUnmappedVoiceStyle):
		return "The selected voice style is not available."
	case errors.Is(err, secrets.ErrSecretUnavailable):
		return "The voice agent service is not configured. Please try again later."
	case errors.As(err, &perr):
		return "Your agent was created but could not be saved. Retry to finish setup."
	case errors.As(err, &verr):
		return "The voice agent service rejected the request. Please try again."
	default:
		return "Something went wrong while creating your agent."
	}
}
