// Package sweeper removes abandoned wizard drafts, pending configurations,
// notification mailboxes and knowledge-base uploads.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/voicedesk/internal/shared"
)

// Store is the persistence the sweeper needs.
type Store interface {
	DeleteStaleDrafts(ctx context.Context, before time.Time) (int64, error)
	DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error)
	ReleaseStaleClaims(ctx context.Context, cutoff, now time.Time) (int64, error)
	KnowledgeRefsInUse(ctx context.Context) (map[string]bool, error)
}

// MailboxPruner drops notification mailboxes last written before cutoff.
type MailboxPruner interface {
	Prune(cutoff time.Time) int
}

// DocumentPruner removes uploads last written before cutoff that are not in keep.
type DocumentPruner interface {
	Prune(cutoff time.Time, keep map[string]bool) (int, error)
}

// Config controls what the sweeper considers abandoned.
type Config struct {
	Interval time.Duration
	DraftTTL time.Duration
	// ClaimTTL is how long a replay may hold a claim before it is treated
	// as interrupted.
	ClaimTTL time.Duration

	Mailboxes  MailboxPruner
	MailboxTTL time.Duration

	Documents   DocumentPruner
	DocumentTTL time.Duration
}

// Result counts what one sweep removed.
type Result struct {
	Drafts         int64
	Pending        int64
	ReleasedClaims int64
	Mailboxes      int64
	Documents      int64
}

const (
	sweepRetries   = 3
	sweepBaseDelay = 100 * time.Millisecond
)

// Start runs a background goroutine that sweeps every cfg.Interval until ctx
// is done.
func Start(ctx context.Context, st Store, cfg Config) {
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sweeper started", "interval", cfg.Interval, "draft_ttl", cfg.DraftTTL)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, st, cfg, time.Now().UTC())
			case <-ctx.Done():
				slog.Info("Sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one pass at now. Each step is retried on database contention
// and a failing step does not stop the others.
func Sweep(ctx context.Context, st Store, cfg Config, now time.Time) Result {
	var res Result

	run := func(name string, fn func() (int64, error)) int64 {
		var n int64
		err := shared.RetryOnConflict(ctx, sweepRetries, sweepBaseDelay, func() error {
			var err error
			n, err = fn()
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				slog.Debug("Sweeper interrupted", "step", name, "error", err)
				return 0
			}
			slog.Error("Sweeper step failed", "step", name, "error", err)
			return 0
		}
		return n
	}

	if cfg.ClaimTTL > 0 {
		res.ReleasedClaims = run("release_claims", func() (int64, error) {
			return st.ReleaseStaleClaims(ctx, now.Add(-cfg.ClaimTTL), now)
		})
	}
	res.Pending = run("expired_pending", func() (int64, error) {
		return st.DeleteExpiredPending(ctx, now)
	})
	if cfg.DraftTTL > 0 {
		res.Drafts = run("stale_drafts", func() (int64, error) {
			return st.DeleteStaleDrafts(ctx, now.Add(-cfg.DraftTTL))
		})
	}

	if cfg.Mailboxes != nil && cfg.MailboxTTL > 0 {
		res.Mailboxes = int64(cfg.Mailboxes.Prune(now.Add(-cfg.MailboxTTL)))
	}
	// Runs after the draft and pending steps so their references are final.
	if cfg.Documents != nil && cfg.DocumentTTL > 0 {
		res.Documents = run("knowledge_documents", func() (int64, error) {
			keep, err := st.KnowledgeRefsInUse(ctx)
			if err != nil {
				return 0, err
			}
			n, err := cfg.Documents.Prune(now.Add(-cfg.DocumentTTL), keep)
			return int64(n), err
		})
	}

	if res.Drafts > 0 || res.Pending > 0 || res.ReleasedClaims > 0 || res.Mailboxes > 0 || res.Documents > 0 {
		slog.Info("Sweeper cleanup completed",
			"drafts", res.Drafts, "pending", res.Pending, "released_claims", res.ReleasedClaims,
			"mailboxes", res.Mailboxes, "documents", res.Documents)
	}
	return res
}
