package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/shared"
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of "?".
	numbered bool
}

var (
	sqliteDialect   = dialect{name: "sqlite"}
	postgresDialect = dialect{name: "postgres", numbered: true}
)

// rebind rewrites "?" placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Repository on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	onClose func()
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.onClose != nil {
		defer s.onClose()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// exec runs a write statement, retrying transient lock contention with
// exponential backoff.
func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = s.dialect.rebind(query)

	var result sql.Result
	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v)
}

// --- Wizard drafts ---

// GetDraft returns the wizard state for a device.
func (s *SQLStore) GetDraft(ctx context.Context, deviceID string) (*domain.WizardState, error) {
	row := s.queryRow(ctx, `
		SELECT device_id, step, draft_json, updated_at
		FROM wizard_drafts WHERE device_id = ?`, deviceID)

	var state domain.WizardState
	var draftJSON string
	var updatedAt int64
	err := row.Scan(&state.DeviceID, &state.Step, &draftJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan draft row: %w", err)
	}
	if err := json.Unmarshal([]byte(draftJSON), &state.Draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	state.UpdatedAt = fromMillis(updatedAt)
	return &state, nil
}

// SaveDraft creates or replaces the wizard state for a device.
func (s *SQLStore) SaveDraft(ctx context.Context, state *domain.WizardState) error {
	draftJSON, err := json.Marshal(state.Draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO wizard_drafts (device_id, step, draft_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			step = excluded.step,
			draft_json = excluded.draft_json,
			updated_at = excluded.updated_at`,
		state.DeviceID, state.Step, string(draftJSON), millis(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

// DeleteDraft removes the wizard state for a device.
func (s *SQLStore) DeleteDraft(ctx context.Context, deviceID string) error {
	if _, err := s.exec(ctx, `DELETE FROM wizard_drafts WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// DeleteStaleDrafts removes drafts last updated before the given time.
func (s *SQLStore) DeleteStaleDrafts(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.exec(ctx, `DELETE FROM wizard_drafts WHERE updated_at < ?`, millis(before))
	if err != nil {
		return 0, fmt.Errorf("delete stale drafts: %w", err)
	}
	return result.RowsAffected()
}

// --- Pending configurations ---

const pendingColumns = `request_id, device_id, format_version, draft_json, status, attempts,
	claimed_by, remote_agent_id, last_error, created_at, updated_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*domain.PendingConfiguration, error) {
	var p domain.PendingConfiguration
	var draftJSON, status string
	var createdAt, updatedAt, expiresAt int64
	err := row.Scan(
		&p.RequestID, &p.DeviceID, &p.FormatVersion, &draftJSON, &status, &p.Attempts,
		&p.ClaimedBy, &p.RemoteAgentID, &p.LastError, &createdAt, &updatedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	if p.FormatVersion != domain.PendingFormatVersion {
		return nil, fmt.Errorf("pending item %s has unsupported format version %d", p.RequestID, p.FormatVersion)
	}
	if err := json.Unmarshal([]byte(draftJSON), &p.Draft); err != nil {
		return nil, fmt.Errorf("decode pending draft: %w", err)
	}
	p.Status = domain.PendingStatus(status)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	p.ExpiresAt = fromMillis(expiresAt)
	return &p, nil
}

// PutPending writes the device's slot, replacing any previous item.
func (s *SQLStore) PutPending(ctx context.Context, item *domain.PendingConfiguration) error {
	draftJSON, err := json.Marshal(item.Draft)
	if err != nil {
		return fmt.Errorf("encode pending draft: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO pending_configs (`+pendingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			request_id = excluded.request_id,
			format_version = excluded.format_version,
			draft_json = excluded.draft_json,
			status = excluded.status,
			attempts = excluded.attempts,
			claimed_by = excluded.claimed_by,
			remote_agent_id = excluded.remote_agent_id,
			last_error = excluded.last_error,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		item.RequestID, item.DeviceID, item.FormatVersion, string(draftJSON), string(item.Status), item.Attempts,
		item.ClaimedBy, item.RemoteAgentID, item.LastError,
		millis(item.CreatedAt), millis(item.UpdatedAt), millis(item.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}
	return nil
}

// GetPending returns the device's pending item.
func (s *SQLStore) GetPending(ctx context.Context, deviceID string) (*domain.PendingConfiguration, error) {
	row := s.queryRow(ctx, `SELECT `+pendingColumns+` FROM pending_configs WHERE device_id = ?`, deviceID)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending row: %w", err)
	}
	return p, nil
}

// ClaimPending atomically moves the device's item to claimed. An item that a
// user already attempted stays with that user, and items written in another
// format version are left untouched.
func (s *SQLStore) ClaimPending(ctx context.Context, deviceID, userID string, from domain.PendingStatus, now time.Time) (*domain.PendingConfiguration, error) {
	query := s.dialect.rebind(`
		UPDATE pending_configs
		SET status = ?, claimed_by = ?, updated_at = ?
		WHERE device_id = ? AND status = ? AND expires_at > ?
			AND format_version = ? AND (claimed_by = '' OR claimed_by = ?)
		RETURNING ` + pendingColumns)
	args := []any{
		string(domain.PendingClaimed), userID, millis(now),
		deviceID, string(from), millis(now),
		domain.PendingFormatVersion, userID,
	}

	var claimed *domain.PendingConfiguration
	claim := func() error {
		p, err := scanPending(s.db.QueryRowContext(ctx, query, args...))
		if err != nil {
			return err
		}
		claimed = p
		return nil
	}

	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, claim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	return claimed, nil
}

// CompletePending clears the slot if it still holds requestID.
func (s *SQLStore) CompletePending(ctx context.Context, deviceID, requestID string) (bool, error) {
	result, err := s.exec(ctx, `DELETE FROM pending_configs WHERE device_id = ? AND request_id = ?`, deviceID, requestID)
	if err != nil {
		return false, fmt.Errorf("complete pending: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// FailPending marks a claimed item as failed.
func (s *SQLStore) FailPending(ctx context.Context, deviceID, requestID, remoteAgentID, reason string, now time.Time) error {
	result, err := s.exec(ctx, `
		UPDATE pending_configs
		SET status = ?, attempts = attempts + 1, remote_agent_id = ?, last_error = ?, updated_at = ?
		WHERE device_id = ? AND request_id = ? AND status = ?`,
		string(domain.PendingFailed), remoteAgentID, reason, millis(now),
		deviceID, requestID, string(domain.PendingClaimed),
	)
	if err != nil {
		return fmt.Errorf("fail pending: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// The slot was overwritten by a newer submit while this attempt ran.
		slog.Warn("FailPending affected 0 rows", "device_id", deviceID, "request_id", requestID)
	}
	return nil
}

// DeletePending empties the device's slot.
func (s *SQLStore) DeletePending(ctx context.Context, deviceID string) error {
	if _, err := s.exec(ctx, `DELETE FROM pending_configs WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

// DeleteExpiredPending removes unclaimed items whose expiry has passed. Items
// holding a remote agent that was never recorded are logged first, since the
// slot is the only local reference to that agent.
func (s *SQLStore) DeleteExpiredPending(ctx context.Context, now time.Time) (int64, error) {
	if err := s.logExpiringOrphans(ctx, now); err != nil {
		return 0, err
	}
	result, err := s.exec(ctx, `DELETE FROM pending_configs WHERE expires_at <= ? AND status <> ?`,
		millis(now), string(domain.PendingClaimed))
	if err != nil {
		return 0, fmt.Errorf("delete expired pending: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLStore) logExpiringOrphans(ctx context.Context, now time.Time) error {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT device_id, request_id, claimed_by, remote_agent_id FROM pending_configs
		WHERE expires_at <= ? AND status <> ? AND remote_agent_id <> ''`),
		millis(now), string(domain.PendingClaimed))
	if err != nil {
		return fmt.Errorf("query expiring orphans: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close pending rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var deviceID, requestID, userID, remoteID string
		if err := rows.Scan(&deviceID, &requestID, &userID, &remoteID); err != nil {
			return fmt.Errorf("scan expiring orphan: %w", err)
		}
		slog.Warn("Dropping expired pending item with unrecorded remote agent",
			"device_id", deviceID, "request_id", requestID, "user_id", userID, "remote_agent_id", remoteID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate expiring orphans: %w", err)
	}
	return nil
}

// KnowledgeRefsInUse returns the knowledge-base references held by wizard
// drafts and pending items.
func (s *SQLStore) KnowledgeRefsInUse(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT draft_json FROM wizard_drafts
		UNION ALL
		SELECT draft_json FROM pending_configs`)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close draft rows", "error", closeErr)
		}
	}()

	refs := make(map[string]bool)
	for rows.Next() {
		var draftJSON string
		if err := rows.Scan(&draftJSON); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		var d domain.DraftConfiguration
		if err := json.Unmarshal([]byte(draftJSON), &d); err != nil {
			slog.Warn("Skipping undecodable draft", "error", err)
			continue
		}
		if d.KnowledgeBaseRef != "" {
			refs[d.KnowledgeBaseRef] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return refs, nil
}

// ReleaseStaleClaims marks items claimed before cutoff as failed.
func (s *SQLStore) ReleaseStaleClaims(ctx context.Context, cutoff, now time.Time) (int64, error) {
	result, err := s.exec(ctx, `
		UPDATE pending_configs
		SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(domain.PendingFailed), "replay interrupted", millis(now),
		string(domain.PendingClaimed), millis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return result.RowsAffected()
}

// --- Agents ---

const agentColumns = `id, user_id, name, business_name, agent_name, voice_style,
	prompt, welcome_message, remote_agent_id, created_at, updated_at`

func scanAgent(row rowScanner) (*domain.AgentRecord, error) {
	var a domain.AgentRecord
	var voiceStyle string
	var createdAt, updatedAt int64
	if err := row.Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.BusinessName, &a.AgentName, &voiceStyle,
		&a.Prompt, &a.WelcomeMessage, &a.RemoteAgentID, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	a.VoiceStyle = domain.VoiceStyle(voiceStyle)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return &a, nil
}

// InsertAgent writes a new agent record.
func (s *SQLStore) InsertAgent(ctx context.Context, rec *domain.AgentRecord) error {
	_, err := s.exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.Name, rec.BusinessName, rec.AgentName, string(rec.VoiceStyle),
		rec.Prompt, rec.WelcomeMessage, rec.RemoteAgentID, millis(rec.CreatedAt), millis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// ListAgents returns the owner's agents, newest first.
func (s *SQLStore) ListAgents(ctx context.Context, ownerID string) ([]*domain.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+agentColumns+` FROM agents
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	agents := []*domain.AgentRecord{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// GetAgent returns one of the owner's agents.
func (s *SQLStore) GetAgent(ctx context.Context, ownerID, id string) (*domain.AgentRecord, error) {
	row := s.queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ? AND user_id = ?`, id, ownerID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	return a, nil
}

// UpdateAgent applies the editable fields of patch to one of the owner's agents.
func (s *SQLStore) UpdateAgent(ctx context.Context, ownerID, id string, patch domain.AgentPatch, now time.Time) (*domain.AgentRecord, error) {
	if patch.Empty() {
		return s.GetAgent(ctx, ownerID, id)
	}

	current, err := s.GetAgent(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(current)
	current.UpdatedAt = now

	result, err := s.exec(ctx, `
		UPDATE agents
		SET name = ?, business_name = ?, agent_name = ?, prompt = ?, welcome_message = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		current.Name, current.BusinessName, current.AgentName, current.Prompt, current.WelcomeMessage,
		millis(now), id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}
	return current, nil
}

// DeleteAgent removes one of the owner's agents.
func (s *SQLStore) DeleteAgent(ctx context.Context, ownerID, id string) error {
	result, err := s.exec(ctx, `DELETE FROM agents WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Secrets ---

// GetSecret returns the named secret or ErrNotFound.
func (s *SQLStore) GetSecret(ctx context.Context, name string) (string, error) {
	var value string
	err := s.queryRow(ctx, `SELECT value FROM secrets WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get secret: %w", err)
	}
	return value, nil
}

// PutSecret creates or replaces a named secret.
func (s *SQLStore) PutSecret(ctx context.Context, name, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO secrets (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, millis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

var _ Repository = (*SQLStore)(nil)
