package store

// schema is valid for both SQLite and Postgres. Timestamps are unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS wizard_drafts (
	device_id TEXT PRIMARY KEY,
	step INTEGER NOT NULL,
	draft_json TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wizard_drafts_updated ON wizard_drafts(updated_at);

CREATE TABLE IF NOT EXISTS pending_configs (
	device_id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	format_version INTEGER NOT NULL,
	draft_json TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	claimed_by TEXT NOT NULL DEFAULT '',
	remote_agent_id TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_configs_expires ON pending_configs(expires_at);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	business_name TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	voice_style TEXT NOT NULL,
	prompt TEXT NOT NULL,
	welcome_message TEXT NOT NULL,
	remote_agent_id TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id, created_at);

CREATE TABLE IF NOT EXISTS secrets (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);
`
