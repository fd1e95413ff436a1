package store

// schema is the sqlite DDL. Timestamps are epoch milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	entity_type         TEXT NOT NULL,
	entity_id           TEXT NOT NULL DEFAULT '',
	parent_job_id       TEXT NOT NULL DEFAULT '',
	cascade_depth       INTEGER NOT NULL DEFAULT 0,
	kind                TEXT NOT NULL,
	status              TEXT NOT NULL,
	priority            INTEGER NOT NULL DEFAULT 0,
	items_found         INTEGER NOT NULL DEFAULT 0,
	changes_detected    INTEGER NOT NULL DEFAULT 0,
	entities_discovered INTEGER NOT NULL DEFAULT 0,
	error               TEXT NOT NULL DEFAULT '',
	created_at          INTEGER NOT NULL,
	started_at          INTEGER,
	completed_at        INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_target ON jobs(entity_type, entity_id, status);

CREATE TABLE IF NOT EXISTS changes (
	id                   TEXT PRIMARY KEY,
	job_id               TEXT NOT NULL DEFAULT '',
	entity_type          TEXT NOT NULL,
	entity_id            TEXT NOT NULL DEFAULT '',
	is_new_entity        INTEGER NOT NULL DEFAULT 0,
	field                TEXT NOT NULL DEFAULT '',
	old_value            TEXT NOT NULL DEFAULT '',
	new_value            TEXT NOT NULL DEFAULT '',
	proposed             TEXT,
	kind                 TEXT NOT NULL,
	confidence           REAL NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	dependency_type      TEXT NOT NULL DEFAULT '',
	dependency_change_id TEXT NOT NULL DEFAULT '',
	source_urls          TEXT NOT NULL DEFAULT '[]',
	reviewed_by          TEXT NOT NULL DEFAULT '',
	review_notes         TEXT NOT NULL DEFAULT '',
	reviewed_at          INTEGER,
	applied_at           INTEGER,
	created_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_status ON changes(status, entity_type);
CREATE INDEX IF NOT EXISTS idx_changes_job ON changes(job_id);
CREATE INDEX IF NOT EXISTS idx_changes_dependency ON changes(dependency_change_id);

CREATE TABLE IF NOT EXISTS matches (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL,
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	raw         TEXT,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	change_id   TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL DEFAULT 0,
	method      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_matches_signature ON matches(entity_type, name, city, state);
CREATE INDEX IF NOT EXISTS idx_matches_change ON matches(change_id);

CREATE TABLE IF NOT EXISTS entities (
	id                   TEXT PRIMARY KEY,
	type                 TEXT NOT NULL,
	name                 TEXT NOT NULL,
	community_id         TEXT NOT NULL DEFAULT '',
	builder_id           TEXT NOT NULL DEFAULT '',
	fields               TEXT NOT NULL DEFAULT '{}',
	is_active            INTEGER NOT NULL DEFAULT 1,
	lifecycle_status     TEXT NOT NULL,
	last_activity_at     INTEGER NOT NULL,
	status_changed_at    INTEGER NOT NULL,
	status_change_reason TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type, lifecycle_status);
CREATE INDEX IF NOT EXISTS idx_entities_builder ON entities(builder_id);
CREATE INDEX IF NOT EXISTS idx_entities_community ON entities(community_id);
CREATE INDEX IF NOT EXISTS idx_entities_activity ON entities(type, is_active, last_activity_at);
`
