package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS owners (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	kind              TEXT NOT NULL,
	login             TEXT NOT NULL,
	access_token      TEXT NOT NULL DEFAULT '',
	token_expires_at  DATETIME,
	last_refreshed_at DATETIME,
	created_at        DATETIME NOT NULL,
	UNIQUE (kind, login)
);

CREATE TABLE IF NOT EXISTS repositories (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id       INTEGER NOT NULL,
	remote_repo_id INTEGER NOT NULL DEFAULT 0,
	name           TEXT NOT NULL,
	full_name      TEXT NOT NULL,
	url            TEXT NOT NULL,
	clone_url      TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT 'main',
	provider       TEXT NOT NULL,
	sync_status    TEXT NOT NULL DEFAULT 'pending',
	sync_error     TEXT NOT NULL DEFAULT '',
	last_synced_at DATETIME,
	synced_through DATETIME,
	created_at     DATETIME NOT NULL,
	UNIQUE (owner_id, url)
);

CREATE TABLE IF NOT EXISTS repository_selections (
	owner_id       INTEGER NOT NULL,
	remote_repo_id INTEGER NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	name           TEXT NOT NULL,
	full_name      TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL,
	repository_id  INTEGER,
	selected_at    DATETIME,
	last_synced_at DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	PRIMARY KEY (owner_id, remote_repo_id)
);

CREATE TABLE IF NOT EXISTS commits (
	repository_id   INTEGER NOT NULL,
	sha             TEXT NOT NULL,
	message         TEXT NOT NULL,
	author_name     TEXT NOT NULL,
	author_email    TEXT NOT NULL,
	committer_name  TEXT NOT NULL DEFAULT '',
	committer_email TEXT NOT NULL DEFAULT '',
	committed_at    DATETIME NOT NULL,
	parent_shas     TEXT NOT NULL DEFAULT '[]',
	is_merge        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      DATETIME NOT NULL,
	PRIMARY KEY (repository_id, sha)
);

CREATE INDEX IF NOT EXISTS idx_commits_committed_at ON commits (repository_id, committed_at);

CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	spec             TEXT NOT NULL,
	status           TEXT NOT NULL,
	progress         INTEGER NOT NULL DEFAULT 0,
	result_detail    TEXT,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       DATETIME NOT NULL,
	started_at       DATETIME,
	finished_at      DATETIME
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS owners (
	id                BIGSERIAL PRIMARY KEY,
	kind              TEXT NOT NULL,
	login             TEXT NOT NULL,
	access_token      TEXT NOT NULL DEFAULT '',
	token_expires_at  TIMESTAMPTZ,
	last_refreshed_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (kind, login)
);

CREATE TABLE IF NOT EXISTS repositories (
	id             BIGSERIAL PRIMARY KEY,
	owner_id       BIGINT NOT NULL,
	remote_repo_id BIGINT NOT NULL DEFAULT 0,
	name           TEXT NOT NULL,
	full_name      TEXT NOT NULL,
	url            TEXT NOT NULL,
	clone_url      TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT 'main',
	provider       TEXT NOT NULL,
	sync_status    TEXT NOT NULL DEFAULT 'pending',
	sync_error     TEXT NOT NULL DEFAULT '',
	last_synced_at TIMESTAMPTZ,
	synced_through TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (owner_id, url)
);

CREATE TABLE IF NOT EXISTS repository_selections (
	owner_id       BIGINT NOT NULL,
	remote_repo_id BIGINT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	name           TEXT NOT NULL,
	full_name      TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL,
	repository_id  BIGINT,
	selected_at    TIMESTAMPTZ,
	last_synced_at TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner_id, remote_repo_id)
);

CREATE TABLE IF NOT EXISTS commits (
	repository_id   BIGINT NOT NULL,
	sha             TEXT NOT NULL,
	message         TEXT NOT NULL,
	author_name     TEXT NOT NULL,
	author_email    TEXT NOT NULL,
	committer_name  TEXT NOT NULL DEFAULT '',
	committer_email TEXT NOT NULL DEFAULT '',
	committed_at    TIMESTAMPTZ NOT NULL,
	parent_shas     TEXT NOT NULL DEFAULT '[]',
	is_merge        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (repository_id, sha)
);

CREATE INDEX IF NOT EXISTS idx_commits_committed_at ON commits (repository_id, committed_at);

CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	spec             TEXT NOT NULL,
	status           TEXT NOT NULL,
	progress         INTEGER NOT NULL DEFAULT 0,
	result_detail    TEXT,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	finished_at      TIMESTAMPTZ
);
`
