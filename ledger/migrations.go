package ledger

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	destination TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	written     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS entries (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	stored_name  TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, stored_name)
);

CREATE INDEX IF NOT EXISTS idx_entries_message_id ON entries(message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
