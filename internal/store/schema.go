package store

// SchemaVersion is the highest migration number known to this binary.
const SchemaVersion = 4

// schemaMetaDDL is created before any numbered migration so the recorded
// version can always be read. It holds exactly one row.
const schemaMetaDDL = `CREATE TABLE IF NOT EXISTS schema_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	version    INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`

// migrations is the ordered, append-only list of schema steps. Statements
// are restricted to CREATE ... IF NOT EXISTS and ADD COLUMN; a test
// enforces this.
var migrations = []migration{
	{
		version: 1,
		name:    "sessions, session files and drift snapshots",
		steps: []step{
			stmt(`CREATE TABLE IF NOT EXISTS sessions (
				id              TEXT PRIMARY KEY,
				started_at      TEXT NOT NULL,
				ended_at        TEXT,
				ai_tool         TEXT NOT NULL DEFAULT '',
				project_path    TEXT NOT NULL DEFAULT '',
				changed_lines   INTEGER NOT NULL DEFAULT 0,
				violation_count INTEGER NOT NULL DEFAULT 0
			)`),
			stmt(`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_path, started_at)`),
			stmt(`CREATE INDEX IF NOT EXISTS idx_sessions_ai_tool ON sessions(ai_tool, started_at)`),
			stmt(`CREATE TABLE IF NOT EXISTS session_files (
				session_id    TEXT NOT NULL REFERENCES sessions(id),
				file_path     TEXT NOT NULL,
				changed_lines INTEGER NOT NULL DEFAULT 0,
				first_seen_at TEXT NOT NULL,
				PRIMARY KEY (session_id, file_path)
			)`),
			stmt(`CREATE TABLE IF NOT EXISTS drift_snapshots (
				id                 INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id         TEXT NOT NULL REFERENCES sessions(id),
				file_path          TEXT NOT NULL,
				observed_at        TEXT NOT NULL,
				import_count       INTEGER NOT NULL DEFAULT 0,
				type_count         INTEGER NOT NULL DEFAULT 0,
				function_count     INTEGER NOT NULL DEFAULT 0,
				external_dep_count INTEGER NOT NULL DEFAULT 0,
				avg_complexity     REAL NOT NULL DEFAULT 0,
				exported_names     TEXT NOT NULL DEFAULT '[]'
			)`),
			stmt(`CREATE INDEX IF NOT EXISTS idx_drift_snapshots_file ON drift_snapshots(file_path, observed_at)`),
			stmt(`CREATE INDEX IF NOT EXISTS idx_drift_snapshots_session ON drift_snapshots(session_id)`),
		},
	},
	{
		version: 2,
		name:    "package cache",
		steps: []step{
			stmt(`CREATE TABLE IF NOT EXISTS package_cache (
				name               TEXT NOT NULL,
				ecosystem          TEXT NOT NULL,
				exists_flag        INTEGER,
				exists_checked_at  TEXT,
				api_surface        TEXT,
				surface_version    TEXT,
				surface_checked_at TEXT,
				version            TEXT,
				known_versions     TEXT,
				cached_at          TEXT NOT NULL,
				PRIMARY KEY (name, ecosystem)
			)`),
		},
	},
	{
		version: 3,
		name:    "brief records and learning events",
		steps: []step{
			stmt(`CREATE TABLE IF NOT EXISTS brief_records (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL DEFAULT '',
				brief       TEXT NOT NULL,
				score       REAL NOT NULL,
				level       TEXT NOT NULL,
				recorded_at TEXT NOT NULL
			)`),
			stmt(`CREATE INDEX IF NOT EXISTS idx_brief_records_session ON brief_records(session_id, recorded_at)`),
			stmt(`CREATE TABLE IF NOT EXISTS learning_events (
				id          TEXT PRIMARY KEY,
				session_id  TEXT NOT NULL DEFAULT '',
				kind        TEXT NOT NULL,
				payload     TEXT NOT NULL,
				recorded_at TEXT NOT NULL
			)`),
			stmt(`CREATE INDEX IF NOT EXISTS idx_learning_events_session ON learning_events(session_id)`),
			stmt(`CREATE INDEX IF NOT EXISTS idx_learning_events_kind ON learning_events(kind, recorded_at)`),
		},
	},
	{
		version: 4,
		name:    "drift reviews, session end reason and branch, cache source",
		steps: []step{
			stmt(`CREATE TABLE IF NOT EXISTS drift_reviews (
				file_path       TEXT PRIMARY KEY,
				review_required INTEGER NOT NULL DEFAULT 0,
				flagged_at      TEXT,
				cleared_at      TEXT,
				reason          TEXT NOT NULL DEFAULT ''
			)`),
			addColumn("sessions", "ended_reason", "TEXT NOT NULL DEFAULT ''"),
			addColumn("sessions", "branch", "TEXT NOT NULL DEFAULT ''"),
			addColumn("package_cache", "source", "TEXT NOT NULL DEFAULT ''"),
		},
	},
}
