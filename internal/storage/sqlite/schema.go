package sqlite

import "github.com/RayYangTW/pdca/internal/storage/migrations"

var schemaMigrations = []migrations.Migration{
	{
		Version:     1,
		Description: "Create audit tables",
		Up: `
-- Raw event log, one row per published event
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL DEFAULT '{}',
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

-- Usage records projected from usage_recorded events
CREATE TABLE IF NOT EXISTS usage_records (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    provider_model TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    operation TEXT NOT NULL DEFAULT '',
    input_units INTEGER NOT NULL CHECK(input_units >= 0),
    output_units INTEGER NOT NULL CHECK(output_units >= 0),
    cost REAL NOT NULL,
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_run ON usage_records(run_id, timestamp);

-- Round verdicts projected from round_evaluated events
CREATE TABLE IF NOT EXISTS iterations (
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL CHECK(iteration >= 1),
    quality_score REAL NOT NULL,
    continue INTEGER NOT NULL,
    reason TEXT NOT NULL,
    confidence REAL NOT NULL,
    total_units INTEGER NOT NULL,
    timestamp TEXT NOT NULL,
    PRIMARY KEY (run_id, iteration)
);

-- User decisions; a row is created pending and updated once resolved
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    quality_score REAL NOT NULL DEFAULT 0,
    recommendations TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'approved', 'declined')),
    reason TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id, created_at);
`,
		Down: `
DROP TABLE IF EXISTS decisions;
DROP TABLE IF EXISTS iterations;
DROP TABLE IF EXISTS usage_records;
DROP TABLE IF EXISTS events;
`,
	},
}
