package store

// Schema v1 - run history and the tables each run wrote
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per load or ecg invocation
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  export_path TEXT NOT NULL,
  started_at DATETIME NOT NULL,
  finished_at DATETIME,
  status TEXT NOT NULL DEFAULT 'running',
  workouts INTEGER DEFAULT 0,
  record_types INTEGER DEFAULT 0,
  skipped INTEGER DEFAULT 0,
  error TEXT,
  event_log TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind, id);

-- Every cache file, keyed by table and item (workout uuid, record type, ECG name)
CREATE TABLE IF NOT EXISTS cache_tables (
  name TEXT NOT NULL,
  item_id TEXT NOT NULL DEFAULT '',
  path TEXT NOT NULL,
  rows INTEGER DEFAULT 0,
  columns INTEGER DEFAULT 0,
  bytes INTEGER DEFAULT 0,
  sha1 TEXT,
  run_id INTEGER REFERENCES runs(id),
  written_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (name, item_id)
);

CREATE INDEX IF NOT EXISTS idx_cache_tables_run ON cache_tables(run_id);

-- Items a run skipped
CREATE TABLE IF NOT EXISTS skipped_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  item TEXT,
  workout_uuid TEXT,
  error TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_skipped_items_run ON skipped_items(run_id, stage);
`
