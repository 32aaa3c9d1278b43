package checkpoint

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    project_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    content TEXT,
    stage TEXT NOT NULL DEFAULT 'initialized',
    paused_from TEXT,
    attempt INTEGER NOT NULL DEFAULT 0,
    batch_id TEXT,
    settings TEXT,
    artifacts TEXT,
    error_kind TEXT,
    error_code TEXT,
    error_message TEXT,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_stage ON checkpoints(stage);
CREATE INDEX IF NOT EXISTS idx_checkpoints_batch_id ON checkpoints(batch_id);

CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    total_count INTEGER NOT NULL DEFAULT 0,
    completed_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
`
