package runlog

// Schema is applied on open. Times are unix milliseconds.
const Schema = `
-- Claims: one row per distinct claim text
CREATE TABLE IF NOT EXISTS claims (
    id          TEXT PRIMARY KEY,
    text        TEXT NOT NULL UNIQUE,
    created_at  INTEGER NOT NULL
);

-- Runs: one retrieval of evidence for a claim
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    claim_id     TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
    query        TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    partial      INTEGER NOT NULL DEFAULT 0,
    attempts     INTEGER NOT NULL DEFAULT 0,
    retries      INTEGER NOT NULL DEFAULT 0,
    searches     INTEGER NOT NULL DEFAULT 0,
    found        INTEGER NOT NULL DEFAULT 0,
    required     INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_claim ON runs(claim_id);

-- Sources: evidence documents returned by a run
CREATE TABLE IF NOT EXISTS sources (
    run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position  INTEGER NOT NULL,
    url       TEXT NOT NULL,
    title     TEXT NOT NULL DEFAULT '',
    site      TEXT NOT NULL DEFAULT '',
    body      TEXT NOT NULL DEFAULT '',
    score     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, position),
    UNIQUE (run_id, url)
);
`
