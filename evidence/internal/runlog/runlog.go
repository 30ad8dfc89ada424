// Package runlog records retrieval runs, their claims and the evidence
// they returned in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/factcheck/dbopen"
	"github.com/hazyhaar/factcheck/evidence/internal/document"
	"github.com/hazyhaar/factcheck/idgen"
)

// ErrNotFound is returned by Run for an unknown ID.
var ErrNotFound = errors.New("runlog: run not found")

// Source is one evidence document of a run.
type Source struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Site     string `json:"site"`
	Body     string `json:"body,omitempty"`
	Score    int    `json:"score"`
}

// SourcesFrom converts documents in order.
func SourcesFrom(docs []document.Document) []Source {
	out := make([]Source, len(docs))
	for i, d := range docs {
		out[i] = Source{Position: i, URL: d.URL, Title: d.Title, Site: d.Site, Body: d.Body, Score: d.Score}
	}
	return out
}

// Run is one recorded retrieval.
type Run struct {
	ID         string    `json:"id"`
	ClaimID    string    `json:"claim_id"`
	Claim      string    `json:"claim"`
	Query      string    `json:"query"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Partial    bool      `json:"partial"`
	Attempts   int       `json:"attempts"`
	Retries    int       `json:"retries"`
	Searches   int       `json:"searches"`
	Found      int       `json:"found"`
	Required   int       `json:"required"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Sources    []Source  `json:"sources,omitempty"`
}

// Log is a run log backed by one database.
type Log struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// Open opens or creates the run log at path.
func Open(path string, logger *slog.Logger) (*Log, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("runlog: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an open database whose schema is already applied.
func New(db *sql.DB, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, newID: idgen.Default, logger: logger}
}

// Close closes the database.
func (l *Log) Close() error { return l.db.Close() }

// Record stores r and its sources. An empty r.ID is assigned. The claim
// row is shared by every run of the same claim text.
func (l *Log) Record(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = l.newID()
	}
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		claimID, err := upsertClaim(ctx, tx, l.newID(), r.Claim, r.StartedAt)
		if err != nil {
			return err
		}
		r.ClaimID = claimID

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, claim_id, query, outcome, error, partial, attempts, retries, searches, found, required, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, claimID, r.Query, r.Outcome, r.Error, boolInt(r.Partial),
			r.Attempts, r.Retries, r.Searches, r.Found, r.Required,
			r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("runlog: insert run: %w", err)
		}

		for _, s := range r.Sources {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sources (run_id, position, url, title, site, body, score)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.ID, s.Position, s.URL, s.Title, s.Site, s.Body, s.Score,
			); err != nil {
				return fmt.Errorf("runlog: insert source %s: %w", s.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Debug("runlog: recorded run", "run_id", r.ID, "outcome", r.Outcome, "sources", len(r.Sources))
	return nil
}

func upsertClaim(ctx context.Context, tx *sql.Tx, id, text string, at time.Time) (string, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO claims (id, text, created_at) VALUES (?, ?, ?) ON CONFLICT(text) DO NOTHING`,
		id, text, at.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("runlog: insert claim: %w", err)
	}
	var claimID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM claims WHERE text = ?`, text).Scan(&claimID); err != nil {
		return "", fmt.Errorf("runlog: select claim: %w", err)
	}
	return claimID, nil
}

const runColumns = `r.id, r.claim_id, c.text, r.query, r.outcome, r.error, r.partial,
	r.attempts, r.retries, r.searches, r.found, r.required, r.started_at, r.finished_at`

// History lists the most recent runs first, without sources.
func (l *Log) History(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r JOIN claims c ON c.id = r.claim_id
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: history: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Run returns one run with its sources.
func (l *Log) Run(ctx context.Context, id string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r JOIN claims c ON c.id = r.claim_id
		WHERE r.id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT position, url, title, site, body, score
		FROM sources WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("runlog: sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.Position, &s.URL, &s.Title, &s.Site, &s.Body, &s.Score); err != nil {
			return nil, fmt.Errorf("runlog: scan source: %w", err)
		}
		r.Sources = append(r.Sources, s)
	}
	return r, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r                 Run
		partial           int
		started, finished int64
	)
	err := s.Scan(&r.ID, &r.ClaimID, &r.Claim, &r.Query, &r.Outcome, &r.Error, &partial,
		&r.Attempts, &r.Retries, &r.Searches, &r.Found, &r.Required, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("runlog: scan run: %w", err)
	}
	r.Partial = partial != 0
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
