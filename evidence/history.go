package evidence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/factcheck/evidence/internal/runlog"
)

// RunHistory reads the run log without building the retrieval pipeline, so
// it needs no oracle or judge credentials.
type RunHistory struct {
	runs *runlog.Log
}

// OpenHistory opens the run log at cfg.DBPath. A nil cfg uses DefaultConfig.
// It returns ErrNoRunLog when db_path is empty.
func OpenHistory(cfg *Config, logger *slog.Logger) (*RunHistory, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DBPath == "" {
		return nil, ErrNoRunLog
	}
	if logger == nil {
		logger = slog.Default()
	}
	runs, err := runlog.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("evidence: %w", err)
	}
	return &RunHistory{runs: runs}, nil
}

// List returns recent runs, newest first, without their sources.
func (h *RunHistory) List(ctx context.Context, limit int) ([]Run, error) {
	return h.runs.History(ctx, limit)
}

// Run returns one recorded run with its sources.
func (h *RunHistory) Run(ctx context.Context, id string) (*Run, error) {
	return h.runs.Run(ctx, id)
}

// Close closes the run log.
func (h *RunHistory) Close() error { return h.runs.Close() }
