package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/factcheck/dbopen"
	"github.com/hazyhaar/factcheck/evidence/internal/document"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)), nil)
}

func TestRecordAndRun(t *testing.T) {
	// WHAT: A recorded run reads back with its claim and ordered sources.
	// WHY: The run log is the audit trail of which evidence backed a claim.
	l := newLog(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	docs := []document.Document{
		{URL: "https://apnews.com/a", Title: "AP", Site: "apnews.com", Body: "body a", Score: 95},
		{URL: "https://reuters.com/b", Title: "Reuters", Site: "reuters.com", Body: "body b", Score: 92},
	}
	run := &Run{
		Claim: "Greenland is for sale", Query: "greenland sale",
		Outcome: "sufficient", Attempts: 1, Retries: 2, Searches: 4,
		Found: 2, Required: 2, StartedAt: start, FinishedAt: start.Add(3 * time.Second),
		Sources: SourcesFrom(docs),
	}
	if err := l.Record(ctx, run); err != nil {
		t.Fatalf("record: %v", err)
	}
	if run.ID == "" || run.ClaimID == "" {
		t.Fatalf("ids not assigned: %+v", run)
	}

	got, err := l.Run(ctx, run.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Claim != run.Claim || got.Query != "greenland sale" || got.Outcome != "sufficient" {
		t.Errorf("run: %+v", got)
	}
	if got.Attempts != 1 || got.Retries != 2 || got.Searches != 4 || got.Found != 2 {
		t.Errorf("counters: %+v", got)
	}
	if !got.StartedAt.Equal(start) || !got.FinishedAt.Equal(start.Add(3*time.Second)) {
		t.Errorf("times: %v %v", got.StartedAt, got.FinishedAt)
	}
	if len(got.Sources) != 2 || got.Sources[0].URL != "https://apnews.com/a" || got.Sources[1].Score != 92 {
		t.Errorf("sources: %+v", got.Sources)
	}
}

func TestRecord_SharesClaim(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()
	now := time.Now()
	a := &Run{Claim: "same claim", Query: "q1", Outcome: "empty", StartedAt: now, FinishedAt: now}
	b := &Run{Claim: "same claim", Query: "q2", Outcome: "exhausted", Error: "insufficient", StartedAt: now.Add(time.Second), FinishedAt: now.Add(time.Second)}
	if err := l.Record(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, b); err != nil {
		t.Fatal(err)
	}
	if a.ClaimID != b.ClaimID {
		t.Errorf("claim ids differ: %s vs %s", a.ClaimID, b.ClaimID)
	}
}

func TestRecord_DuplicateSourceRollsBack(t *testing.T) {
	// WHAT: A run with two sources of the same URL is rejected entirely.
	// WHY: Evidence sets are URL-unique; the store enforces it too.
	l := newLog(t)
	ctx := context.Background()
	now := time.Now()
	run := &Run{Claim: "c", Query: "q", Outcome: "sufficient", StartedAt: now, FinishedAt: now, Sources: []Source{
		{Position: 0, URL: "https://x.example/"},
		{Position: 1, URL: "https://x.example/"},
	}}
	if err := l.Record(ctx, run); err == nil {
		t.Fatal("expected unique violation")
	}
	if _, err := l.Run(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("run should not exist, got %v", err)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, claim := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Minute)
		r := &Run{Claim: claim, Query: claim, Outcome: "sufficient", StartedAt: at, FinishedAt: at,
			Sources: []Source{{URL: "https://e.example/" + claim}}}
		if err := l.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := l.History(ctx, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(runs) != 2 || runs[0].Claim != "third" || runs[1].Claim != "second" {
		t.Fatalf("history: %+v", runs)
	}
	if runs[0].Sources != nil {
		t.Error("history should not load sources")
	}
}

func TestRun_NotFound(t *testing.T) {
	if _, err := newLog(t).Run(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "runs.db")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	now := time.Now()
	if err := l.Record(context.Background(), &Run{Claim: "c", Query: "q", Outcome: "empty", StartedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
}
