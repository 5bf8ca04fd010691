package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/automaxhq/automax/pkg/runner"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(Config{Path: filepath.Join(t.TempDir(), "history.db")})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("initializing store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(id string, startedAt time.Time) *runner.Report {
	return &runner.Report{
		RunID:     id,
		Status:    runner.StatusFailed,
		StartedAt: startedAt,
		Duration:  1500 * time.Millisecond,
		Results: []runner.SubstepResult{
			{
				StepID: "deploy", SubstepID: "upload", Plugin: "ssh_copy",
				State: runner.StateSucceeded, Attempts: 1, Duration: time.Second,
			},
			{
				StepID: "deploy", SubstepID: "restart", Plugin: "ssh_command",
				State: runner.StateFailed, Attempts: 3, Duration: 500 * time.Millisecond,
				Err: errors.New("exit status 1"), ErrorKind: "fatal",
			},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if err := store.SaveReport(ctx, sampleReport("run-1", started)); err != nil {
		t.Fatalf("saving report: %v", err)
	}

	record, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if record.Status != "failed" || record.DurationMS != 1500 {
		t.Errorf("run record: %+v", record)
	}
	if record.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	results, err := store.GetSubstepResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("getting sub-step results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: %d", len(results))
	}
	if results[0].SubstepID != "upload" || results[1].SubstepID != "restart" {
		t.Errorf("order: %s, %s", results[0].SubstepID, results[1].SubstepID)
	}
	if results[1].Error == nil || *results[1].ErrorKind != "fatal" {
		t.Errorf("failure columns: %+v", results[1])
	}
	if results[0].Error != nil {
		t.Errorf("success row has error: %v", *results[0].Error)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		report := sampleReport(id, base.Add(time.Duration(i)*time.Hour))
		if i == 2 {
			report.Status = runner.StatusSucceeded
		}
		if err := store.SaveReport(ctx, report); err != nil {
			t.Fatalf("saving %s: %v", id, err)
		}
	}

	records, err := store.ListRuns(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(records) != 3 || records[0].ID != "run-3" || records[2].ID != "run-1" {
		t.Errorf("order: %+v", records)
	}

	records, err = store.ListRuns(ctx, ListFilter{Status: "failed", Limit: 1})
	if err != nil {
		t.Fatalf("listing filtered runs: %v", err)
	}
	if len(records) != 1 || records[0].ID != "run-2" {
		t.Errorf("filtered: %+v", records)
	}
}

func TestPruneCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if err := store.SaveReport(ctx, sampleReport("run-old", old)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveReport(ctx, sampleReport("run-new", recent)); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.Prune(ctx, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned: %d", pruned)
	}

	if _, err := store.GetRun(ctx, "run-old"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("old run still present: %v", err)
	}
	results, err := store.GetSubstepResults(ctx, "run-old")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("cascade left %d sub-step rows", len(results))
	}
	if _, err := store.GetRun(ctx, "run-new"); err != nil {
		t.Errorf("recent run gone: %v", err)
	}
}
