package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsrun/opsrun/engine"
)

func sampleResult(runID, pipeline string, status engine.Status) *engine.PipelineResult {
	return &engine.PipelineResult{
		RunID:     runID,
		Pipeline:  pipeline,
		Status:    status,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Duration:  1500 * time.Millisecond,
		Tasks: []engine.TaskResult{
			{TaskName: "ping", TaskType: "http_call", Status: engine.StatusSucceeded, Required: true},
		},
	}
}

// storeUnderTest exercises the Store contract against any implementation.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	first := sampleResult("run-1", "nightly", engine.StatusSucceeded)
	first.StartedAt = first.StartedAt.Add(-time.Hour)
	second := sampleResult("run-2", "nightly", engine.StatusFailed)

	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d runs, want 2", len(list))
	}
	if list[0].RunID != "run-2" {
		t.Errorf("list[0] = %s, want newest first", list[0].RunID)
	}
	if list[0].Status != engine.StatusFailed || list[0].TaskCount != 1 {
		t.Errorf("summary = %+v", list[0])
	}

	limited, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited list = %d runs, want 1", len(limited))
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RunID != "run-1" || len(got.Tasks) != 1 || got.Tasks[0].TaskName != "ping" {
		t.Errorf("got = %+v", got)
	}

	if _, err := s.Get(ctx, "run-404"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("get missing err = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	storeUnderTest(t, s)
}

func TestJSONLStore(t *testing.T) {
	s := NewJSONLStore(filepath.Join(t.TempDir(), "runs.jsonl"))
	defer s.Close()
	storeUnderTest(t, s)
}

func TestJSONLStoreEmptyFile(t *testing.T) {
	s := NewJSONLStore(filepath.Join(t.TempDir(), "absent.jsonl"))
	list, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("list on missing file = %d entries", len(list))
	}
}
