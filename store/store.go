// Package store persists run history so past pipeline executions can be
// listed and inspected after the process exits.
package store

import (
	"context"
	"time"

	"github.com/opsrun/opsrun/engine"
)

// RunSummary is the per-run row returned by listings. Full results stay
// in the record payload.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Pipeline  string        `json:"pipeline"`
	Status    engine.Status `json:"status"`
	DryRun    bool          `json:"dry_run"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	TaskCount int           `json:"task_count"`
}

// Store records completed pipeline runs.
type Store interface {
	// Save persists a finished run.
	Save(ctx context.Context, result *engine.PipelineResult) error

	// List returns summaries of recent runs, newest first, at most
	// limit entries (all when limit <= 0).
	List(ctx context.Context, limit int) ([]RunSummary, error)

	// Get returns the full result for a run ID.
	Get(ctx context.Context, runID string) (*engine.PipelineResult, error)

	// Close releases underlying resources.
	Close() error
}

func summarize(r *engine.PipelineResult) RunSummary {
	return RunSummary{
		RunID:     r.RunID,
		Pipeline:  r.Pipeline,
		Status:    r.Status,
		DryRun:    r.DryRun,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		TaskCount: len(r.Tasks),
	}
}
