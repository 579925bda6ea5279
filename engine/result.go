// Package engine orchestrates pipeline execution: sequencing, timeout
// enforcement, retry policy, credential resolution, and failure
// isolation. It consumes validated configuration and built tasks and
// produces an auditable result tree.
package engine

import (
	"time"
)

// Status is a task or pipeline execution state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusErrored   Status = "errored"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether s is an end state for a task.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusErrored, StatusSkipped:
		return true
	}
	return false
}

// Retryable reports whether a task in state s may be retried under
// policy. Errored is deliberately excluded: an execution defect will
// not heal by repetition.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// Attempt records one execution attempt of a task.
type Attempt struct {
	Number    int           `json:"number"`
	Status    Status        `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// TaskResult is the canonical outcome of one task in a run. Status and
// Reason reflect the final attempt; Attempts keeps the full audit
// trail and AttemptCount its length. Credential holds only the
// credential's name, never its values.
type TaskResult struct {
	TaskName     string         `json:"task_name"`
	TaskType     string         `json:"task_type"`
	Status       Status         `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	Required     bool           `json:"required"`
	Credential   string         `json:"credential,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Attempts     []Attempt      `json:"attempts,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
}

// PipelineResult is the outcome of a whole run.
type PipelineResult struct {
	RunID     string        `json:"run_id"`
	Pipeline  string        `json:"pipeline"`
	Status    Status        `json:"status"`
	DryRun    bool          `json:"dry_run,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Tasks     []TaskResult  `json:"tasks"`
}

// Succeeded reports whether the run as a whole succeeded.
func (r *PipelineResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Counts returns how many tasks landed in each terminal state.
func (r *PipelineResult) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, t := range r.Tasks {
		counts[t.Status]++
	}
	return counts
}
