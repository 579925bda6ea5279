package task

import (
	"maps"
	"os"
)

// ExecContext carries per-run mutable state into task executions:
// resolved environment variables, the working directory shared by the
// run's tasks, the artifact output directory, and the outputs
// accumulated from previously completed tasks. Cancellation travels
// separately through the context.Context handed to Execute.
type ExecContext struct {
	// WorkDir is the run's working directory. Tasks that declare
	// file-based handoff share it; no implicit locking is provided.
	WorkDir string

	// OutputDir is where tasks store artifacts (screenshots, reports).
	OutputDir string

	// Env is the resolved environment for subprocess variants.
	Env map[string]string

	// Outputs maps completed task name -> that task's output data.
	// Written only by the engine, between task executions.
	Outputs map[string]map[string]any

	// DryRun is set when the engine is planning rather than executing.
	DryRun bool
}

// NewExecContext creates an ExecContext with its maps initialized.
func NewExecContext(workDir, outputDir string, env map[string]string) *ExecContext {
	e := make(map[string]string, len(env))
	maps.Copy(e, env)
	return &ExecContext{
		WorkDir:   workDir,
		OutputDir: outputDir,
		Env:       e,
		Outputs:   make(map[string]map[string]any),
	}
}

// RecordOutput stores a completed task's output data for downstream tasks.
func (ec *ExecContext) RecordOutput(taskName string, data map[string]any) {
	if data == nil {
		return
	}
	out := make(map[string]any, len(data))
	maps.Copy(out, data)
	ec.Outputs[taskName] = out
}

// Environ renders the subprocess environment: the parent process
// environment, then Env, then extra, with later entries taking
// precedence.
func (ec *ExecContext) Environ(extra map[string]string) []string {
	out := os.Environ()
	for k, v := range ec.Env {
		out = append(out, k+"="+v)
	}
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
