package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opsrun/opsrun/config"
	"github.com/opsrun/opsrun/creds"
	"github.com/opsrun/opsrun/task"
)

// defaultTaskTimeout bounds tasks that set no timeout of their own and
// inherit none from the pipeline.
const defaultTaskTimeout = 5 * time.Minute

// Engine runs pipelines. It is safe for concurrent use; each Run gets
// its own execution context and result tree.
type Engine struct {
	registry *task.Registry
	creds    *creds.Chain
	log      *slog.Logger

	// sleep is the retry delay function; tests substitute a no-op.
	sleep func(context.Context, time.Duration) error
}

// New creates an Engine. A nil logger discards log output.
func New(registry *task.Registry, chain *creds.Chain, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		registry: registry,
		creds:    chain,
		log:      log,
		sleep:    sleepCtx,
	}
}

// RunOptions modifies how a pipeline executes.
type RunOptions struct {
	// DryRun plans every task instead of executing. Credential
	// references are checked for well-formedness but never resolved.
	DryRun bool
}

// Run executes a pipeline and returns its result. The returned error is
// non-nil only for definition problems (validation, unknown types); an
// unhealthy run is reported through the result's status, not an error.
func (e *Engine) Run(ctx context.Context, p *config.Pipeline, opts RunOptions) (*PipelineResult, error) {
	tasks, err := config.Validate(p, e.registry)
	if err != nil {
		return nil, err
	}

	result := &PipelineResult{
		RunID:     uuid.NewString(),
		Pipeline:  p.Name,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
		Tasks:     make([]TaskResult, len(tasks)),
	}

	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout.Std())
		defer cancel()
	}

	ec := task.NewExecContext(p.WorkDir, p.OutputDir, p.Env)
	ec.DryRun = opts.DryRun

	log := e.log.With("run_id", result.RunID, "pipeline", p.Name)
	log.Info("pipeline started", "tasks", len(tasks), "dry_run", opts.DryRun, "parallel", p.Parallel)

	if p.Parallel {
		e.runParallel(runCtx, ec, p, tasks, result, log)
	} else {
		e.runSequential(runCtx, ec, p, tasks, result, log)
	}

	result.Status = pipelineStatus(result.Tasks, result.DryRun)
	result.Duration = time.Since(result.StartedAt)
	log.Info("pipeline finished", "status", result.Status, "duration", result.Duration)
	return result, nil
}

// RunTask executes a single task spec as a one-task pipeline.
func (e *Engine) RunTask(ctx context.Context, spec *config.TaskSpec, opts RunOptions) (*PipelineResult, error) {
	p := &config.Pipeline{
		Name:  spec.Name,
		Tasks: []config.TaskSpec{*spec},
	}
	return e.Run(ctx, p, opts)
}

func (e *Engine) runSequential(ctx context.Context, ec *task.ExecContext, p *config.Pipeline, tasks []task.Task, result *PipelineResult, log *slog.Logger) {
	halted := false
	for i, tk := range tasks {
		spec := &p.Tasks[i]

		if halted {
			result.Tasks[i] = skippedResult(spec, tk, "earlier task halted the pipeline")
			log.Info("task skipped", "task", spec.Name, "reason", result.Tasks[i].Reason)
			continue
		}
		if ctx.Err() != nil {
			result.Tasks[i] = skippedResult(spec, tk, "pipeline deadline exceeded")
			log.Warn("task skipped", "task", spec.Name, "reason", result.Tasks[i].Reason)
			continue
		}

		tr := e.executeTask(ctx, ec, tk, spec, &p.Defaults, log)
		result.Tasks[i] = tr

		if tr.Status == StatusSucceeded {
			ec.RecordOutput(spec.Name, tr.Output)
		} else if spec.HaltOnFailure && !ec.DryRun {
			halted = true
			log.Warn("halting pipeline", "task", spec.Name, "status", tr.Status)
		}
	}
}

// runParallel executes every task concurrently. Failure isolation is
// inherent here: one task's outcome never cancels another, and
// cross-task output handoff is recorded only after all tasks finish.
func (e *Engine) runParallel(ctx context.Context, ec *task.ExecContext, p *config.Pipeline, tasks []task.Task, result *PipelineResult, log *slog.Logger) {
	var g errgroup.Group
	if p.Concurrency > 0 {
		g.SetLimit(p.Concurrency)
	}
	for i, tk := range tasks {
		i, tk := i, tk
		spec := &p.Tasks[i]
		g.Go(func() error {
			result.Tasks[i] = e.executeTask(ctx, ec, tk, spec, &p.Defaults, log)
			return nil
		})
	}
	_ = g.Wait()

	for i := range result.Tasks {
		if result.Tasks[i].Status == StatusSucceeded {
			ec.RecordOutput(result.Tasks[i].TaskName, result.Tasks[i].Output)
		}
	}
}

// executeTask drives one task through its full lifecycle: credential
// resolution, the attempt loop with timeout and retry policy, and
// result assembly. The returned result always has a terminal status.
func (e *Engine) executeTask(ctx context.Context, ec *task.ExecContext, tk task.Task, spec *config.TaskSpec, defaults *config.Defaults, log *slog.Logger) (tr TaskResult) {
	tr = TaskResult{
		TaskName:  spec.Name,
		TaskType:  tk.Type(),
		Status:    StatusPending,
		Required:  spec.IsRequired(),
		StartedAt: time.Now(),
	}
	if spec.Credential != nil {
		tr.Credential = spec.Credential.Name
	}
	defer func() {
		tr.AttemptCount = len(tr.Attempts)
		tr.Duration = time.Since(tr.StartedAt)
	}()

	if ec.DryRun {
		return e.planTask(ec, tk, spec, tr, log)
	}

	// Credentials resolve lazily, immediately before execution, and a
	// resolution failure is terminal: retrying cannot repair a missing
	// or unreachable credential reference.
	var bundle *creds.Bundle
	if spec.Credential != nil {
		var err error
		bundle, err = e.creds.Get(ctx, spec.Credential.Backend, spec.Credential.Name)
		if err != nil {
			tr.Status = StatusErrored
			tr.Reason = fmt.Sprintf("resolve credential %q: %v", spec.Credential.Name, err)
			log.Error("credential resolution failed", "task", spec.Name, "credential", spec.Credential.Name, "error", err)
			return tr
		}
		defer bundle.Wipe()
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	if timeout == 0 {
		timeout = config.Duration(defaultTaskTimeout)
	}
	policy := resolvePolicy(spec.Retry, defaults.Retry)

	for attempt := 1; attempt <= policy.maxAttempts; attempt++ {
		tr.Status = StatusRunning
		log.Info("task running", "task", spec.Name, "type", tr.TaskType, "status", tr.Status, "attempt", attempt)

		a, output := e.runAttempt(ctx, ec, tk, bundle, timeout.Std(), attempt)
		tr.Attempts = append(tr.Attempts, a)
		tr.Status = a.Status
		tr.Reason = a.Reason
		tr.Output = output

		if a.Status == StatusSucceeded {
			log.Info("task succeeded", "task", spec.Name, "attempt", attempt, "duration", a.Duration)
			return tr
		}
		log.Warn("task attempt did not succeed", "task", spec.Name, "attempt", attempt, "status", a.Status, "reason", a.Reason)

		if !a.Status.Retryable() || attempt == policy.maxAttempts || ctx.Err() != nil {
			return tr
		}

		delay := policy.backoff(attempt + 1)
		tr.Status = StatusRetrying
		log.Info("task retrying", "task", spec.Name, "status", tr.Status, "next_attempt", attempt+1, "delay", delay)
		if err := e.sleep(ctx, delay); err != nil {
			tr.Status = a.Status
			return tr
		}
	}
	return tr
}

// runAttempt executes one attempt under the task's timeout and
// classifies the outcome. Timeouts and logical failures are retryable;
// transient transport errors count as failures for the same reason;
// every other error is an execution defect and terminal.
func (e *Engine) runAttempt(ctx context.Context, ec *task.ExecContext, tk task.Task, bundle *creds.Bundle, timeout time.Duration, number int) (a Attempt, output map[string]any) {
	a = Attempt{Number: number, StartedAt: time.Now()}
	defer func() { a.Duration = time.Since(a.StartedAt) }()

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := tk.Execute(attemptCtx, ec, bundle)

	if out != nil {
		output = out.Data
	}

	switch {
	case err == nil && (out == nil || !out.Failed):
		a.Status = StatusSucceeded
	case err == nil:
		a.Status = StatusFailed
		a.Reason = out.Reason
	case errors.Is(err, context.DeadlineExceeded):
		a.Status = StatusTimedOut
		if ctx.Err() != nil {
			a.Reason = "pipeline deadline exceeded"
		} else {
			a.Reason = fmt.Sprintf("timed out after %s", timeout)
		}
	case task.IsTransient(err):
		a.Status = StatusFailed
		a.Reason = err.Error()
	default:
		a.Status = StatusErrored
		a.Reason = err.Error()
	}
	return a, output
}

// planTask produces the dry-run rendition of a task: its plan metadata
// plus a reference check on its credential, with Execute never called.
func (e *Engine) planTask(ec *task.ExecContext, tk task.Task, spec *config.TaskSpec, tr TaskResult, log *slog.Logger) TaskResult {
	if spec.Credential != nil {
		if err := e.creds.Check(spec.Credential.Backend, spec.Credential.Name); err != nil {
			tr.Status = StatusErrored
			tr.Reason = fmt.Sprintf("credential reference %q: %v", spec.Credential.Name, err)
			log.Error("dry run: bad credential reference", "task", spec.Name, "credential", spec.Credential.Name, "error", err)
			return tr
		}
	}

	tr.Status = StatusSkipped
	tr.Reason = "dry run"
	tr.Output = tk.Plan(ec)
	log.Info("task planned", "task", spec.Name, "type", tr.TaskType)
	return tr
}

func skippedResult(spec *config.TaskSpec, tk task.Task, reason string) TaskResult {
	return TaskResult{
		TaskName:  spec.Name,
		TaskType:  tk.Type(),
		Required:  spec.IsRequired(),
		Status:    StatusSkipped,
		Reason:    reason,
		StartedAt: time.Now(),
	}
}

// pipelineStatus derives the run status: success requires every
// required task to have succeeded. In a dry run, planned (skipped)
// tasks count as healthy.
func pipelineStatus(tasks []TaskResult, dryRun bool) Status {
	for i := range tasks {
		if !tasks[i].Required {
			continue
		}
		switch tasks[i].Status {
		case StatusSucceeded:
		case StatusSkipped:
			if !dryRun {
				return StatusFailed
			}
		default:
			return StatusFailed
		}
	}
	return StatusSucceeded
}
