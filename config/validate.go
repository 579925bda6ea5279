package config

import (
	"fmt"

	"github.com/opsrun/opsrun/task"
)

// maxRetryAttempts bounds runaway retry configuration.
const maxRetryAttempts = 10

// Validate checks the pipeline definition against the registry and
// constructs every task up front, so parameter errors surface before
// anything runs. The returned tasks are ordered as declared.
func Validate(p *Pipeline, reg *task.Registry) ([]task.Task, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: pipeline has no name", ErrConfiguration)
	}
	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q declares no tasks", ErrConfiguration, p.Name)
	}
	if p.Timeout < 0 {
		return nil, fmt.Errorf("%w: pipeline %q: negative timeout", ErrConfiguration, p.Name)
	}
	if p.Concurrency < 0 {
		return nil, fmt.Errorf("%w: pipeline %q: negative concurrency", ErrConfiguration, p.Name)
	}
	if p.Concurrency > 0 && !p.Parallel {
		return nil, fmt.Errorf("%w: pipeline %q: concurrency requires parallel mode", ErrConfiguration, p.Name)
	}

	seen := make(map[string]struct{}, len(p.Tasks))
	tasks := make([]task.Task, 0, len(p.Tasks))
	for i := range p.Tasks {
		spec := &p.Tasks[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: pipeline %q: task %d has no name", ErrConfiguration, p.Name, i)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("%w: pipeline %q: duplicate task name %q", ErrConfiguration, p.Name, spec.Name)
		}
		seen[spec.Name] = struct{}{}

		built, err := buildTask(spec, reg)
		if err != nil {
			return nil, fmt.Errorf("%w: pipeline %q: %v", ErrConfiguration, p.Name, err)
		}
		tasks = append(tasks, built)

		if err := validateTaskSpec(spec); err != nil {
			return nil, fmt.Errorf("%w: pipeline %q: task %q: %v", ErrConfiguration, p.Name, spec.Name, err)
		}
		if p.Parallel && spec.HaltOnFailure {
			// Halting cannot be honored once later tasks are already
			// running concurrently.
			return nil, fmt.Errorf("%w: pipeline %q: task %q: halt_on_failure is incompatible with parallel execution", ErrConfiguration, p.Name, spec.Name)
		}
	}
	return tasks, nil
}

// ValidateTask checks and constructs a standalone task spec.
func ValidateTask(spec *TaskSpec, reg *task.Registry) (task.Task, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: task has no name", ErrConfiguration)
	}
	built, err := buildTask(spec, reg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := validateTaskSpec(spec); err != nil {
		return nil, fmt.Errorf("%w: task %q: %v", ErrConfiguration, spec.Name, err)
	}
	return built, nil
}

func buildTask(spec *TaskSpec, reg *task.Registry) (task.Task, error) {
	if spec.Type == "" {
		return nil, fmt.Errorf("task %q has no type", spec.Name)
	}
	factory, err := reg.Resolve(spec.Type)
	if err != nil {
		return nil, fmt.Errorf("task %q: %v", spec.Name, err)
	}
	built, err := factory(spec.Name, spec.Params)
	if err != nil {
		return nil, fmt.Errorf("task %q: %v", spec.Name, err)
	}
	return built, nil
}

func validateTaskSpec(spec *TaskSpec) error {
	if spec.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}
	if spec.Credential != nil && spec.Credential.Name == "" {
		return fmt.Errorf("credential reference has no name")
	}
	if r := spec.Retry; r != nil {
		if r.MaxAttempts < 1 {
			return fmt.Errorf("retry max_attempts must be at least 1")
		}
		if r.MaxAttempts > maxRetryAttempts {
			return fmt.Errorf("retry max_attempts %d exceeds limit %d", r.MaxAttempts, maxRetryAttempts)
		}
		if r.Backoff < 0 || r.MaxBackoff < 0 {
			return fmt.Errorf("negative retry backoff")
		}
	}
	return nil
}
