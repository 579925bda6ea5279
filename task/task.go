// Package task defines the polymorphic unit of work executed by the
// engine: the Task capability contract, the registry that resolves a
// declared task type to a factory, and the built-in variants (shell,
// oc_cli, aws_cli, http_call, web_screenshot).
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsrun/opsrun/creds"
)

// Registry and validation defects.
var (
	ErrUnknownTaskType   = errors.New("task: unknown task type")
	ErrDuplicateTaskType = errors.New("task: duplicate task type")
	ErrInvalidParameters = errors.New("task: invalid parameters")
)

// Task is one declared unit of work resolved to a concrete variant.
// Construction validates parameters; Execute performs the work under the
// caller's deadline and must propagate cancellation into any subprocess
// or in-flight request it starts.
type Task interface {
	// Name returns the task's unique name within its pipeline.
	Name() string

	// Type returns the registered type identifier.
	Type() string

	// Plan describes what Execute would do, without side effects.
	// Dry runs record this as the task's would-execute metadata.
	Plan(ec *ExecContext) map[string]any

	// Execute runs the task. A nil bundle means no credentials were
	// declared. Logical failure (non-zero exit, HTTP error status) is
	// reported through Output.Failed, not through the error return.
	Execute(ctx context.Context, ec *ExecContext, bundle *creds.Bundle) (*Output, error)
}

// Factory constructs a Task from its declared name and parameters.
// Parameter validation happens here, once, at load time.
type Factory func(name string, params map[string]any) (Task, error)

// Output is the uniform result of a task execution. Data carries the
// platform-specific payload; Failed flags logical failure with Reason
// explaining why.
type Output struct {
	Data   map[string]any
	Failed bool
	Reason string
}

// transientError marks a failure as likely to succeed on retry.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the engine treats it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// --- parameter helpers shared by the variants ---

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func durationParam(params map[string]any, key string) (time.Duration, error) {
	raw, ok := params[key]
	if !ok {
		return 0, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be a duration string", ErrInvalidParameters, key)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidParameters, key, err)
	}
	return d, nil
}

func stringSliceParam(params map[string]any, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a list of strings", ErrInvalidParameters, key)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be a string", ErrInvalidParameters, key, i)
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMapParam(params map[string]any, key string) map[string]string {
	raw, ok := params[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
