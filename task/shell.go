package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/opsrun/opsrun/creds"
)

// killGrace is how long a subprocess gets to exit after cancellation
// before it is forcibly killed.
const killGrace = 5 * time.Second

// ShellTask spawns a subprocess, optionally through a shell, and
// captures stdout, stderr, and the exit code. A non-zero exit code is a
// logical failure, not an error.
type ShellTask struct {
	name      string
	command   string
	args      []string
	shell     bool
	shellPath string
	workDir   string
	env       map[string]string
	filter    *outputFilter
	expect    *expectation
}

// NewShellFactory returns the factory for "shell" tasks.
func NewShellFactory() Factory {
	return func(name string, params map[string]any) (Task, error) {
		command := stringParam(params, "command")
		if command == "" {
			return nil, fmt.Errorf("%w: shell task %q: 'command' is required", ErrInvalidParameters, name)
		}

		args, err := stringSliceParam(params, "args")
		if err != nil {
			return nil, fmt.Errorf("shell task %q: %w", name, err)
		}
		filter, err := newOutputFilter(params)
		if err != nil {
			return nil, fmt.Errorf("shell task %q: %w", name, err)
		}
		expect, err := newExpectation(params)
		if err != nil {
			return nil, fmt.Errorf("shell task %q: %w", name, err)
		}

		shellPath := stringParam(params, "shell_path")
		if shellPath == "" {
			shellPath = "/bin/sh"
		}

		return &ShellTask{
			name:      name,
			command:   command,
			args:      args,
			shell:     boolParam(params, "shell", true),
			shellPath: shellPath,
			workDir:   stringParam(params, "working_dir"),
			env:       stringMapParam(params, "env"),
			filter:    filter,
			expect:    expect,
		}, nil
	}
}

func (t *ShellTask) Name() string { return t.name }
func (t *ShellTask) Type() string { return "shell" }

// Plan describes the command line that Execute would run.
func (t *ShellTask) Plan(ec *ExecContext) map[string]any {
	argv := t.argv()
	plan := map[string]any{
		"command": strings.Join(argv, " "),
	}
	if dir := t.resolveDir(ec); dir != "" {
		plan["working_dir"] = dir
	}
	if len(t.env) > 0 {
		keys := make([]string, 0, len(t.env))
		for k := range t.env {
			keys = append(keys, k)
		}
		plan["env_keys"] = keys
	}
	return plan
}

// Execute runs the command under the context's deadline. Credential
// bundle values, if present, are injected as environment variables
// named by their uppercased keys.
func (t *ShellTask) Execute(ctx context.Context, ec *ExecContext, bundle *creds.Bundle) (*Output, error) {
	argv := t.argv()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // commands come from validated pipeline config
	cmd.WaitDelay = killGrace
	if dir := t.resolveDir(ec); dir != "" {
		cmd.Dir = dir
	}

	extra := make(map[string]string, len(t.env)+len(bundle.Keys()))
	for k, v := range t.env {
		extra[k] = v
	}
	for _, k := range bundle.Keys() {
		v, _ := bundle.Value(k)
		extra[strings.ToUpper(k)] = v
	}
	cmd.Env = ec.Environ(extra)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		// The process was killed by cancellation; report the deadline,
		// not the opaque "signal: killed" exit error.
		return nil, fmt.Errorf("shell task %q: %w", t.name, ctx.Err())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Spawn failure (command not found, permission denied):
			// a defect in the spec, not a runtime task failure.
			return nil, fmt.Errorf("shell task %q: %w", t.name, runErr)
		}
	}

	data := map[string]any{
		"command":   strings.Join(argv, " "),
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	}

	if t.filter != nil {
		filtered, err := t.filter.Apply(data)
		if err != nil {
			return nil, fmt.Errorf("shell task %q: %w", t.name, err)
		}
		data["filtered"] = filtered
	}

	out := &Output{Data: data}
	if exitCode != 0 {
		out.Failed = true
		out.Reason = fmt.Sprintf("exit code %d", exitCode)
		return out, nil
	}

	if t.expect != nil {
		ok, reason, err := t.expect.Check(data)
		if err != nil {
			return nil, fmt.Errorf("shell task %q: %w", t.name, err)
		}
		if !ok {
			out.Failed = true
			out.Reason = reason
		}
	}
	return out, nil
}

func (t *ShellTask) argv() []string {
	if t.shell {
		line := t.command
		if len(t.args) > 0 {
			line = line + " " + strings.Join(t.args, " ")
		}
		return []string{t.shellPath, "-c", line}
	}
	return append([]string{t.command}, t.args...)
}

func (t *ShellTask) resolveDir(ec *ExecContext) string {
	if t.workDir != "" {
		return t.workDir
	}
	if ec != nil {
		return ec.WorkDir
	}
	return ""
}
