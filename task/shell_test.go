package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsrun/opsrun/creds"
)

func newShell(t *testing.T, params map[string]any) Task {
	t.Helper()
	tk, err := NewShellFactory()("sh-test", params)
	if err != nil {
		t.Fatalf("NewShellFactory: %v", err)
	}
	return tk
}

func TestShellTaskSuccess(t *testing.T) {
	tk := newShell(t, map[string]any{"command": "echo hello"})

	out, err := tk.Execute(context.Background(), NewExecContext(t.TempDir(), "", nil), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Failed {
		t.Fatalf("task failed: %s", out.Reason)
	}
	if got := out.Data["exit_code"]; got != 0 {
		t.Errorf("exit_code = %v, want 0", got)
	}
	if got, _ := out.Data["stdout"].(string); got != "hello\n" {
		t.Errorf("stdout = %q, want %q", got, "hello\n")
	}
}

func TestShellTaskNonZeroExitFails(t *testing.T) {
	tk := newShell(t, map[string]any{"command": "exit 3"})

	out, err := tk.Execute(context.Background(), NewExecContext(t.TempDir(), "", nil), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Failed {
		t.Fatal("expected logical failure for exit 3")
	}
	if got := out.Data["exit_code"]; got != 3 {
		t.Errorf("exit_code = %v, want 3", got)
	}
}

func TestShellTaskSpawnFailureIsError(t *testing.T) {
	tk := newShell(t, map[string]any{
		"command": "/no/such/binary",
		"shell":   false,
	})

	out, err := tk.Execute(context.Background(), NewExecContext(t.TempDir(), "", nil), nil)
	if err == nil {
		t.Fatalf("expected spawn error, got output %+v", out)
	}
}

func TestShellTaskTimeout(t *testing.T) {
	tk := newShell(t, map[string]any{"command": "sleep 10"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tk.Execute(ctx, NewExecContext(t.TempDir(), "", nil), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("task ran %v after cancellation, process not killed", elapsed)
	}
}

func TestShellTaskBundleInjection(t *testing.T) {
	tk := newShell(t, map[string]any{"command": `printf '%s' "$API_TOKEN"`})
	bundle := &creds.Bundle{
		Name:   "staging",
		Values: map[string]string{"api_token": "s3cret"},
	}

	out, err := tk.Execute(context.Background(), NewExecContext(t.TempDir(), "", nil), bundle)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got, _ := out.Data["stdout"].(string); got != "s3cret" {
		t.Errorf("stdout = %q, want bundle value via API_TOKEN", got)
	}
}

func TestShellTaskEnvAndWorkDir(t *testing.T) {
	dir := t.TempDir()
	tk := newShell(t, map[string]any{
		"command":     `printf '%s:%s' "$GREETING" "$PWD"`,
		"working_dir": dir,
		"env":         map[string]any{"GREETING": "hi"},
	})

	out, err := tk.Execute(context.Background(), NewExecContext("", "", nil), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := "hi:" + dir
	if got, _ := out.Data["stdout"].(string); got != want {
		t.Errorf("stdout = %q, want %q", got, want)
	}
}

func TestShellTaskExpect(t *testing.T) {
	tk := newShell(t, map[string]any{
		"command": "echo ready",
		"expect":  `stdout contains "ready"`,
	})
	out, err := tk.Execute(context.Background(), NewExecContext(t.TempDir(), "", nil), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Failed {
		t.Fatalf("expectation should hold: %s", out.Reason)
	}

	tk = newShell(t, map[string]any{
		"command": "echo ready",
		"expect":  `stdout contains "absent"`,
	})
	out, err = tk.Execute(context.Background(), NewExecContext(t.TempDir(), "", nil), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Failed {
		t.Fatal("unmet expectation should fail the task")
	}
}

func TestShellTaskOutputFilter(t *testing.T) {
	tk := newShell(t, map[string]any{
		"command":       "echo done",
		"output_filter": ".exit_code",
	})
	out, err := tk.Execute(context.Background(), NewExecContext(t.TempDir(), "", nil), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// JSON round-trip in the filter yields float64.
	if got, _ := out.Data["filtered"].(float64); got != 0 {
		t.Errorf("filtered = %v, want 0", out.Data["filtered"])
	}
}

func TestShellFactoryValidation(t *testing.T) {
	if _, err := NewShellFactory()("bad", map[string]any{}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("missing command err = %v, want ErrInvalidParameters", err)
	}
	if _, err := NewShellFactory()("bad", map[string]any{
		"command":       "echo x",
		"output_filter": ".[invalid",
	}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("bad filter err = %v, want ErrInvalidParameters", err)
	}
	if _, err := NewShellFactory()("bad", map[string]any{
		"command": "echo x",
		"expect":  "((",
	}); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("bad expect err = %v, want ErrInvalidParameters", err)
	}
}

func TestShellTaskPlan(t *testing.T) {
	tk := newShell(t, map[string]any{"command": "echo hello"})
	plan := tk.Plan(NewExecContext("/tmp/run", "", nil))
	if got, _ := plan["command"].(string); got != "/bin/sh -c echo hello" {
		t.Errorf("plan command = %q", got)
	}
	if got, _ := plan["working_dir"].(string); got != "/tmp/run" {
		t.Errorf("plan working_dir = %q, want /tmp/run", got)
	}
}
