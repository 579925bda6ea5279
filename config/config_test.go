package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opsrun/opsrun/task"
)

const samplePipeline = `
name: nightly-checks
description: nightly health checks
env:
  REGION: eu-west-1
timeout: "10m"
defaults:
  timeout: "30s"
  retry:
    max_attempts: 3
    backoff: "1s"
tasks:
  - name: ping
    type: http_call
    params:
      url: https://example.com/health
    timeout: "5s"
  - name: list-pods
    type: oc_cli
    params:
      command: get
      args: [pods]
    credential:
      backend: env
      name: cluster
    required: false
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func newRegistry(t *testing.T) *task.Registry {
	t.Helper()
	r := task.NewRegistry()
	if err := task.RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func TestLoadPipeline(t *testing.T) {
	p, err := LoadPipeline(writeFile(t, samplePipeline))
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if p.Name != "nightly-checks" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Timeout.Std() != 10*time.Minute {
		t.Errorf("timeout = %v, want 10m", p.Timeout.Std())
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(p.Tasks))
	}

	ping := p.Tasks[0]
	if ping.Timeout.Std() != 5*time.Second {
		t.Errorf("ping timeout = %v, want 5s", ping.Timeout.Std())
	}
	if !ping.IsRequired() {
		t.Error("ping should default to required")
	}

	pods := p.Tasks[1]
	if pods.IsRequired() {
		t.Error("list-pods is marked required: false")
	}
	if pods.Credential == nil || pods.Credential.Name != "cluster" || pods.Credential.Backend != "env" {
		t.Errorf("credential = %+v", pods.Credential)
	}
	if p.Defaults.Retry == nil || p.Defaults.Retry.MaxAttempts != 3 {
		t.Errorf("defaults.retry = %+v", p.Defaults.Retry)
	}
}

func TestLoadPipelineUnknownKeyRejected(t *testing.T) {
	_, err := LoadPipeline(writeFile(t, "name: x\ntaks:\n  - name: oops\n"))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestSubstitute(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "TARGET" {
			return "https://example.com", true
		}
		return "", false
	}

	out, err := Substitute([]byte("url: ${TARGET}/health"), lookup)
	if err != nil {
		t.Fatalf("substitute: %v", err)
	}
	if string(out) != "url: https://example.com/health" {
		t.Errorf("out = %q", out)
	}
}

func TestSubstituteUndefinedVariable(t *testing.T) {
	lookup := func(string) (string, bool) { return "", false }
	_, err := Substitute([]byte("a: ${MISSING_B}\nb: ${MISSING_A}"), lookup)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	// Every missing name is reported, sorted.
	if !strings.Contains(err.Error(), "MISSING_A, MISSING_B") {
		t.Errorf("err = %v, want both missing names", err)
	}
}

func TestSubstituteFromEnv(t *testing.T) {
	t.Setenv("PIPELINE_TEST_URL", "https://internal.example.com")
	p, err := LoadPipeline(writeFile(t, `
name: env-sub
tasks:
  - name: ping
    type: http_call
    params:
      url: ${PIPELINE_TEST_URL}
`))
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if got := p.Tasks[0].Params["url"]; got != "https://internal.example.com" {
		t.Errorf("url = %v", got)
	}
}

func TestValidateBuildsTasks(t *testing.T) {
	p, err := ParsePipeline([]byte(samplePipeline), func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tasks, err := Validate(p, newRegistry(t))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[0].Type() != "http_call" || tasks[1].Type() != "oc_cli" {
		t.Errorf("types = %q, %q", tasks[0].Type(), tasks[1].Type())
	}
}

func TestValidateRejections(t *testing.T) {
	reg := newRegistry(t)
	cases := []struct {
		name string
		yaml string
	}{
		{"no name", "tasks:\n  - name: a\n    type: shell\n    params: {command: echo}\n"},
		{"no tasks", "name: empty\n"},
		{"duplicate task names", `
name: dup
tasks:
  - name: a
    type: shell
    params: {command: echo}
  - name: a
    type: shell
    params: {command: echo}
`},
		{"unknown type", "name: p\ntasks:\n  - name: a\n    type: carrier_pigeon\n"},
		{"bad params", "name: p\ntasks:\n  - name: a\n    type: shell\n"},
		{"retry too high", `
name: p
tasks:
  - name: a
    type: shell
    params: {command: echo}
    retry: {max_attempts: 99}
`},
		{"halt in parallel", `
name: p
parallel: true
tasks:
  - name: a
    type: shell
    params: {command: echo}
    halt_on_failure: true
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePipeline([]byte(tc.yaml), func(string) (string, bool) { return "", false })
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if _, err := Validate(p, reg); !errors.Is(err, ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadTask(t *testing.T) {
	path := writeFile(t, `
name: one-off
type: shell
params:
  command: uptime
timeout: "15s"
`)
	spec, err := LoadTask(path)
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	built, err := ValidateTask(spec, newRegistry(t))
	if err != nil {
		t.Fatalf("ValidateTask: %v", err)
	}
	if built.Name() != "one-off" || built.Type() != "shell" {
		t.Errorf("built = %q/%q", built.Name(), built.Type())
	}
}
