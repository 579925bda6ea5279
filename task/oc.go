package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/opsrun/opsrun/creds"
	"gopkg.in/yaml.v3"
)

// OCTask executes an OpenShift CLI command with structured argument
// construction. Cluster credentials (token and API server) come from the
// resolved bundle and are injected as flags on the single invocation, so
// no login state leaks into the shared kubeconfig.
type OCTask struct {
	name         string
	command      string
	args         []string
	namespace    string
	outputFormat string
	ocPath       string
	filter       *outputFilter
	expect       *expectation
}

// NewOCFactory returns the factory for "oc_cli" tasks.
func NewOCFactory() Factory {
	return func(name string, params map[string]any) (Task, error) {
		command := stringParam(params, "command")
		if command == "" {
			return nil, fmt.Errorf("%w: oc_cli task %q: 'command' is required", ErrInvalidParameters, name)
		}

		args, err := stringSliceParam(params, "args")
		if err != nil {
			return nil, fmt.Errorf("oc_cli task %q: %w", name, err)
		}
		filter, err := newOutputFilter(params)
		if err != nil {
			return nil, fmt.Errorf("oc_cli task %q: %w", name, err)
		}
		expect, err := newExpectation(params)
		if err != nil {
			return nil, fmt.Errorf("oc_cli task %q: %w", name, err)
		}

		ocPath := stringParam(params, "oc_path")
		if ocPath == "" {
			ocPath = "oc"
		}
		outputFormat := stringParam(params, "output_format")
		if outputFormat == "" {
			outputFormat = "json"
		}

		return &OCTask{
			name:         name,
			command:      command,
			args:         args,
			namespace:    stringParam(params, "namespace"),
			outputFormat: outputFormat,
			ocPath:       ocPath,
			filter:       filter,
			expect:       expect,
		}, nil
	}
}

func (t *OCTask) Name() string { return t.name }
func (t *OCTask) Type() string { return "oc_cli" }

// Plan describes the oc invocation with credentials redacted.
func (t *OCTask) Plan(_ *ExecContext) map[string]any {
	return map[string]any{
		"command":       t.ocPath + " " + strings.Join(t.buildArgs(nil), " "),
		"namespace":     t.namespace,
		"output_format": t.outputFormat,
	}
}

// Execute runs the oc command and parses its output per output_format.
func (t *OCTask) Execute(ctx context.Context, ec *ExecContext, bundle *creds.Bundle) (*Output, error) {
	argv := t.buildArgs(bundle)

	cmd := exec.CommandContext(ctx, t.ocPath, argv...) //nolint:gosec // arguments come from validated pipeline config
	cmd.WaitDelay = killGrace
	if ec != nil {
		cmd.Env = ec.Environ(nil)
		if ec.WorkDir != "" {
			cmd.Dir = ec.WorkDir
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("oc_cli task %q: %w", t.name, ctx.Err())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("oc_cli task %q: %w", t.name, runErr)
		}
	}

	data := map[string]any{
		"command":   t.ocPath + " " + strings.Join(t.buildArgs(nil), " "),
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	}
	if parsed := parseCLIOutput(stdout.String(), t.outputFormat); parsed != nil {
		data["output"] = parsed
	}

	if t.filter != nil {
		filtered, err := t.filter.Apply(data)
		if err != nil {
			return nil, fmt.Errorf("oc_cli task %q: %w", t.name, err)
		}
		data["filtered"] = filtered
	}

	out := &Output{Data: data}
	if exitCode != 0 {
		out.Failed = true
		out.Reason = fmt.Sprintf("oc exited with code %d: %s", exitCode, strings.TrimSpace(stderr.String()))
		return out, nil
	}

	if t.expect != nil {
		ok, reason, err := t.expect.Check(data)
		if err != nil {
			return nil, fmt.Errorf("oc_cli task %q: %w", t.name, err)
		}
		if !ok {
			out.Failed = true
			out.Reason = reason
		}
	}
	return out, nil
}

// buildArgs assembles the oc argument list. A nil bundle yields the
// redacted form used for plans and recorded command lines.
func (t *OCTask) buildArgs(bundle *creds.Bundle) []string {
	argv := append([]string{t.command}, t.args...)
	if t.namespace != "" {
		argv = append(argv, "-n", t.namespace)
	}
	if t.outputFormat != "" {
		argv = append(argv, "-o", t.outputFormat)
	}
	if token, ok := bundle.Value("token"); ok {
		argv = append(argv, "--token="+token)
	}
	if server, ok := bundle.Value("server"); ok {
		argv = append(argv, "--server="+server)
	}
	return argv
}

// parseCLIOutput decodes CLI stdout according to the declared format.
// Unparseable output is simply omitted; the raw stdout is always kept.
func parseCLIOutput(raw, format string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	switch format {
	case "json":
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	case "yaml":
		var v any
		if err := yaml.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return nil
}
