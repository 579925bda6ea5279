package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/opsrun/opsrun/creds"
)

// browserCandidates are probed in order when no browser_path is given.
var browserCandidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"headless-shell",
}

// ScreenshotTask captures a page screenshot with a headless browser
// subprocess. The image is written under the run's output directory and
// the artifact path is reported in the task output.
type ScreenshotTask struct {
	name        string
	url         string
	outputFile  string
	browserPath string
	windowSize  string
	waitMs      int
	extraArgs   []string

	lookPath func(string) (string, error)
}

// NewScreenshotFactory returns the factory for "web_screenshot" tasks.
func NewScreenshotFactory() Factory {
	return func(name string, params map[string]any) (Task, error) {
		url := stringParam(params, "url")
		if url == "" {
			return nil, fmt.Errorf("%w: web_screenshot task %q: 'url' is required", ErrInvalidParameters, name)
		}
		extraArgs, err := stringSliceParam(params, "browser_args")
		if err != nil {
			return nil, fmt.Errorf("web_screenshot task %q: %w", name, err)
		}
		outputFile := stringParam(params, "output_file")
		if outputFile == "" {
			outputFile = name + ".png"
		}

		return &ScreenshotTask{
			name:        name,
			url:         url,
			outputFile:  outputFile,
			browserPath: stringParam(params, "browser_path"),
			windowSize:  stringParam(params, "window_size"),
			waitMs:      intParam(params, "wait_ms", 0),
			extraArgs:   extraArgs,
			lookPath:    exec.LookPath,
		}, nil
	}
}

func (t *ScreenshotTask) Name() string { return t.name }
func (t *ScreenshotTask) Type() string { return "web_screenshot" }

// Plan names the target and the artifact file.
func (t *ScreenshotTask) Plan(ec *ExecContext) map[string]any {
	return map[string]any{
		"url":         t.url,
		"output_file": t.artifactPath(ec),
	}
}

func (t *ScreenshotTask) Execute(ctx context.Context, ec *ExecContext, _ *creds.Bundle) (*Output, error) {
	browser, err := t.findBrowser()
	if err != nil {
		return nil, fmt.Errorf("web_screenshot task %q: %w", t.name, err)
	}

	artifact := t.artifactPath(ec)
	if dir := filepath.Dir(artifact); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("web_screenshot task %q: %w", t.name, err)
		}
	}

	args := []string{
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--hide-scrollbars",
		"--screenshot=" + artifact,
	}
	if t.windowSize != "" {
		args = append(args, "--window-size="+t.windowSize)
	}
	if t.waitMs > 0 {
		args = append(args, fmt.Sprintf("--virtual-time-budget=%d", t.waitMs))
	}
	args = append(args, t.extraArgs...)
	args = append(args, t.url)

	cmd := exec.CommandContext(ctx, browser, args...) //nolint:gosec // arguments come from validated pipeline config
	cmd.WaitDelay = killGrace
	if ec != nil {
		cmd.Env = ec.Environ(nil)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("web_screenshot task %q: %w", t.name, ctx.Err())
	}

	data := map[string]any{
		"url":     t.url,
		"browser": browser,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("web_screenshot task %q: %w", t.name, runErr)
		}
		return &Output{
			Data:   data,
			Failed: true,
			Reason: fmt.Sprintf("browser exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())),
		}, nil
	}

	info, err := os.Stat(artifact)
	if err != nil || info.Size() == 0 {
		return &Output{
			Data:   data,
			Failed: true,
			Reason: fmt.Sprintf("browser produced no screenshot at %s", artifact),
		}, nil
	}

	data["artifact"] = artifact
	data["size_bytes"] = info.Size()
	return &Output{Data: data}, nil
}

func (t *ScreenshotTask) artifactPath(ec *ExecContext) string {
	if filepath.IsAbs(t.outputFile) || ec == nil || ec.OutputDir == "" {
		return t.outputFile
	}
	return filepath.Join(ec.OutputDir, t.outputFile)
}

func (t *ScreenshotTask) findBrowser() (string, error) {
	if t.browserPath != "" {
		return t.browserPath, nil
	}
	for _, candidate := range browserCandidates {
		if path, err := t.lookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", errors.New("no headless browser found; set 'browser_path'")
}
