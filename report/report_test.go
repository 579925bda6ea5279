package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opsrun/opsrun/engine"
)

func sampleResult() *engine.PipelineResult {
	return &engine.PipelineResult{
		RunID:     "run-7",
		Pipeline:  "nightly",
		Status:    engine.StatusFailed,
		StartedAt: time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC),
		Duration:  42 * time.Second,
		Tasks: []engine.TaskResult{
			{
				TaskName: "ping", TaskType: "http_call",
				Status: engine.StatusSucceeded, Required: true,
				Attempts: []engine.Attempt{{Number: 1, Status: engine.StatusSucceeded}},
			},
			{
				TaskName: "deploy", TaskType: "oc_cli",
				Status: engine.StatusFailed, Required: true,
				Reason:     "oc exited with code 1",
				Credential: "cluster",
				Attempts: []engine.Attempt{
					{Number: 1, Status: engine.StatusFailed},
					{Number: 2, Status: engine.StatusFailed},
				},
			},
		},
	}
}

func TestTemplatePrecedence(t *testing.T) {
	tm := NewTemplates()
	if err := tm.SetGlobal("global"); err != nil {
		t.Fatalf("global: %v", err)
	}
	if err := tm.RegisterPipeline("nightly", "pipeline"); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if err := tm.RegisterType("oc_cli", "type"); err != nil {
		t.Fatalf("type: %v", err)
	}
	if err := tm.RegisterTask("deploy", "task"); err != nil {
		t.Fatalf("task: %v", err)
	}

	render := func(taskName, taskType, pipeline string) string {
		var buf bytes.Buffer
		if err := tm.Select(taskName, taskType, pipeline).Execute(&buf, nil); err != nil {
			t.Fatalf("execute: %v", err)
		}
		return buf.String()
	}

	if got := render("deploy", "oc_cli", "nightly"); got != "task" {
		t.Errorf("task-scope = %q", got)
	}
	if got := render("other", "oc_cli", "nightly"); got != "type" {
		t.Errorf("type-scope = %q", got)
	}
	if got := render("other", "shell", "nightly"); got != "pipeline" {
		t.Errorf("pipeline-scope = %q", got)
	}
	if got := render("other", "shell", "weekly"); got != "global" {
		t.Errorf("global-scope = %q", got)
	}
}

func TestTemplateDefaultWithoutOverrides(t *testing.T) {
	tm := NewTemplates()
	var buf bytes.Buffer
	tr := &sampleResult().Tasks[1]
	if err := tm.Select(tr.TaskName, tr.TaskType, "nightly").Execute(&buf, tr); err != nil {
		t.Fatalf("execute default: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"deploy", "oc_cli", "failed", "cluster"} {
		if !strings.Contains(out, want) {
			t.Errorf("default section missing %q:\n%s", want, out)
		}
	}
}

func TestTemplateParseErrors(t *testing.T) {
	tm := NewTemplates()
	if err := tm.SetGlobal("{{.Broken"); err == nil {
		t.Error("bad global template accepted")
	}
	if err := tm.RegisterTask("x", "{{end}}"); err == nil {
		t.Error("bad task template accepted")
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, sampleResult(), nil); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"<title>nightly", "run-7", "<h2>ping", "<h2>deploy",
		"oc exited with code 1", "2 attempt(s)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if !strings.HasSuffix(out, "</html>\n") {
		t.Error("report not closed")
	}
}

// failingWriter errors after n successful writes.
type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n <= 0 {
		return 0, errors.New("disk full")
	}
	w.n--
	return len(p), nil
}

func TestWriteHTMLPropagatesWriteErrors(t *testing.T) {
	for n := 0; n < 4; n++ {
		if err := WriteHTML(&failingWriter{n: n}, sampleResult(), nil); err == nil {
			t.Errorf("write failure after %d writes not reported", n)
		}
	}
}

func TestWriteHTMLEscapesReason(t *testing.T) {
	res := sampleResult()
	res.Tasks[1].Reason = `<script>alert("x")</script>`
	var buf bytes.Buffer
	if err := WriteHTML(&buf, res, nil); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	if strings.Contains(buf.String(), "<script>alert") {
		t.Error("reason not escaped in HTML output")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "run_id" {
		t.Errorf("header = %v", rows[0])
	}
	deploy := rows[2]
	if deploy[2] != "deploy" || deploy[4] != "failed" || deploy[7] != "2" {
		t.Errorf("deploy row = %v", deploy)
	}
}
