package report

import (
	"fmt"
	"html/template"
	"io"

	"github.com/opsrun/opsrun/engine"
)

const htmlHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Pipeline}} &mdash; run {{.RunID}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.succeeded { border-left: 4px solid #2e7d32; padding-left: 1rem; }
.failed, .timed_out, .errored { border-left: 4px solid #c62828; padding-left: 1rem; }
.skipped { border-left: 4px solid #9e9e9e; padding-left: 1rem; }
.type { color: #666; font-size: 0.8em; }
</style>
</head>
<body>
<h1>{{.Pipeline}}</h1>
<p>run {{.RunID}} &mdash; <strong>{{.Status}}</strong>{{if .DryRun}} (dry run){{end}}</p>
<p>started {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}, took {{.Duration}}</p>
`

const htmlFooter = "</body>\n</html>\n"

var headerTmpl = template.Must(template.New("header").Parse(htmlHeader))

// WriteHTML renders the full run report. Task sections are rendered
// through the resolver so callers can override their layout per task,
// per type, or per pipeline.
func WriteHTML(w io.Writer, result *engine.PipelineResult, templates *Templates) error {
	if templates == nil {
		templates = NewTemplates()
	}
	if err := headerTmpl.Execute(w, result); err != nil {
		return fmt.Errorf("render report header: %w", err)
	}
	for i := range result.Tasks {
		tr := &result.Tasks[i]
		tmpl := templates.Select(tr.TaskName, tr.TaskType, result.Pipeline)
		if err := tmpl.Execute(w, tr); err != nil {
			return fmt.Errorf("render task %q: %w", tr.TaskName, err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return fmt.Errorf("render task %q: %w", tr.TaskName, err)
		}
	}
	if _, err := io.WriteString(w, htmlFooter); err != nil {
		return fmt.Errorf("render report footer: %w", err)
	}
	return nil
}
