// Package report renders pipeline results for humans: an HTML report
// with per-task sections and a CSV export for spreadsheets. Task
// sections can be overridden by custom templates at several scopes.
package report

import (
	"fmt"
	"html/template"
)

// defaultTaskSection renders a task when no override matches.
const defaultTaskSection = `<section class="task {{.Status}}">
<h2>{{.TaskName}} <span class="type">({{.TaskType}})</span></h2>
<p class="status">{{.Status}}{{if .Reason}} &mdash; {{.Reason}}{{end}}</p>
{{if .Credential}}<p class="credential">credential: {{.Credential}}</p>{{end}}
<p class="timing">{{.Duration}} over {{len .Attempts}} attempt(s)</p>
</section>`

// Templates resolves which template renders a given task's report
// section. Lookup precedence is task name, then task type, then
// pipeline, then the global override, then the built-in default.
type Templates struct {
	byTask     map[string]*template.Template
	byType     map[string]*template.Template
	byPipeline map[string]*template.Template
	global     *template.Template
	fallback   *template.Template
}

// NewTemplates creates a resolver with only the built-in default
// registered.
func NewTemplates() *Templates {
	return &Templates{
		byTask:     make(map[string]*template.Template),
		byType:     make(map[string]*template.Template),
		byPipeline: make(map[string]*template.Template),
		fallback:   template.Must(template.New("task").Parse(defaultTaskSection)),
	}
}

// RegisterTask overrides the section template for one task name.
func (t *Templates) RegisterTask(taskName, text string) error {
	tmpl, err := parse("task:"+taskName, text)
	if err != nil {
		return err
	}
	t.byTask[taskName] = tmpl
	return nil
}

// RegisterType overrides the section template for every task of a type.
func (t *Templates) RegisterType(taskType, text string) error {
	tmpl, err := parse("type:"+taskType, text)
	if err != nil {
		return err
	}
	t.byType[taskType] = tmpl
	return nil
}

// RegisterPipeline overrides the section template for every task in the
// named pipeline.
func (t *Templates) RegisterPipeline(pipeline, text string) error {
	tmpl, err := parse("pipeline:"+pipeline, text)
	if err != nil {
		return err
	}
	t.byPipeline[pipeline] = tmpl
	return nil
}

// SetGlobal overrides the section template everywhere no narrower
// override applies.
func (t *Templates) SetGlobal(text string) error {
	tmpl, err := parse("global", text)
	if err != nil {
		return err
	}
	t.global = tmpl
	return nil
}

// Select returns the template for a task section, most specific scope
// first.
func (t *Templates) Select(taskName, taskType, pipeline string) *template.Template {
	if tmpl, ok := t.byTask[taskName]; ok {
		return tmpl
	}
	if tmpl, ok := t.byType[taskType]; ok {
		return tmpl
	}
	if tmpl, ok := t.byPipeline[pipeline]; ok {
		return tmpl
	}
	if t.global != nil {
		return t.global
	}
	return t.fallback
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return tmpl, nil
}
