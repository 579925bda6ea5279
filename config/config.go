// Package config loads and validates pipeline definitions from YAML.
// Loading substitutes ${VAR} environment references, decodes strictly,
// and validates the result against the task registry so a malformed
// pipeline is rejected before anything executes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks definition-level problems: unreadable files,
// bad YAML, undefined variables, or validation failures. Callers map it
// to the configuration exit code.
var ErrConfiguration = errors.New("configuration error")

// Duration wraps time.Duration so YAML values like "30s" decode
// directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("%w: duration must be a string like \"30s\": %v", ErrConfiguration, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: invalid duration %q: %v", ErrConfiguration, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CredentialRef names a credential to resolve at execution time. Only
// the reference lives in configuration; the secret material stays in
// the backend until the owning task is about to run.
type CredentialRef struct {
	Backend string `yaml:"backend"`
	Name    string `yaml:"name"`
}

// RetrySpec configures per-task retry policy.
type RetrySpec struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
}

// TaskSpec is one task entry in a pipeline definition.
type TaskSpec struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	Params        map[string]any `yaml:"params"`
	Credential    *CredentialRef `yaml:"credential"`
	Timeout       Duration       `yaml:"timeout"`
	Retry         *RetrySpec     `yaml:"retry"`
	Required      *bool          `yaml:"required"`
	HaltOnFailure bool           `yaml:"halt_on_failure"`

	// Template names a file whose contents override this task's
	// section in the HTML report.
	Template string `yaml:"template"`
}

// IsRequired reports whether the task counts toward pipeline status.
// Tasks are required unless explicitly marked otherwise.
func (t *TaskSpec) IsRequired() bool {
	return t.Required == nil || *t.Required
}

// Defaults supplies pipeline-wide fallbacks applied to tasks that do
// not set their own values.
type Defaults struct {
	Timeout Duration   `yaml:"timeout"`
	Retry   *RetrySpec `yaml:"retry"`
}

// Pipeline is a complete pipeline definition.
type Pipeline struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	WorkDir     string            `yaml:"work_dir"`
	OutputDir   string            `yaml:"output_dir"`
	Env         map[string]string `yaml:"env"`
	Parallel    bool              `yaml:"parallel"`
	Concurrency int               `yaml:"concurrency"`
	Timeout     Duration          `yaml:"timeout"`
	Defaults    Defaults          `yaml:"defaults"`
	Template    string            `yaml:"template"`
	Tasks       []TaskSpec        `yaml:"tasks"`
}

// LoadPipeline reads, substitutes, and decodes a pipeline definition.
func LoadPipeline(path string) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	return ParsePipeline(raw, os.LookupEnv)
}

// ParsePipeline decodes pipeline YAML after substituting ${VAR}
// references through lookup. Decoding is strict: unknown keys are
// configuration errors, not silent no-ops.
func ParsePipeline(raw []byte, lookup func(string) (string, bool)) (*Pipeline, error) {
	substituted, err := Substitute(raw, lookup)
	if err != nil {
		return nil, err
	}

	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(substituted))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: parse pipeline: %v", ErrConfiguration, err)
	}
	return &p, nil
}

// LoadTask reads a single-task definition, for ad-hoc execution outside
// a pipeline file.
func LoadTask(path string) (*TaskSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	substituted, err := Substitute(raw, os.LookupEnv)
	if err != nil {
		return nil, err
	}

	var t TaskSpec
	dec := yaml.NewDecoder(bytes.NewReader(substituted))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: parse task: %v", ErrConfiguration, err)
	}
	return &t, nil
}
