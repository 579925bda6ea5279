package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix is the conventional prefix for credential environment
// variables, matching CI credential bindings.
const DefaultEnvPrefix = "CREDENTIAL_"

// EnvProvider reads credential bundles from process environment variables.
// A reference "api_token" is looked up as API_TOKEN, CREDENTIAL_API_TOKEN,
// and the verbatim name, in that order of specificity (prefixed forms win).
// Values holding a JSON object become multi-key bundles; plain values
// become a single-entry bundle under the "value" key.
type EnvProvider struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvProvider creates an EnvProvider. An empty prefix selects
// DefaultEnvPrefix.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix, lookup: os.LookupEnv}
}

// SetLookup overrides the environment lookup function. Tests use this to
// supply a fixed mapping.
func (p *EnvProvider) SetLookup(fn func(string) (string, bool)) {
	p.lookup = fn
}

func (p *EnvProvider) Name() string { return "env" }

// Get resolves a credential bundle from the environment.
func (p *EnvProvider) Get(_ context.Context, name string) (*Bundle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty credential name", ErrNotFound)
	}

	upper := strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
	candidates := []string{
		p.prefix + upper,
		p.prefix + name,
		upper,
		name,
	}

	for _, env := range candidates {
		raw, ok := p.lookup(env)
		if !ok || raw == "" {
			continue
		}
		return parseBundle(name, raw), nil
	}

	return nil, fmt.Errorf("%w: %q (checked %s)", ErrNotFound, name, strings.Join(candidates, ", "))
}

// parseBundle interprets a raw env value as either a JSON object of
// string pairs or a single opaque value.
func parseBundle(name, raw string) *Bundle {
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			values := make(map[string]string, len(m))
			for k, v := range m {
				values[k] = fmt.Sprintf("%v", v)
			}
			return &Bundle{Name: name, Values: values}
		}
	}
	return &Bundle{Name: name, Values: map[string]string{"value": raw}}
}
