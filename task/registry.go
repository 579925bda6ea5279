package task

import "fmt"

// Registry maps task type identifiers to factories. It is populated once
// at process start (see RegisterBuiltins) and read-only afterwards; the
// engine fails fast before a run if any declared type does not resolve.
type Registry struct {
	factories map[string]Factory
	order     []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the given type identifier. Re-registration
// is rejected rather than silently overwritten, so a plugin cannot
// shadow an existing type.
func (r *Registry) Register(typeID string, factory Factory) error {
	if typeID == "" {
		return fmt.Errorf("%w: empty type identifier", ErrInvalidParameters)
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %q", ErrInvalidParameters, typeID)
	}
	if _, exists := r.factories[typeID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTaskType, typeID)
	}
	r.factories[typeID] = factory
	r.order = append(r.order, typeID)
	return nil
}

// Resolve returns the factory registered for typeID.
func (r *Registry) Resolve(typeID string) (Factory, error) {
	factory, ok := r.factories[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, typeID)
	}
	return factory, nil
}

// Has reports whether typeID is registered.
func (r *Registry) Has(typeID string) bool {
	_, ok := r.factories[typeID]
	return ok
}

// Types returns the registered type identifiers in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RegisterBuiltins registers the built-in task variants. It is the
// explicit, ordered registration list that replaces dynamic plugin
// scanning: callers may register additional factories before or after.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		typeID  string
		factory Factory
	}{
		{"shell", NewShellFactory()},
		{"oc_cli", NewOCFactory()},
		{"aws_cli", NewAWSFactory()},
		{"http_call", NewHTTPFactory()},
		{"web_screenshot", NewScreenshotFactory()},
	}
	for _, b := range builtins {
		if err := r.Register(b.typeID, b.factory); err != nil {
			return err
		}
	}
	return nil
}
