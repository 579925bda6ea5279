// Package creds resolves named credential references into short-lived
// secret bundles. Resolution is lazy: the engine asks for a bundle
// immediately before the task that declared the reference executes, and
// the bundle is wiped once the task's attempt loop finishes.
package creds

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Common errors.
var (
	ErrNotFound = errors.New("creds: credential not found")
	ErrBackend  = errors.New("creds: credential backend error")
)

// Bundle is resolved secret material scoped to a single task invocation.
// Its String method never exposes values, so a Bundle can be passed to
// loggers and formatters without leaking secrets.
type Bundle struct {
	Name   string
	Values map[string]string
}

// Value returns the named entry from the bundle.
func (b *Bundle) Value(key string) (string, bool) {
	if b == nil {
		return "", false
	}
	v, ok := b.Values[key]
	return v, ok
}

// Keys returns the bundle's keys in sorted order. Keys are not secret;
// values are.
func (b *Bundle) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, 0, len(b.Values))
	for k := range b.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Wipe clears the bundle's values. The engine calls this after the task
// that requested the bundle returns.
func (b *Bundle) Wipe() {
	if b == nil {
		return
	}
	for k := range b.Values {
		b.Values[k] = ""
		delete(b.Values, k)
	}
}

// String implements fmt.Stringer with all secret values redacted.
func (b *Bundle) String() string {
	if b == nil {
		return "bundle(<nil>)"
	}
	return fmt.Sprintf("bundle(%s, %d keys)", b.Name, len(b.Values))
}

// Provider is a single credential backend.
type Provider interface {
	// Name returns the backend identifier ("env", "vault", ...).
	Name() string

	// Get retrieves a credential bundle by name. It returns ErrNotFound
	// when the reference does not exist and ErrBackend when the backend
	// itself is unreachable or misconfigured.
	Get(ctx context.Context, name string) (*Bundle, error)
}

// Chain routes credential lookups to a backend selected by hint.
// An empty hint falls back to the default backend.
type Chain struct {
	providers map[string]Provider
	fallback  string
}

// NewChain creates a Chain over the given providers. The first provider
// becomes the default backend.
func NewChain(providers ...Provider) *Chain {
	c := &Chain{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if c.fallback == "" {
			c.fallback = p.Name()
		}
		c.providers[p.Name()] = p
	}
	return c
}

// Get resolves a credential from the backend named by hint.
func (c *Chain) Get(ctx context.Context, backend, name string) (*Bundle, error) {
	p, err := c.provider(backend)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, name)
}

// Check verifies that a credential reference is well-formed and its
// backend is configured, without resolving any secret material. Dry runs
// use this instead of Get.
func (c *Chain) Check(backend, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty credential name", ErrNotFound)
	}
	_, err := c.provider(backend)
	return err
}

func (c *Chain) provider(backend string) (Provider, error) {
	if backend == "" {
		backend = c.fallback
	}
	p, ok := c.providers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackend, backend)
	}
	return p, nil
}
