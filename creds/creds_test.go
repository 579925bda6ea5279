package creds

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// --- EnvProvider ---

func TestEnvProvider_Get_PrefixedName(t *testing.T) {
	t.Setenv("CREDENTIAL_API_TOKEN", "tok-123")

	p := NewEnvProvider("")
	b, err := p.Get(context.Background(), "api_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, _ := b.Value("value"); v != "tok-123" {
		t.Errorf("expected 'tok-123', got %q", v)
	}
}

func TestEnvProvider_Get_JSONBundle(t *testing.T) {
	t.Setenv("CREDENTIAL_CLUSTER", `{"token":"sha256~abc","server":"https://api.example:6443"}`)

	p := NewEnvProvider("")
	b, err := p.Get(context.Background(), "cluster")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, _ := b.Value("token"); v != "sha256~abc" {
		t.Errorf("token = %q", v)
	}
	if v, _ := b.Value("server"); v != "https://api.example:6443" {
		t.Errorf("server = %q", v)
	}
}

func TestEnvProvider_Get_BareUpperFallback(t *testing.T) {
	t.Setenv("DB_PASSWORD", "hunter2")

	p := NewEnvProvider("")
	b, err := p.Get(context.Background(), "db_password")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, _ := b.Value("value"); v != "hunter2" {
		t.Errorf("value = %q", v)
	}
}

func TestEnvProvider_Get_NotFound(t *testing.T) {
	p := NewEnvProvider("")
	p.SetLookup(func(string) (string, bool) { return "", false })

	_, err := p.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnvProvider_CustomPrefix(t *testing.T) {
	t.Setenv("APP_SECRET_GRAFANA", "g-pass")

	p := NewEnvProvider("APP_SECRET_")
	b, err := p.Get(context.Background(), "grafana")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, _ := b.Value("value"); v != "g-pass" {
		t.Errorf("value = %q", v)
	}
}

// --- Bundle ---

func TestBundle_StringRedactsValues(t *testing.T) {
	b := &Bundle{Name: "prod-db", Values: map[string]string{"password": "s3cr3t"}}

	s := b.String()
	if strings.Contains(s, "s3cr3t") {
		t.Fatalf("String leaked secret value: %q", s)
	}
	if !strings.Contains(s, "prod-db") {
		t.Errorf("String should include bundle name: %q", s)
	}
}

func TestBundle_Wipe(t *testing.T) {
	b := &Bundle{Name: "x", Values: map[string]string{"token": "abc"}}
	b.Wipe()
	if len(b.Values) != 0 {
		t.Errorf("expected empty values after Wipe, got %v", b.Values)
	}
}

func TestBundle_Keys_Sorted(t *testing.T) {
	b := &Bundle{Name: "x", Values: map[string]string{"b": "2", "a": "1", "c": "3"}}
	keys := b.Keys()
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

// --- Chain ---

func TestChain_DefaultBackend(t *testing.T) {
	t.Setenv("CREDENTIAL_TOKEN_A", "aaa")

	c := NewChain(NewEnvProvider(""))
	b, err := c.Get(context.Background(), "", "token_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, _ := b.Value("value"); v != "aaa" {
		t.Errorf("value = %q", v)
	}
}

func TestChain_UnknownBackend(t *testing.T) {
	c := NewChain(NewEnvProvider(""))
	_, err := c.Get(context.Background(), "vault", "whatever")
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
}

func TestChain_Check(t *testing.T) {
	c := NewChain(NewEnvProvider(""))

	if err := c.Check("env", "some_ref"); err != nil {
		t.Errorf("Check known backend: %v", err)
	}
	if err := c.Check("", "some_ref"); err != nil {
		t.Errorf("Check default backend: %v", err)
	}
	if err := c.Check("vault", "ref"); !errors.Is(err, ErrBackend) {
		t.Errorf("expected ErrBackend for unconfigured backend, got %v", err)
	}
	if err := c.Check("env", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty name, got %v", err)
	}
}
