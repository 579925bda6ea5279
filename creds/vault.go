package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address   string `json:"address" yaml:"address"`
	Token     string `json:"token" yaml:"token"`
	MountPath string `json:"mount_path" yaml:"mount_path"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// VaultConfigFromEnv builds a VaultConfig from the conventional
// VAULT_ADDR / VAULT_TOKEN / VAULT_NAMESPACE variables.
func VaultConfigFromEnv() VaultConfig {
	return VaultConfig{
		Address:   os.Getenv("VAULT_ADDR"),
		Token:     os.Getenv("VAULT_TOKEN"),
		Namespace: os.Getenv("VAULT_NAMESPACE"),
	}
}

// VaultProvider reads credential bundles from the Vault KV v2 HTTP API.
// A reference names a secret path; "path#field" narrows the bundle to a
// single field returned under the "value" key.
type VaultProvider struct {
	config     VaultConfig
	httpClient *http.Client
}

// NewVaultProvider creates a Vault-backed credential provider.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrBackend)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrBackend)
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	cfg.Address = strings.TrimRight(cfg.Address, "/")

	return &VaultProvider{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

// vaultReadResponse is the KV v2 read envelope.
type vaultReadResponse struct {
	Data struct {
		Data map[string]interface{} `json:"data"`
	} `json:"data"`
}

// Get retrieves a secret bundle from Vault.
func (p *VaultProvider) Get(ctx context.Context, name string) (*Bundle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty credential name", ErrNotFound)
	}

	path, field := parseVaultRef(name)
	url := fmt.Sprintf("%s/v1/%s/data/%s", p.config.Address, p.config.MountPath, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create vault request: %v", ErrBackend, err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)
	if p.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.config.Namespace)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: vault request failed: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read vault response: %v", ErrBackend, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: vault returned status %d for %q", ErrBackend, resp.StatusCode, path)
	}

	var parsed vaultReadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse vault response: %v", ErrBackend, err)
	}
	if parsed.Data.Data == nil {
		return nil, fmt.Errorf("%w: no data at vault path %q", ErrNotFound, path)
	}

	if field != "" {
		val, ok := parsed.Data.Data[field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q not present at vault path %q", ErrNotFound, field, path)
		}
		return &Bundle{Name: name, Values: map[string]string{"value": fmt.Sprintf("%v", val)}}, nil
	}

	values := make(map[string]string, len(parsed.Data.Data))
	for k, v := range parsed.Data.Data {
		values[k] = fmt.Sprintf("%v", v)
	}
	return &Bundle{Name: name, Values: values}, nil
}

// parseVaultRef splits "path#field" into (path, field).
func parseVaultRef(ref string) (path, field string) {
	if idx := strings.LastIndex(ref, "#"); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}
