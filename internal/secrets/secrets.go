// Package secrets implements the Secrets/Config collaborator's Vault
// side (C9): a Resolver that reads named secrets (the JWT signing
// key, the database DSN) from HashiCorp Vault's KV v2 engine when
// enabled, and otherwise falls back to the corresponding environment
// variable — the same enabled/disabled split the teacher's
// internal/vault.Client applies, narrowed from API-key storage to
// plain named-secret lookup.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Config configures the Vault connection.
type Config struct {
	Enabled   bool
	Address   string
	Token     string
	MountPath string // e.g. "secret"
	BasePath  string // e.g. "cnop/transactional-core"
}

// Resolver fetches named secrets, caching each successful Vault read
// for the life of the process.
type Resolver struct {
	client *api.Client
	cfg    Config

	mu    sync.RWMutex
	cache map[string]string
}

// New builds a Resolver. When cfg.Enabled is false, Get always falls
// back to the environment.
func New(cfg Config) (*Resolver, error) {
	r := &Resolver{cfg: cfg, cache: make(map[string]string)}
	if !cfg.Enabled {
		return r, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	r.client = client
	return r, nil
}

// Get resolves name: from the Resolver's cache, then Vault (if
// enabled), then the environment variable of the same name. Returns
// an error only if none of those produced a non-empty value.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	if v, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return v, nil
	}
	r.mu.RUnlock()

	if r.cfg.Enabled {
		v, err := r.readVault(ctx, name)
		if err == nil && v != "" {
			r.mu.Lock()
			r.cache[name] = v
			r.mu.Unlock()
			return v, nil
		}
	}

	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not found in vault or environment", name)
}

func (r *Resolver) readVault(ctx context.Context, name string) (string, error) {
	path := fmt.Sprintf("%s/data/%s", r.cfg.MountPath, r.cfg.BasePath)
	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("unexpected secret format at %s", path)
	}
	v, _ := data[name].(string)
	return v, nil
}

// Health reports whether Vault is reachable and unsealed; a no-op
// success when Vault is disabled.
func (r *Resolver) Health(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}
	health, err := r.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
