package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// KVReader reads a KV v2 secret. *vault.KVv2 satisfies it.
type KVReader interface {
	Get(ctx context.Context, secretPath string) (*vault.KVSecret, error)
}

// VaultConfig locates the KV v2 secret holding taskpulse's keys.
type VaultConfig struct {
	Address string
	Token   string
	Mount   string
	Path    string
}

// VaultSource reads keys from one KV v2 secret. The secret is fetched once
// and cached; a failed fetch is retried on the next lookup.
type VaultSource struct {
	kv   KVReader
	path string

	mu     sync.Mutex
	data   map[string]interface{}
	loaded bool
}

// NewVaultSource connects to Vault with token auth.
func NewVaultSource(cfg VaultConfig) (*VaultSource, error) {
	vcfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return NewVaultSourceFromKV(client.KVv2(mount), cfg.Path), nil
}

// NewVaultSourceFromKV creates a source over an existing KV reader.
func NewVaultSourceFromKV(kv KVReader, path string) *VaultSource {
	return &VaultSource{kv: kv, path: path}
}

func (s *VaultSource) Name() string { return "vault" }

func (s *VaultSource) Lookup(ctx context.Context, name string) (string, bool, error) {
	data, err := s.load(ctx)
	if err != nil {
		return "", false, err
	}
	for _, k := range []string{name, strings.ToLower(name)} {
		if v, ok := data[k]; ok {
			str, ok := v.(string)
			if !ok || str == "" {
				return "", false, fmt.Errorf("vault key %s is not a string", k)
			}
			return str, true, nil
		}
	}
	return "", false, nil
}

func (s *VaultSource) load(ctx context.Context) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.data, nil
	}
	secret, err := s.kv.Get(ctx, s.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			s.data, s.loaded = nil, true
			return nil, nil
		}
		return nil, fmt.Errorf("read vault secret %s: %w", s.path, err)
	}
	if secret != nil {
		s.data = secret.Data
	}
	s.loaded = true
	return s.data, nil
}
