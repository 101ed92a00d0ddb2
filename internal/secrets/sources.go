package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain"
)

// DefaultDockerDir is where Docker and Kubernetes mount secret files.
const DefaultDockerDir = "/run/secrets"

// Source looks up a secret by name. A missing secret is ("", false, nil);
// an error means the source itself failed.
type Source interface {
	Name() string
	Lookup(ctx context.Context, name string) (string, bool, error)
}

// EnvSource reads environment variables.
type EnvSource struct {
	lookup func(string) (string, bool)
}

// NewEnvSource creates a source over os.LookupEnv.
func NewEnvSource() *EnvSource {
	return &EnvSource{lookup: os.LookupEnv}
}

// NewMapSource creates an environment-like source over a fixed map.
func NewMapSource(values map[string]string) *EnvSource {
	return &EnvSource{lookup: func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}}
}

func (s *EnvSource) Name() string { return "env" }

func (s *EnvSource) Lookup(_ context.Context, name string) (string, bool, error) {
	v, ok := s.lookup(name)
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// FileSource reads one file per secret, named after the lowercased secret
// name, e.g. /run/secrets/vapid_private_key.
type FileSource struct {
	dir string
}

// NewFileSource creates a file source rooted at dir.
func NewFileSource(dir string) *FileSource {
	if dir == "" {
		dir = DefaultDockerDir
	}
	return &FileSource{dir: dir}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Lookup(_ context.Context, name string) (string, bool, error) {
	path := filepath.Join(s.dir, strings.ToLower(name))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read secret file %s: %w", path, err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// Chain tries sources in order and returns the first hit.
type Chain []Source

// Resolve returns the named secret. A failing source is logged and skipped
// so a later source can still answer; domain.ErrSecretNotFound is returned
// when nobody has it.
func (c Chain) Resolve(ctx context.Context, name string) (Secret, error) {
	var errs []error
	for _, src := range c {
		v, ok, err := src.Lookup(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("secret", name).Str("source", src.Name()).Msg("secret source failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if ok {
			log.Debug().Str("secret", name).Str("source", src.Name()).Msg("secret resolved")
			return New(v), nil
		}
	}
	if len(errs) > 0 {
		return Secret{}, fmt.Errorf("%w: %s (%w)", domain.ErrSecretNotFound, name, errors.Join(errs...))
	}
	return Secret{}, fmt.Errorf("%w: %s", domain.ErrSecretNotFound, name)
}
