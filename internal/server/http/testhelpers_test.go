package http

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/push"
)

// fakeAuth maps tokens to users. Unknown tokens are invalid.
type fakeAuth map[string]int64

const inactiveToken = "inactive"

func (f fakeAuth) Authenticate(_ context.Context, token string) (int64, error) {
	switch {
	case token == "":
		return 0, domain.ErrMissingToken
	case token == inactiveToken:
		return 0, domain.ErrInactiveUser
	}
	if id, ok := f[token]; ok {
		return id, nil
	}
	return 0, domain.ErrInvalidToken
}

func newTestStore(t *testing.T) *push.SQLiteStore {
	t.Helper()
	store, err := push.OpenSQLiteStore(filepath.Join(t.TempDir(), "push.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Auth == nil {
		opts.Auth = fakeAuth{"alice": 1, "bob": 2}
	}
	if opts.Store == nil {
		opts.Store = newTestStore(t)
	}
	return New(opts)
}
