package push

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var (
	keysA = ports.PushKeys{P256dh: "p256dh-a", Auth: "auth-a"}
	keysB = ports.PushKeys{P256dh: "p256dh-b", Auth: "auth-b"}
)

func TestSQLiteStore_UpsertIsIdempotentOnEndpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const endpoint = "https://push.example/abc"

	first, res, err := s.Upsert(ctx, 7, endpoint, keysA)
	require.NoError(t, err)
	assert.Equal(t, ports.UpsertCreated, res)

	_, res, err = s.Upsert(ctx, 7, endpoint, keysA)
	require.NoError(t, err)
	assert.Equal(t, ports.UpsertUnchanged, res)

	second, res, err := s.Upsert(ctx, 7, endpoint, keysB)
	require.NoError(t, err)
	assert.Equal(t, ports.UpsertUpdated, res)
	assert.Equal(t, first.ID, second.ID)

	subs, err := s.ListForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, keysB, subs[0].Keys)
	assert.Equal(t, endpoint, subs[0].Endpoint)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_UpsertMovesEndpointBetweenUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const endpoint = "https://push.example/shared-device"

	_, _, err := s.Upsert(ctx, 1, endpoint, keysA)
	require.NoError(t, err)
	_, res, err := s.Upsert(ctx, 2, endpoint, keysA)
	require.NoError(t, err)
	assert.Equal(t, ports.UpsertUpdated, res)

	subs, err := s.ListForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, subs)

	subs, err = s.ListForUser(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSQLiteStore_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   int64
		endpoint string
		keys     ports.PushKeys
	}{
		{"zero user", 0, "https://push.example/a", keysA},
		{"empty endpoint", 1, "", keysA},
		{"relative endpoint", 1, "/push/a", keysA},
		{"bad scheme", 1, "ftp://push.example/a", keysA},
		{"missing p256dh", 1, "https://push.example/a", ports.PushKeys{Auth: "x"}},
		{"missing auth", 1, "https://push.example/a", ports.PushKeys{P256dh: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Upsert(ctx, tt.userID, tt.endpoint, tt.keys)
			require.Error(t, err)
		})
	}

	_, _, err := s.Upsert(ctx, 1, "", keysA)
	assert.ErrorIs(t, err, domain.ErrInvalidSubscription)
}

func TestSQLiteStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, err := s.Upsert(ctx, 7, "https://push.example/abc", keysA)
	require.NoError(t, err)

	removed, ok, err := s.Remove(ctx, "https://push.example/abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, created.ID, removed.ID)
	assert.Equal(t, int64(7), removed.UserID)

	_, ok, err = s.Remove(ctx, "https://push.example/abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_RemoveOwned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, 7, "https://push.example/abc", keysA)
	require.NoError(t, err)

	ok, err := s.RemoveOwned(ctx, 8, "https://push.example/abc")
	require.NoError(t, err)
	assert.False(t, ok, "another user's endpoint must not be removed")

	ok, err = s.RemoveOwned(ctx, 7, "https://push.example/abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RemoveOwned(ctx, 7, "https://push.example/abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_RemoveStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, _, err := s.Upsert(ctx, 7, "https://push.example/abc", keysA)
	require.NoError(t, err)
	_, res, err := s.Upsert(ctx, 7, "https://push.example/abc", keysB)
	require.NoError(t, err)
	require.Equal(t, ports.UpsertUpdated, res)

	ok, err := s.RemoveStale(ctx, old)
	require.NoError(t, err)
	assert.False(t, ok, "re-subscribed row must survive")

	subs, err := s.ListForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, keysB, subs[0].Keys)

	ok, err = s.RemoveStale(ctx, subs[0])
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, ep := range []string{"https://push.example/1", "https://push.example/2", "https://push.example/3"} {
		_, _, err := s.Upsert(ctx, 7, ep, keysA)
		require.NoError(t, err)
	}
	_, _, err := s.Upsert(ctx, 8, "https://push.example/other", keysA)
	require.NoError(t, err)

	subs, err := s.ListForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "https://push.example/3", subs[0].Endpoint)
	assert.Equal(t, "https://push.example/1", subs[2].Endpoint)
	assert.Equal(t, base.Add(1*time.Second), subs[2].CreatedAt)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "push.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, 7, "https://push.example/abc", keysA)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	subs, err := s.ListForUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
