// Package push stores Web Push subscriptions and delivers notifications to
// them.
package push

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

const (
	schemaVersion     = 1
	maxEndpointLength = 2048
)

// SQLiteStore persists push subscriptions in SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps Upsert's
	// read-then-write transaction free of UNIQUE races.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to set pragma")
		}
	}

	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	var current int
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&current)
	if err != nil {
		current = 0
	}
	if current >= schemaVersion {
		return nil
	}

	log.Info().Int("current", current).Int("target", schemaVersion).Msg("updating push store schema")

	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS push_subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user
			ON push_subscriptions(user_id, created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		schemaVersion,
	)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Validate checks a subscription before it is stored.
func Validate(endpoint string, keys ports.PushKeys) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", domain.ErrInvalidSubscription)
	}
	if len(endpoint) > maxEndpointLength {
		return fmt.Errorf("%w: endpoint too long", domain.ErrInvalidSubscription)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) URL", domain.ErrInvalidSubscription)
	}
	if keys.P256dh == "" || keys.Auth == "" {
		return fmt.Errorf("%w: keys.p256dh and keys.auth are required", domain.ErrInvalidSubscription)
	}
	return nil
}

// Upsert stores the subscription keyed on endpoint.
func (s *SQLiteStore) Upsert(ctx context.Context, userID int64, endpoint string, keys ports.PushKeys) (ports.PushSubscription, ports.UpsertResult, error) {
	if userID <= 0 {
		return ports.PushSubscription{}, 0, domain.NewValidationError("user_id", "must be positive")
	}
	if err := Validate(endpoint, keys); err != nil {
		return ports.PushSubscription{}, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ports.PushSubscription{}, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC()
	existing, err := scanOne(tx.QueryRowContext(ctx, selectColumns+" WHERE endpoint = ?", endpoint))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			userID, endpoint, keys.P256dh, keys.Auth, now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return ports.PushSubscription{}, 0, fmt.Errorf("insert subscription: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return ports.PushSubscription{}, 0, fmt.Errorf("insert subscription: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return ports.PushSubscription{}, 0, fmt.Errorf("commit: %w", err)
		}
		return ports.PushSubscription{
			ID:        id,
			UserID:    userID,
			Endpoint:  endpoint,
			Keys:      keys,
			CreatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
			UpdatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
		}, ports.UpsertCreated, nil

	case err != nil:
		return ports.PushSubscription{}, 0, fmt.Errorf("lookup subscription: %w", err)
	}

	if existing.UserID == userID && existing.Keys == keys {
		return existing, ports.UpsertUnchanged, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE push_subscriptions SET user_id = ?, p256dh = ?, auth = ?, updated_at = ? WHERE id = ?`,
		userID, keys.P256dh, keys.Auth, now.UnixMilli(), existing.ID); err != nil {
		return ports.PushSubscription{}, 0, fmt.Errorf("update subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ports.PushSubscription{}, 0, fmt.Errorf("commit: %w", err)
	}

	if existing.UserID != userID {
		log.Info().
			Int64("from_user_id", existing.UserID).
			Int64("user_id", userID).
			Str("endpoint_host", endpointHost(endpoint)).
			Msg("push endpoint reassigned")
	}

	existing.UserID = userID
	existing.Keys = keys
	existing.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return existing, ports.UpsertUpdated, nil
}

// Remove deletes the subscription for endpoint.
func (s *SQLiteStore) Remove(ctx context.Context, endpoint string) (ports.PushSubscription, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ports.PushSubscription{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanOne(tx.QueryRowContext(ctx, selectColumns+" WHERE endpoint = ?", endpoint))
	if errors.Is(err, sql.ErrNoRows) {
		return ports.PushSubscription{}, false, nil
	}
	if err != nil {
		return ports.PushSubscription{}, false, fmt.Errorf("lookup subscription: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE id = ?", existing.ID); err != nil {
		return ports.PushSubscription{}, false, fmt.Errorf("delete subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ports.PushSubscription{}, false, fmt.Errorf("commit: %w", err)
	}
	return existing, true, nil
}

// RemoveOwned deletes the subscription for endpoint if userID owns it.
func (s *SQLiteStore) RemoveOwned(ctx context.Context, userID int64, endpoint string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE endpoint = ? AND user_id = ?", endpoint, userID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return n > 0, nil
}

// ListForUser returns the user's subscriptions, newest first.
func (s *SQLiteStore) ListForUser(ctx context.Context, userID int64) ([]ports.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []ports.PushSubscription
	for rows.Next() {
		sub, err := scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// RemoveStale deletes sub if the stored row still matches its owner and keys.
// A client that re-subscribed in the meantime keeps its new row.
func (s *SQLiteStore) RemoveStale(ctx context.Context, sub ports.PushSubscription) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE endpoint = ? AND user_id = ? AND p256dh = ? AND auth = ?",
		sub.Endpoint, sub.UserID, sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	return n > 0, nil
}

// Count returns the total number of stored subscriptions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM push_subscriptions").Scan(&n)
	return n, err
}

const selectColumns = "SELECT id, user_id, endpoint, p256dh, auth, created_at, updated_at FROM push_subscriptions"

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (ports.PushSubscription, error) {
	var (
		sub              ports.PushSubscription
		created, updated int64
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &created, &updated); err != nil {
		return ports.PushSubscription{}, err
	}
	sub.CreatedAt = time.UnixMilli(created).UTC()
	sub.UpdatedAt = time.UnixMilli(updated).UTC()
	return sub, nil
}

// endpointHost returns the push service host for logging; full endpoints
// are capability URLs and are never logged.
func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}

var _ ports.SubscriptionStore = (*SQLiteStore)(nil)
