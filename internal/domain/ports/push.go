package ports

import (
	"context"
	"time"

	"github.com/brianly1003/taskpulse/internal/domain/events"
)

// PushKeys are the Web Push crypto keys of a subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is a stored Web Push endpoint.
type PushSubscription struct {
	ID        int64
	UserID    int64
	Endpoint  string
	Keys      PushKeys
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertResult tells the caller what Upsert did.
type UpsertResult uint8

const (
	UpsertCreated UpsertResult = iota + 1
	UpsertUpdated
	UpsertUnchanged
)

// SubscriptionStore persists push subscriptions. Endpoint is unique across
// all users.
type SubscriptionStore interface {
	// Upsert stores the subscription keyed on endpoint. Re-subscribing with the
	// same endpoint updates it in place.
	Upsert(ctx context.Context, userID int64, endpoint string, keys PushKeys) (PushSubscription, UpsertResult, error)

	// Remove deletes the subscription for endpoint. It returns false when no
	// subscription existed.
	Remove(ctx context.Context, endpoint string) (PushSubscription, bool, error)

	// RemoveOwned deletes the subscription for endpoint only if userID owns
	// it. It returns false when nothing was deleted.
	RemoveOwned(ctx context.Context, userID int64, endpoint string) (bool, error)

	// RemoveStale deletes sub only while its endpoint still has the same
	// owner and keys. It returns false when the row changed or is gone.
	RemoveStale(ctx context.Context, sub PushSubscription) (bool, error)

	// ListForUser returns the user's subscriptions, newest first.
	ListForUser(ctx context.Context, userID int64) ([]PushSubscription, error)
}

// PushEnqueuer accepts a push job without blocking. It reports false when
// the job was dropped.
type PushEnqueuer interface {
	Enqueue(userID int64, kind events.Kind, msg events.PushMessage) bool
}
