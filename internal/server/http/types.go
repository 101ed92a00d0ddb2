package http

import (
	"time"

	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Time   string            `json:"time" example:"2024-01-15T10:30:00Z"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailResponse is the body of subscription responses and of errors.
type DetailResponse struct {
	Detail string `json:"detail" example:"registered"`
}

// SubscribeRequest is the PushSubscription JSON a service worker produces.
type SubscribeRequest struct {
	Endpoint string         `json:"endpoint" example:"https://fcm.googleapis.com/fcm/send/xxxx"`
	Keys     ports.PushKeys `json:"keys"`
}

// UnsubscribeRequest names the endpoint to forget.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" example:"https://fcm.googleapis.com/fcm/send/xxxx"`
}

// SubscriptionResponse describes a stored subscription. Key material is
// never returned.
type SubscriptionResponse struct {
	ID        int64     `json:"id" example:"12"`
	UserID    int64     `json:"user_id" example:"7"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

// VAPIDKeyResponse carries the application server key for
// PushManager.subscribe.
type VAPIDKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// Detail values returned by the subscription endpoints.
const (
	DetailRegistered        = "registered"
	DetailAlreadyRegistered = "already registered"
	DetailUnregistered      = "unregistered"
)
