package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/brianly1003/taskpulse/internal/domain/ports"
	"github.com/brianly1003/taskpulse/internal/secrets"
)

// Sender defaults.
const (
	DefaultSubscriber     = "admin@example.com"
	DefaultTTL            = 60
	DefaultUrgency        = "normal"
	DefaultRequestTimeout = 10 * time.Second
)

// Status is the outcome of a delivery to one subscription.
type Status string

const (
	StatusSent      Status = "sent"
	StatusExpired   Status = "expired"
	StatusTransient Status = "transient_failure"
	StatusPermanent Status = "permanent_failure"
)

// Classify maps a push service response to a Status. A transport error is
// transient; an error raised before any request was made (bad keys, payload
// too large) is permanent.
func Classify(code int, err error) Status {
	if err != nil {
		var urlErr *url.Error
		var netErr net.Error
		switch {
		case errors.As(err, &urlErr), errors.As(err, &netErr),
			errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF):
			return StatusTransient
		default:
			return StatusPermanent
		}
	}
	switch {
	case code >= 200 && code < 300:
		return StatusSent
	case code == http.StatusNotFound || code == http.StatusGone:
		return StatusExpired
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return StatusTransient
	default:
		return StatusPermanent
	}
}

// Sender posts one message to one subscription and returns the push
// service's HTTP status.
type Sender interface {
	Send(ctx context.Context, sub ports.PushSubscription, payload []byte) (int, error)
}

// VAPIDKeys is the server's application-server key pair. The private key is
// only ever revealed to the signer.
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey secrets.Secret
}

// SenderOptions configures WebPushSender.
type SenderOptions struct {
	// Subscriber is the VAPID "sub" contact: an e-mail address or an
	// https: URL.
	Subscriber string
	TTL        int
	Urgency    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// WebPushSender encrypts payloads per RFC 8291 and signs requests with VAPID.
type WebPushSender struct {
	keys    VAPIDKeys
	opts    SenderOptions
	urgency webpush.Urgency
}

// NewWebPushSender creates a sender. Both halves of the key pair are required.
func NewWebPushSender(keys VAPIDKeys, opts SenderOptions) (*WebPushSender, error) {
	if keys.PublicKey == "" || keys.PrivateKey.IsZero() {
		return nil, errors.New("vapid key pair is required")
	}
	// webpush-go adds the mailto: scheme itself.
	opts.Subscriber = strings.TrimPrefix(opts.Subscriber, "mailto:")
	if opts.Subscriber == "" {
		opts.Subscriber = DefaultSubscriber
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	urgency, err := parseUrgency(opts.Urgency)
	if err != nil {
		return nil, err
	}
	return &WebPushSender{keys: keys, opts: opts, urgency: urgency}, nil
}

func parseUrgency(s string) (webpush.Urgency, error) {
	switch s {
	case "", DefaultUrgency:
		return webpush.UrgencyNormal, nil
	case string(webpush.UrgencyVeryLow):
		return webpush.UrgencyVeryLow, nil
	case string(webpush.UrgencyLow):
		return webpush.UrgencyLow, nil
	case string(webpush.UrgencyHigh):
		return webpush.UrgencyHigh, nil
	default:
		return "", fmt.Errorf("unknown push urgency %q", s)
	}
}

// Send delivers payload to sub.
func (s *WebPushSender) Send(ctx context.Context, sub ports.PushSubscription, payload []byte) (int, error) {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, target, &webpush.Options{
		HTTPClient:      s.opts.HTTPClient,
		Subscriber:      s.opts.Subscriber,
		TTL:             s.opts.TTL,
		Urgency:         s.urgency,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey.Reveal(),
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, nil
}

var _ Sender = (*WebPushSender)(nil)
