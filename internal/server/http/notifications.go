package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

const maxBodyBytes = 16 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return false
	}
	return true
}

// handleSubscribe stores the caller's push subscription. Re-subscribing an
// endpoint updates its keys in place.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req SubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sub, res, err := s.opts.Store.Upsert(r.Context(), userID, req.Endpoint, req.Keys)
	if err != nil {
		var verr *domain.ValidationError
		if errors.Is(err, domain.ErrInvalidSubscription) || errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to store push subscription")
		writeError(w, http.StatusInternalServerError, "Failed to store subscription")
		return
	}

	detail := DetailAlreadyRegistered
	if res == ports.UpsertCreated {
		detail = DetailRegistered
	}
	log.Info().
		Int64("user_id", userID).
		Int64("subscription_id", sub.ID).
		Str("detail", detail).
		Msg("push subscription stored")
	writeJSON(w, http.StatusOK, DetailResponse{Detail: detail})
}

// handleUnsubscribe removes the caller's endpoint. It succeeds whether or
// not the endpoint was registered, and never touches another user's
// subscription.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req UnsubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusUnprocessableEntity, "endpoint is required")
		return
	}

	removed, err := s.opts.Store.RemoveOwned(r.Context(), userID, req.Endpoint)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to remove push subscription")
		writeError(w, http.StatusInternalServerError, "Failed to remove subscription")
		return
	}
	log.Info().Int64("user_id", userID).Bool("removed", removed).Msg("push subscription removed")
	writeJSON(w, http.StatusOK, DetailResponse{Detail: DetailUnregistered})
}

// handleListSubscriptions lists the caller's subscriptions, newest first.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	subs, err := s.opts.Store.ListForUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list push subscriptions")
		writeError(w, http.StatusInternalServerError, "Failed to list subscriptions")
		return
	}

	resp := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, SubscriptionResponse{
			ID:        sub.ID,
			UserID:    sub.UserID,
			Endpoint:  sub.Endpoint,
			CreatedAt: sub.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if s.opts.VAPIDPublicKey == "" {
		writeError(w, http.StatusNotFound, "Push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, VAPIDKeyResponse{PublicKey: s.opts.VAPIDPublicKey})
}
