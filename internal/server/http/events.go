package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain"
	"github.com/brianly1003/taskpulse/internal/domain/events"
)

// EventSink is the dispatcher as seen by the ingest endpoint.
type EventSink interface {
	Publish(ctx context.Context, e events.DomainEvent) error
}

// serviceTokenMiddleware admits callers presenting the shared service token.
func (s *Server) serviceTokenMiddleware(next http.Handler) http.Handler {
	want := []byte(s.opts.IngestToken.Reveal())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(extractBearerToken(r.Header.Get("Authorization")))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Invalid service token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleIngestEvent accepts one event envelope from a collaborator after its
// mutation has committed. The response does not reflect delivery outcome.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var env events.Envelope
	if !decodeBody(w, r, &env) {
		return
	}

	e, err := env.Event()
	if err == nil {
		err = s.opts.Events.Publish(r.Context(), e)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidEvent) || errors.Is(err, domain.ErrUnknownKind) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Error().Err(err).Str("kind", env.Kind).Msg("failed to ingest event")
		writeError(w, http.StatusInternalServerError, "Failed to publish event")
		return
	}

	writeJSON(w, http.StatusAccepted, DetailResponse{Detail: "accepted"})
}
