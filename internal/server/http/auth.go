package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/taskpulse/internal/domain"
)

type contextKey int

const userIDKey contextKey = iota

// withUserID returns a context carrying the authenticated user.
func withUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user authenticated by the auth middleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok && id > 0
}

func extractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// authMiddleware requires a valid bearer access token. Inactive users get
// 403; everything else that fails gets 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if s.opts.Auth == nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		userID, err := s.opts.Auth.Authenticate(r.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("request not authenticated")
			switch {
			case errors.Is(err, domain.ErrInactiveUser):
				writeError(w, http.StatusForbidden, "Inactive user")
			case errors.Is(err, domain.ErrMissingToken):
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "Not authenticated")
			default:
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

// UserRateKey keys rate limiting on the authenticated user, falling back to
// fallback for anonymous requests.
func UserRateKey(fallback httprate.KeyFunc) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		if id, ok := UserIDFromContext(r.Context()); ok {
			return "user:" + strconv.FormatInt(id, 10), nil
		}
		return fallback(r)
	}
}
