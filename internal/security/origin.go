package security

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker validates the Origin header of WebSocket handshakes.
type OriginChecker struct {
	allowed []string
}

// NewOriginChecker creates a checker. An empty list allows every origin.
func NewOriginChecker(allowedOrigins []string) *OriginChecker {
	return &OriginChecker{allowed: allowedOrigins}
}

// CheckOrigin reports whether the request's origin is allowed. Requests
// without an Origin header are not from a browser and pass.
func (oc *OriginChecker) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(oc.allowed) == 0 {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	for _, allowed := range oc.allowed {
		if matchOrigin(parsed, origin, allowed) {
			return true
		}
	}
	return false
}

// matchOrigin supports exact matches and wildcard subdomains (*.example.com).
func matchOrigin(parsed *url.URL, origin, allowed string) bool {
	if allowed == "*" || strings.EqualFold(origin, allowed) {
		return true
	}
	if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
		host := strings.ToLower(parsed.Hostname())
		return strings.HasSuffix(host, "."+strings.ToLower(suffix))
	}
	return false
}
