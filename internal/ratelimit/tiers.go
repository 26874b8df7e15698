package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Tier names fixed per deployment.
const (
	TierPublic        = "public"
	TierAuthenticated = "authenticated"
	TierAdmin         = "admin"
	TierWebhook       = "webhook"
)

// TierForRole maps a caller role onto a tier. Unauthenticated callers and
// unknown roles always land in the public tier.
func TierForRole(role string) string {
	switch role {
	case "admin":
		return TierAdmin
	case "employer", "freelancer":
		return TierAuthenticated
	default:
		return TierPublic
	}
}

// ClientKey identifies the bucket owner: the authenticated user when there
// is one, the caller address otherwise.
func ClientKey(userID string, r *http.Request) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + ClientIP(r)
}

// ClientIP resolves the caller address: direct connection IP, then the
// first X-Forwarded-For entry, then the raw socket address, then "unknown".
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
