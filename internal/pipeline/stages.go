package pipeline

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/aitalentmarketplace/gateway/internal/apierror"
	"github.com/aitalentmarketplace/gateway/internal/auth"
	"github.com/aitalentmarketplace/gateway/internal/proxy"
	"github.com/aitalentmarketplace/gateway/internal/ratelimit"
	"github.com/aitalentmarketplace/gateway/internal/registry"
)

// corsStage sets cross-origin headers and answers preflight requests.
type corsStage struct {
	allowedOrigins []string
}

func (s *corsStage) Name() string { return "cors" }

func (s *corsStage) Handle(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, error) {
	origin := r.Header.Get("Origin")
	if origin != "" && s.originAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
		w.WriteHeader(http.StatusNoContent)
		return false, nil
	}

	return true, nil
}

func (s *corsStage) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// healthGateStage rejects requests to backends that are not currently
// admitting traffic, before any authentication work is spent on them.
type healthGateStage struct {
	gate *registry.Gate
}

func (s *healthGateStage) Name() string { return "health-gate" }

func (s *healthGateStage) Handle(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, error) {
	if !s.gate.Allow(r.Context(), rc.Route.Service) {
		return false, apierror.ServiceUnavailable(rc.Route.Service, fmt.Sprintf(
			"Service %s is currently unavailable. Please try again later.", rc.Route.Service,
		))
	}
	return true, nil
}

// authStage verifies the bearer token on routes that require it. The
// identity's correlation id becomes the request's id from here on.
type authStage struct {
	authenticator *auth.TokenAuthenticator
}

func (s *authStage) Name() string { return "authenticate" }

func (s *authStage) Handle(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, error) {
	if !rc.Route.AuthRequired {
		return true, nil
	}

	identity, err := s.authenticator.Authenticate(r.Header.Get("Authorization"))
	if err != nil {
		return false, err
	}

	rc.Identity = identity
	rc.RequestID = identity.RequestID
	return true, nil
}

// authorizeStage enforces the route's allowed-role set.
type authorizeStage struct {
	authorizer *auth.RoleAuthorizer
}

func (s *authorizeStage) Name() string { return "authorize" }

func (s *authorizeStage) Handle(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, error) {
	if len(rc.Route.AllowedRoles) == 0 {
		return true, nil
	}
	if err := s.authorizer.Authorize(rc.Identity, rc.Route.AllowedRoles); err != nil {
		return false, err
	}
	return true, nil
}

// rateLimitStage makes the single admission decision for the request.
// Tier resolution runs after authentication, so role-based tiers apply
// only to authenticated callers; everyone else counts against the public
// tier. Webhook routes from trusted sources bypass tiering entirely.
type rateLimitStage struct {
	limiter *ratelimit.Limiter
}

func (s *rateLimitStage) Name() string { return "rate-limit" }

func (s *rateLimitStage) Handle(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, error) {
	var tier string
	switch {
	case rc.Route.Webhook:
		if s.limiter.Trusted(ratelimit.ClientIP(r)) {
			return true, nil
		}
		tier = ratelimit.TierWebhook
	case rc.Identity != nil:
		tier = ratelimit.TierForRole(rc.Identity.Role)
	default:
		tier = ratelimit.TierPublic
	}

	var userID string
	if rc.Identity != nil {
		userID = rc.Identity.ID
	}
	clientKey := ratelimit.ClientKey(userID, r)

	result, err := s.limiter.Admit(r.Context(), tier, clientKey)
	if err != nil {
		return false, apierror.Internal(err)
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
		w.Header().Set("X-RateLimit-Remaining", "0")
		return false, apierror.RateLimit("Too many requests, please try again later", result.RetryAfter)
	}

	return true, nil
}

// proxyStage is terminal: it forwards the request and writes the backend
// response, or surfaces the dispatcher's typed error.
type proxyStage struct {
	dispatcher *proxy.Dispatcher
}

func (s *proxyStage) Name() string { return "proxy" }

func (s *proxyStage) Handle(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, error) {
	target := proxy.Target{
		Service:   rc.Route.Service,
		Prefix:    rc.Route.Prefix,
		RequestID: rc.RequestID,
	}
	if rc.Identity != nil {
		target.UserID = rc.Identity.ID
		target.UserRole = rc.Identity.Role
	}

	if err := s.dispatcher.Forward(w, r, target); err != nil {
		return false, err
	}
	return false, nil
}
