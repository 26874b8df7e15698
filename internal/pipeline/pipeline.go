// Package pipeline composes the gateway's per-request stage chain.
// The stage order is fixed at construction time and visible through
// StageNames, not an emergent property of registration order.
package pipeline

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aitalentmarketplace/gateway/internal/apierror"
	"github.com/aitalentmarketplace/gateway/internal/auth"
	"github.com/aitalentmarketplace/gateway/internal/config"
	"github.com/aitalentmarketplace/gateway/internal/logger"
	"github.com/aitalentmarketplace/gateway/internal/proxy"
	"github.com/aitalentmarketplace/gateway/internal/ratelimit"
	"github.com/aitalentmarketplace/gateway/internal/registry"
)

// RequestContext carries per-request state between stages.
// Created at pipeline entry, discarded with the response.
type RequestContext struct {
	Route     *config.RouteConfig
	Identity  *auth.Identity
	RequestID string
}

// Stage is one step of the request pipeline. Handle either prepares the
// request for the next stage (true, nil), finishes the response itself
// (false, nil), or terminates the chain with a typed error.
type Stage interface {
	Name() string
	Handle(w http.ResponseWriter, r *http.Request, rc *RequestContext) (bool, error)
}

// Pipeline dispatches every inbound request through the fixed stage chain:
// CORS -> health gate -> authentication -> authorization -> rate limit -> proxy.
type Pipeline struct {
	routes          []config.RouteConfig
	stages          []Stage
	registry        *registry.Registry
	healthCheckPath string
	logger          *slog.Logger
}

func New(
	cfg *config.Config,
	gate *registry.Gate,
	authenticator *auth.TokenAuthenticator,
	authorizer *auth.RoleAuthorizer,
	limiter *ratelimit.Limiter,
	dispatcher *proxy.Dispatcher,
	reg *registry.Registry,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		routes:          cfg.Routes,
		registry:        reg,
		healthCheckPath: cfg.Monitoring.HealthCheckPath,
		logger:          logger,
		stages: []Stage{
			&corsStage{allowedOrigins: cfg.Server.AllowedOrigins},
			&healthGateStage{gate: gate},
			&authStage{authenticator: authenticator},
			&authorizeStage{authorizer: authorizer},
			&rateLimitStage{limiter: limiter},
			&proxyStage{dispatcher: dispatcher},
		},
	}
}

// StageNames returns the stage order, primarily for tests and startup logs.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, stage := range p.stages {
		names[i] = stage.Name()
	}
	return names
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == p.healthCheckPath {
		p.handleHealth(w, r)
		return
	}

	route := p.matchRoute(r.URL.Path)
	if route == nil {
		apierror.WriteJSON(w, apierror.NotFound("Route not found: "+r.URL.Path))
		return
	}

	rc := &RequestContext{
		Route:     route,
		RequestID: uuid.NewString(),
	}

	for _, stage := range p.stages {
		proceed, err := stage.Handle(w, r, rc)
		if err != nil {
			apiErr := apierror.From(err)
			logger.WithRequestID(p.logger, rc.RequestID).Error("Pipeline stage failed",
				"stage", stage.Name(),
				"path", r.URL.Path,
				"service", route.Service,
				"code", apiErr.Code,
				"error", apiErr.Error(),
			)
			apierror.WriteJSON(w, apiErr)
			return
		}
		if !proceed {
			return
		}
	}
}

// matchRoute picks the longest matching route prefix, so a webhook route
// under /payments/webhook wins over the broader /payments route.
func (p *Pipeline) matchRoute(path string) *config.RouteConfig {
	var best *config.RouteConfig
	bestLen := -1
	for i := range p.routes {
		route := &p.routes[i]
		if route.Prefix != path && !strings.HasPrefix(path, route.Prefix+"/") {
			continue
		}
		if len(route.Prefix) > bestLen {
			best = route
			bestLen = len(route.Prefix)
		}
	}
	return best
}
