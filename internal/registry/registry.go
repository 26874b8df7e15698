package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aitalentmarketplace/gateway/internal/monitoring"
)

// Endpoint is the registry's view of one backend service.
// Mutated only through ReportProbeResult; read by every request.
type Endpoint struct {
	Name                string
	BaseURL             string
	Healthy             bool
	LastChecked         time.Time
	ConsecutiveFailures int
}

// Registry tracks backend service endpoints and their health state.
// Safe for concurrent use by request handlers and the background prober.
type Registry struct {
	mu               sync.RWMutex
	endpoints        map[string]*Endpoint
	failureThreshold int
	logger           *slog.Logger
	metrics          *monitoring.Metrics
}

func New(logger *slog.Logger, metrics *monitoring.Metrics, failureThreshold int) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Registry{
		endpoints:        make(map[string]*Endpoint),
		failureThreshold: failureThreshold,
		logger:           logger,
		metrics:          metrics,
	}
}

// Register adds or replaces an endpoint. Idempotent; new endpoints start healthy.
func (r *Registry) Register(name, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endpoints[name] = &Endpoint{
		Name:    name,
		BaseURL: baseURL,
		Healthy: true,
	}
	r.metrics.UpdateUpstreamHealth(name, true)
}

// Resolve returns the base URL for name only if the endpoint is currently
// marked healthy. No implicit retry on failure.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[name]
	if !ok || !ep.Healthy {
		return "", false
	}
	return ep.BaseURL, true
}

// BaseURL returns the configured base URL regardless of health state.
// Used by the prober, which must reach endpoints that are currently down.
func (r *Registry) BaseURL(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[name]
	if !ok {
		return "", false
	}
	return ep.BaseURL, true
}

// ReportProbeResult records the outcome of one health probe. The healthy
// flag always reflects the most recent probe; consecutive failures drive
// alerting severity only, never the health decision.
func (r *Registry) ReportProbeResult(name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.endpoints[name]
	if !ok {
		return
	}

	wasHealthy := ep.Healthy
	ep.Healthy = success
	ep.LastChecked = time.Now().UTC()

	if success {
		if !wasHealthy {
			r.logger.Warn("Service recovered (state: unhealthy -> healthy)",
				"service", name,
				"failures_before_recovery", ep.ConsecutiveFailures,
			)
		}
		ep.ConsecutiveFailures = 0
	} else {
		ep.ConsecutiveFailures++
		r.metrics.RecordProbeFailure(name)

		if ep.ConsecutiveFailures == r.failureThreshold {
			r.logger.Error("Service failing repeatedly, escalating",
				"service", name,
				"consecutive_failures", ep.ConsecutiveFailures,
				"threshold", r.failureThreshold,
				"impact", "requests to this service receive 503 until a probe succeeds",
			)
		} else if wasHealthy {
			r.logger.Warn("Service health check failed (state: healthy -> unhealthy)",
				"service", name,
				"consecutive_failures", ep.ConsecutiveFailures,
			)
		}
	}

	r.metrics.UpdateUpstreamHealth(name, success)
}

// Names returns all registered service names, sorted for deterministic
// iteration by the prober and the health endpoint.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every endpoint's current state.
func (r *Registry) Snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		snapshot = append(snapshot, *ep)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Name < snapshot[j].Name })
	return snapshot
}
