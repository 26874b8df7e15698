package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultGateCacheSize = 256

// cacheEntry holds one short-lived health verdict for the request path.
type cacheEntry struct {
	healthy   bool
	checkedAt time.Time
}

// Gate is the request-path health check, distinct from the background
// prober. Verdicts are cached with a short TTL; concurrent writers may
// race and last write wins, which is acceptable for request admission.
type Gate struct {
	registry *Registry
	prober   *Prober
	cache    *lru.Cache[string, *cacheEntry]
	ttl      time.Duration
	devMode  bool
	logger   *slog.Logger
}

func NewGate(registry *Registry, prober *Prober, ttl time.Duration, devMode bool, logger *slog.Logger) (*Gate, error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	cache, err := lru.New[string, *cacheEntry](defaultGateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create health gate cache: %w", err)
	}

	return &Gate{
		registry: registry,
		prober:   prober,
		cache:    cache,
		ttl:      ttl,
		devMode:  devMode,
		logger:   logger,
	}, nil
}

// Allow reports whether requests may currently be admitted for service.
// In dev mode every service is treated as healthy and no probe is issued.
func (g *Gate) Allow(ctx context.Context, service string) bool {
	if g.devMode {
		return true
	}

	// An endpoint the registry already marks unhealthy is rejected without
	// network I/O; the prober owns its recovery.
	if _, ok := g.registry.Resolve(service); !ok {
		if _, registered := g.registry.BaseURL(service); registered {
			return false
		}
		g.logger.Error("Health gate consulted for unregistered service", "service", service)
		return false
	}

	if entry, ok := g.cache.Get(service); ok {
		if time.Since(entry.checkedAt) < g.ttl {
			return entry.healthy
		}
		g.cache.Remove(service)
	}

	healthy := g.prober.Probe(ctx, service)
	g.cache.Add(service, &cacheEntry{
		healthy:   healthy,
		checkedAt: time.Now(),
	})

	g.logger.Debug("Health gate probe",
		"service", service,
		"healthy", healthy,
	)
	return healthy
}
