package registry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	defaultProbeTimeout = 3 * time.Second
	healthPath          = "/health"
)

// Prober issues health probes against registered backends and feeds the
// results into the Registry. One instance serves both the periodic
// background loop and the request-path ad-hoc probes.
type Prober struct {
	registry *Registry
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

func NewProber(registry *Registry, timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Prober{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Start runs the background probing loop, probing every registered service
// once per interval. Blocks until the context is cancelled.
func (p *Prober) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("Health prober started",
		"interval", interval,
		"probe_timeout", p.timeout,
		"services", p.registry.Names(),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Health prober stopped")
			return

		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll probes every registered service concurrently. One slow or
// failing service never delays the others.
func (p *Prober) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range p.registry.Names() {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			p.Probe(ctx, service)
		}(name)
	}
	wg.Wait()
}

// Probe issues a single health probe for service and reports the outcome
// to the registry. Probe failures are recovered here; they never propagate
// to callers beyond the returned flag.
func (p *Prober) Probe(ctx context.Context, service string) bool {
	baseURL, ok := p.registry.BaseURL(service)
	if !ok {
		p.logger.Error("Probe requested for unregistered service", "service", service)
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, baseURL+healthPath, nil)
	if err != nil {
		p.logger.Error("Failed to build health probe request",
			"service", service,
			"error", err,
		)
		p.registry.ReportProbeResult(service, false)
		return false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Health-Check", "true")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Health probe failed",
			"service", service,
			"error", err,
		)
		p.registry.ReportProbeResult(service, false)
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		p.logger.Debug("Health probe returned non-2xx status",
			"service", service,
			"status", resp.StatusCode,
		)
	}
	p.registry.ReportProbeResult(service, success)
	return success
}
