package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/aitalentmarketplace/gateway/internal/apierror"
	"github.com/aitalentmarketplace/gateway/internal/monitoring"
	"github.com/aitalentmarketplace/gateway/internal/registry"
)

// hopByHopHeaders are headers that should not be proxied
// See RFC 7230 Section 6.1
// Keyed by canonical form, matching how net/http stores header keys.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Target describes one forward: where the request goes and which caller
// headers to inject. Computed per request and discarded with it.
type Target struct {
	Service   string
	Prefix    string
	RequestID string
	UserID    string
	UserRole  string
}

// Dispatcher forwards requests to healthy backends with path rewriting
// and failure classification. It never retries a failed forward.
type Dispatcher struct {
	registry *registry.Registry
	client   *http.Client
	timeout  time.Duration
	metrics  *monitoring.Metrics
	logger   *slog.Logger
}

func NewDispatcher(reg *registry.Registry, timeout time.Duration, metrics *monitoring.Metrics, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry: reg,
		timeout:  timeout,
		metrics:  metrics,
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

// Forward proxies the request to the target service and streams the
// backend response to w. Returns a typed error without network I/O when
// the service is not currently healthy.
func (d *Dispatcher) Forward(w http.ResponseWriter, r *http.Request, target Target) error {
	start := time.Now()

	baseURL, ok := d.registry.Resolve(target.Service)
	if !ok {
		d.metrics.RecordRequest(target.Service, http.StatusServiceUnavailable, time.Since(start))
		return apierror.ServiceUnavailable(target.Service, fmt.Sprintf(
			"Service %s is currently unavailable. Please try again later.", target.Service,
		))
	}

	targetURL := baseURL + RewritePath(r.URL.Path, target.Prefix)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	// Derive from the request context so a client disconnect aborts the
	// in-flight downstream call.
	ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
	defer cancel()

	proxyReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL, r.Body)
	if err != nil {
		d.logger.Error("Failed to create proxy request",
			"request_id", target.RequestID,
			"service", target.Service,
			"url", targetURL,
			"error", err,
		)
		return apierror.Internal(err)
	}

	copyHeaders(proxyReq.Header, r.Header)
	proxyReq.Header.Set("X-Request-Id", target.RequestID)
	if target.UserID != "" {
		proxyReq.Header.Set("X-User-Id", target.UserID)
		proxyReq.Header.Set("X-User-Role", target.UserRole)
	}

	resp, err := d.client.Do(proxyReq)
	if err != nil {
		d.metrics.RecordProxyError(target.Service)
		d.metrics.RecordRequest(target.Service, http.StatusServiceUnavailable, time.Since(start))
		d.logger.Error("Forward failed",
			"request_id", target.RequestID,
			"service", target.Service,
			"url", targetURL,
			"error", err,
		)
		return classifyTransportError(target.Service, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Error("Failed to close backend response body", "error", closeErr)
		}
	}()

	d.metrics.RecordRequest(target.Service, resp.StatusCode, time.Since(start))
	d.logger.Debug("Request forwarded",
		"request_id", target.RequestID,
		"service", target.Service,
		"target_url", targetURL,
		"status_code", resp.StatusCode,
		"duration", time.Since(start),
	)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		d.logger.Error("Failed to copy backend response body",
			"request_id", target.RequestID,
			"service", target.Service,
			"error", err,
		)
	}
	return nil
}

// RewritePath strips the route prefix so the backend sees its own native
// path space. A fully-consumed path becomes "/".
func RewritePath(path, prefix string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if path == prefix {
		return "/"
	}
	if strings.HasPrefix(path, prefix+"/") {
		rewritten := strings.TrimPrefix(path, prefix)
		if rewritten == "" {
			return "/"
		}
		return rewritten
	}
	return path
}

// classifyTransportError distinguishes "service is down" conditions from
// other transport failures. Both map to 503; the message tells clients
// whether retrying later is likely to help.
func classifyTransportError(service string, err error) *apierror.Error {
	if isConnectivityError(err) {
		return apierror.ServiceUnavailable(service, fmt.Sprintf(
			"Cannot connect to %s. Service may be down or unreachable.", service,
		))
	}
	return apierror.ServiceUnavailable(service, fmt.Sprintf(
		"Error communicating with %s: %v", service, err,
	))
}

func isConnectivityError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Wrapped url.Error messages from the transport layer
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout")
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
