package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aitalentmarketplace/gateway/internal/config"
	"github.com/aitalentmarketplace/gateway/internal/monitoring"
)

// fixedWindowScript implements atomic increment-with-expiry-on-create.
// Counter initialization, increment, and TTL management happen in a single
// Redis operation, so concurrent bursts from the same client never
// under-count. Returns {allowed, remaining, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1, window}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		local ttl = redis.call('PTTL', key)
		if ttl < 0 then
			redis.call('PEXPIRE', key, window)
			ttl = window
		end
		return {1, limit - newCount, ttl}
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		ttl = window
	end
	return {0, 0, ttl}
`)

// Result is one admission decision with everything the caller needs to
// populate the rate-limit response headers.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int   // whole seconds; only meaningful when blocked
	ResetAt    int64 // epoch seconds when the current window ends
}

// Limiter is the tiered, distributed request limiter. Counters live in
// Redis and are shared by every gateway instance; when Redis is
// unreachable the limiter degrades to a per-process fallback rather than
// rejecting all traffic.
type Limiter struct {
	client   *redis.Client
	tiers    map[string]config.TierConfig
	trusted  map[string]bool
	fallback *localFallback
	degraded atomic.Bool
	metrics  *monitoring.Metrics
	logger   *slog.Logger
}

func New(client *redis.Client, cfg config.RateLimitConfig, metrics *monitoring.Metrics, logger *slog.Logger) *Limiter {
	trusted := make(map[string]bool, len(cfg.TrustedWebhookSources))
	for _, src := range cfg.TrustedWebhookSources {
		trusted[src] = true
	}

	return &Limiter{
		client:   client,
		tiers:    cfg.Tiers,
		trusted:  trusted,
		fallback: newLocalFallback(),
		metrics:  metrics,
		logger:   logger,
	}
}

// Admit records one request against the (tier, clientKey) bucket and
// decides whether it may proceed.
func (l *Limiter) Admit(ctx context.Context, tier, clientKey string) (Result, error) {
	tierCfg, ok := l.tiers[tier]
	if !ok {
		return Result{}, fmt.Errorf("ratelimit: unknown tier: %s", tier)
	}

	window := tierCfg.Window.Std()
	windowMs := window.Milliseconds()
	key := fmt.Sprintf("ratelimit:%s:%s", tier, clientKey)

	raw, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs, tierCfg.MaxRequests).Result()
	if err != nil {
		// A cancelled caller context is not a store outage.
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return l.admitDegraded(tier, tierCfg, clientKey, err), nil
	}

	if l.degraded.Swap(false) {
		l.logger.Info("Rate limiter recovered, back on distributed store")
		l.metrics.SetRateLimitDegraded(false)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) < 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result: %v", raw)
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	ttlMs, _ := values[2].(int64)
	if ttlMs <= 0 {
		ttlMs = windowMs
	}

	result := Result{
		Allowed:   allowed == 1,
		Limit:     tierCfg.MaxRequests,
		Remaining: int(remaining),
		ResetAt:   time.Now().Add(time.Duration(ttlMs) * time.Millisecond).Unix(),
	}
	if !result.Allowed {
		result.RetryAfter = retryAfterSeconds(window)
		l.metrics.RecordRateLimitRejection(tier)
		l.logger.Debug("Rate limit exceeded",
			"tier", tier,
			"client_key", clientKey,
			"limit", tierCfg.MaxRequests,
			"window", window,
		)
	}
	return result, nil
}

// admitDegraded makes the decision on the per-process fallback when the
// distributed store is unreachable. Fail-open by design: a Redis outage
// must not become a full gateway outage.
func (l *Limiter) admitDegraded(tier string, tierCfg config.TierConfig, clientKey string, cause error) Result {
	if !l.degraded.Swap(true) {
		l.logger.Warn("Rate limit store unreachable, degrading to local limiter",
			"error", cause,
		)
		l.metrics.SetRateLimitDegraded(true)
	}

	window := tierCfg.Window.Std()
	allowed, remaining := l.fallback.allow(tier+":"+clientKey, tierCfg)

	result := Result{
		Allowed:   allowed,
		Limit:     tierCfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   time.Now().Add(window).Unix(),
	}
	if !allowed {
		result.RetryAfter = retryAfterSeconds(window)
		l.metrics.RecordRateLimitRejection(tier)
	}
	return result
}

// Trusted reports whether source is in the webhook trusted-source allowlist.
func (l *Limiter) Trusted(source string) bool {
	return l.trusted[source]
}

// Degraded reports whether the limiter is currently on the local fallback.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

func retryAfterSeconds(window time.Duration) int {
	return int(math.Ceil(window.Seconds()))
}
