package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/aitalentmarketplace/gateway/internal/config"
)

// localFallback approximates the fixed-window limits with per-process
// token buckets while the distributed store is down. Looser than the
// Redis path (each instance counts independently) but preserves the
// per-client ceiling.
type localFallback struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalFallback() *localFallback {
	return &localFallback{
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports the admission decision and the bucket's remaining
// capacity, approximated from the token count at decision time.
func (f *localFallback) allow(key string, tierCfg config.TierConfig) (bool, int) {
	f.mu.Lock()
	limiter, ok := f.limiters[key]
	if !ok {
		perSecond := float64(tierCfg.MaxRequests) / tierCfg.Window.Std().Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), tierCfg.MaxRequests)
		f.limiters[key] = limiter
	}
	f.mu.Unlock()

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}
