// ABOUTME: Per-caller token bucket limiter for participant RPCs
// ABOUTME: Idle callers are pruned so the pool does not grow without bound

package room

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one limiter per caller identity.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	now       func() time.Time
	lastPrune time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(rps),
		burst: burst,
		now:   time.Now,
	}
}

// Allow reports whether caller may make another call now.
func (p *limiterPool) Allow(caller string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastPrune) > limiterIdleTTL {
		for key, e := range p.m {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(p.m, key)
			}
		}
		p.lastPrune = now
	}

	e, ok := p.m[caller]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.m[caller] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
