package lastfm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacing bounds for the adaptive inter-request delay.
const (
	defaultFloorDelay   = 200 * time.Millisecond
	defaultCeilingDelay = 5 * time.Second
)

// pacer spaces requests to the API with an adaptive delay. Rate-limit
// signals double the delay up to a ceiling; sustained success decays it back
// toward a floor.
type pacer struct {
	mu      sync.Mutex
	delay   time.Duration
	floor   time.Duration
	ceiling time.Duration
	limiter *rate.Limiter
}

func newPacer(floor, ceiling time.Duration) *pacer {
	return &pacer{
		delay:   floor,
		floor:   floor,
		ceiling: ceiling,
		limiter: rate.NewLimiter(rate.Every(floor), 1),
	}
}

// Wait blocks until the next request is allowed or the context is done.
func (p *pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Slower doubles the delay, bounded by the ceiling, and returns the new value.
func (p *pacer) Slower() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = min(p.delay*2, p.ceiling)
	p.limiter.SetLimit(rate.Every(p.delay))
	return p.delay
}

// Faster decays the delay by 10%, bounded by the floor.
func (p *pacer) Faster() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = max(p.delay*9/10, p.floor)
	p.limiter.SetLimit(rate.Every(p.delay))
}

// Delay returns the current inter-request delay.
func (p *pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}
