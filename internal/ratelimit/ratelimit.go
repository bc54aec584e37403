// Package ratelimit spaces successive fetches against a single origin.
// The cross-site fan-out needs no limiting (independent origins); this
// package protects one shop from the intra-site product-page burst.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type Pacer interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// JitterPacer enforces a randomized minimum gap between actions. The
// lock is held across the sleep so concurrent callers are spaced out
// one after another instead of all firing at once.
type JitterPacer struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewJitterPacer(minDelay, maxDelay time.Duration) *JitterPacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &JitterPacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (p *JitterPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.lastAction)
	delay := p.nextDelay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	p.lastAction = time.Now()
	return nil
}

func (p *JitterPacer) SetDelay(min, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.minDelay = min
	p.maxDelay = max
}

func (p *JitterPacer) nextDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	jitter := time.Duration(rand.Int63n(int64(p.maxDelay - p.minDelay)))
	return p.minDelay + jitter
}

const (
	adaptiveFloor  = 100 * time.Millisecond
	adaptiveMinCap = 10 * time.Second
	adaptiveMaxCap = 20 * time.Second
	backoffTrigger = 3
	backoffFactor  = 1.5
	speedupTrigger = 5
	speedupFactor  = 0.9
)

// AdaptivePacer widens its gap after consecutive fetch errors and
// tightens it again while a site keeps answering. A shop that starts
// throttling gets slower, politer traffic within the same run.
type AdaptivePacer struct {
	*JitterPacer
	errorCount   int
	successCount int
}

func NewAdaptivePacer(minDelay, maxDelay time.Duration) *AdaptivePacer {
	return &AdaptivePacer{
		JitterPacer: NewJitterPacer(minDelay, maxDelay),
	}
}

func (a *AdaptivePacer) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount >= speedupTrigger {
		newMin := time.Duration(float64(a.minDelay) * speedupFactor)
		if newMin < adaptiveFloor {
			newMin = adaptiveFloor
		}
		a.minDelay = newMin
		a.successCount = 0
	}
}

func (a *AdaptivePacer) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= backoffTrigger {
		newMin := time.Duration(float64(a.minDelay) * backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * backoffFactor)

		if newMin > adaptiveMinCap {
			newMin = adaptiveMinCap
		}
		if newMax > adaptiveMaxCap {
			newMax = adaptiveMaxCap
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}
