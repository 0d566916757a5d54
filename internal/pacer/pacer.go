package pacer

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	typingMinMs = 2000
	typingMaxMs = 4000
)

// TypingMax is the longest typing simulation the pacer produces.
const TypingMax = typingMaxMs * time.Millisecond

// Pacer produces human-like delays between and during sends.
type Pacer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Pacer)

// WithRand fixes the random source, mainly for tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Pacer) { p.rng = r }
}

// WithSleeper replaces the wait implementation, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pacer) { p.sleep = fn }
}

func New(opts ...Option) *Pacer {
	p := &Pacer{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextDelayMs returns a uniformly random whole number of seconds in
// [minSeconds, maxSeconds], expressed in milliseconds.
func (p *Pacer) NextDelayMs(minSeconds, maxSeconds int) int {
	if minSeconds < 0 {
		minSeconds = 0
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}
	return (minSeconds + p.intn(maxSeconds-minSeconds+1)) * 1000
}

func (p *Pacer) NextDelay(minSeconds, maxSeconds int) time.Duration {
	return time.Duration(p.NextDelayMs(minSeconds, maxSeconds)) * time.Millisecond
}

// TypingDurationMs is fixed to 2000-4000ms and does not depend on account
// settings.
func (p *Pacer) TypingDurationMs() int {
	return typingMinMs + p.intn(typingMaxMs-typingMinMs+1)
}

func (p *Pacer) TypingDuration() time.Duration {
	return time.Duration(p.TypingDurationMs()) * time.Millisecond
}

// Wait blocks for d or until ctx is done.
func (p *Pacer) Wait(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}

func (p *Pacer) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
