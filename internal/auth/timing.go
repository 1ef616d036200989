package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig controls the padding applied to credential checks
type TimingConfig struct {
	BaseDelayMs    int  // fixed floor for every padded response
	RandomDelayMs  int  // upper bound of the random jitter added to the floor
	DelayOnSuccess bool // pad successful checks as well
}

// TimingDelay pads authentication responses so an unknown email and a wrong
// password take about the same time.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// target returns base + jitter, with jitter drawn from crypto/rand
func (td *TimingDelay) target() time.Duration {
	d := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.RandomDelayMs)))
		if err == nil {
			d += time.Duration(n.Int64()) * time.Millisecond
		}
	}
	return d
}

// WaitFrom sleeps until at least the target delay has elapsed since start.
// It returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Wait applies the full delay from now
func (td *TimingDelay) Wait(ctx context.Context, success bool) {
	td.WaitFrom(ctx, time.Now(), success)
}
