// Package auth holds request-level defenses shared by the gateway actions.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for failure response padding
type TimingConfig struct {
	BaseDelayMs   int // Minimum time a failed login takes
	RandomDelayMs int // Random extra delay range
}

// TimingDelay pads failed login responses to a common minimum duration so that a
// masked lockout, an unknown account and a wrong password are indistinguishable
// by latency.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// cryptoRandIntn returns a secure random number between 0 and max (exclusive)
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return int(randomValue % uint64(max)), nil
}

// target is the padded duration for one failure
func (td *TimingDelay) target() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := cryptoRandIntn(td.config.RandomDelayMs); err == nil {
			delay += time.Duration(n) * time.Millisecond
		}
	}
	return delay
}

// WaitFrom blocks until at least the padded duration has elapsed since startTime.
// It returns early when ctx is done. A nil TimingDelay never waits.
func (td *TimingDelay) WaitFrom(ctx context.Context, startTime time.Time) {
	if td == nil {
		return
	}

	remaining := td.target() - time.Since(startTime)
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
