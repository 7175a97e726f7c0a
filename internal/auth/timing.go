package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig sets the minimum duration of an authentication response
type TimingConfig struct {
	Floor      time.Duration
	Jitter     time.Duration // uniform extra delay in [0, Jitter)
	PadSuccess bool
}

// TimingDelay pads login responses to a common duration so that an unknown email,
// a wrong password and a locked account cannot be told apart by response time
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

func (td *TimingDelay) target() time.Duration {
	if td.config.Jitter <= 0 {
		return td.config.Floor
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.Jitter)))
	if err != nil {
		return td.config.Floor
	}
	return td.config.Floor + time.Duration(n.Int64())
}

// WaitFrom sleeps until at least the target delay has elapsed since startTime.
// It returns early when ctx is cancelled. Successful logins are only padded with PadSuccess.
func (td *TimingDelay) WaitFrom(ctx context.Context, startTime time.Time, success bool) {
	if td == nil || (success && !td.config.PadSuccess) {
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
