package syncer

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// retryDelay is the wait before attempt number attempt+1, given that
// attempt attempts have failed so far.
func (e *Engine) retryDelay(attempt int) time.Duration {
	b := retry.NewExponential(e.cfg.BackoffBase)
	b = retry.WithCappedDuration(e.cfg.BackoffCap, b)
	if e.cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(e.cfg.JitterPercent, b)
	}
	var d time.Duration
	for i := 0; i < max(attempt, 1); i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}
