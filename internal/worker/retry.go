package worker

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

// RetryPolicy decides whether a failed task goes back on the queue. With
// maxAttempts of 1 every failure is dropped after logging.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy allowing maxAttempts tries per task.
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    30 * time.Second,
	}
}

// ShouldRetry reports whether a task that has now been tried attempts times
// and failed with err deserves another try. Catalog and configuration
// faults never do.
func (p *RetryPolicy) ShouldRetry(err error, attempts int) bool {
	if err == nil || attempts >= p.maxAttempts {
		return false
	}
	switch tracker.ErrorKind(err) {
	case tracker.KindNoListing, tracker.KindExtraction, tracker.KindInternal:
		return true
	default:
		return false
	}
}

// Backoff returns a jittered exponential wait for the given number of
// consecutive queue failures.
func (p *RetryPolicy) Backoff(failures int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(failures))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
