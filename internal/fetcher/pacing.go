// Package fetcher holds what the marketplace session engines share: human
// pacing and browser identity rotation.
package fetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// DefaultUserAgents are desktop browser identities rotated per session.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1 Safari/605.1.15",
}

// Range is an inclusive duration interval a random delay is drawn from.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Random returns a uniformly distributed duration in [Min, Max].
func (r Range) Random() time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

// Validate reports a misconfigured range.
func (r Range) Validate() error {
	if r.Min < 0 || r.Max < r.Min {
		return fmt.Errorf("invalid delay range [%s, %s]", r.Min, r.Max)
	}
	return nil
}

// Sleep waits for a random duration drawn from r, or until ctx ends.
func Sleep(ctx context.Context, r Range) error {
	d := r.Random()
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

// PickUserAgent returns a random entry of agents, falling back to
// DefaultUserAgents when agents is empty.
func PickUserAgent(agents []string) string {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return agents[rand.IntN(len(agents))]
}
