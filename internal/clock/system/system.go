// Package system provides the wall clock used to date price observations.
package system

import "time"

// Clock implements tracker.Clock in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting times in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the configured location.
func (c *Clock) Location() *time.Location {
	return c.loc
}
