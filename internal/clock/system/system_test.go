package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("MSK", 3*60*60)
	clk := New(loc)
	require.Equal(t, loc, clk.Location())
	_, offset := clk.Now().Zone()
	assert.Equal(t, 3*60*60, offset)
}
