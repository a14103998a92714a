package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionClock_StrictlyMonotonic(t *testing.T) {
	clock := newSessionClock()

	wall := time.UnixMicro(1_700_000_000_000_000)

	// Repeated wall-clock collisions must still advance by 1µs each
	first := clock.At("s1", wall)
	second := clock.At("s1", wall)
	third := clock.At("s1", wall)

	assert.Equal(t, wall.UnixMicro(), first)
	assert.Equal(t, first+1, second)
	assert.Equal(t, second+1, third)
}

func TestSessionClock_WallClockBehindLast(t *testing.T) {
	clock := newSessionClock()

	wall := time.UnixMicro(1_700_000_000_000_000)
	first := clock.At("s1", wall)

	// An event captured earlier than the last issued timestamp
	earlier := clock.At("s1", wall.Add(-time.Second))
	assert.Equal(t, first+1, earlier)
}

func TestSessionClock_SessionsIndependent(t *testing.T) {
	clock := newSessionClock()

	wall := time.UnixMicro(1_700_000_000_000_000)
	clock.At("s1", wall)
	clock.At("s1", wall)

	// A different session starts from its own wall reading
	other := clock.At("s2", wall)
	assert.Equal(t, wall.UnixMicro(), other)
}

func TestSessionClock_Next(t *testing.T) {
	clock := newSessionClock()

	a := clock.Next("s1")
	b := clock.Next("s1")
	assert.Greater(t, b, a)
}

func TestSessionClock_Forget(t *testing.T) {
	clock := newSessionClock()
	wall := time.UnixMicro(1_700_000_000_000_000)

	clock.At("s1", wall)
	clock.Forget("s1")

	// After Forget the session restarts from the wall reading
	assert.Equal(t, wall.UnixMicro(), clock.At("s1", wall))
}
