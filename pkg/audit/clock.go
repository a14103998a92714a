package audit

import (
	"sync"
	"time"
)

// sessionClock issues strictly monotonic microsecond timestamps per session.
// When the wall clock collides with (or runs behind) the last issued value,
// the next timestamp is last+1µs.
type sessionClock struct {
	mu   sync.Mutex
	last map[string]int64
}

func newSessionClock() *sessionClock {
	return &sessionClock{last: make(map[string]int64)}
}

// Next returns the next timestamp for the session, at least wall-clock time
// and strictly greater than every previously issued value for this session.
func (c *sessionClock) Next(sessionID string) int64 {
	return c.At(sessionID, time.Now())
}

// At is Next with an explicit wall-clock reading (used when the event was
// captured earlier than it is persisted).
func (c *sessionClock) At(sessionID string, wall time.Time) int64 {
	us := wall.UnixMicro()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[sessionID]; ok && us <= last {
		us = last + 1
	}
	c.last[sessionID] = us
	return us
}

// Forget drops the session's clock state after finalization.
func (c *sessionClock) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, sessionID)
}
