package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottleBlocksAfterMaxAttempts(t *testing.T) {
	throttle := NewAttemptThrottle(3, 15*time.Minute, 5*time.Minute)

	assert.True(t, throttle.RecordAttempt("admin", false))
	assert.True(t, throttle.RecordAttempt("admin", false))
	assert.False(t, throttle.RecordAttempt("admin", false)) // third failure blocks
	assert.True(t, throttle.IsBlocked("admin"))

	// Other identifiers are unaffected.
	assert.False(t, throttle.IsBlocked("other"))
}

func TestThrottleSuccessClearsCounter(t *testing.T) {
	throttle := NewAttemptThrottle(3, 15*time.Minute, 5*time.Minute)

	throttle.RecordAttempt("admin", false)
	throttle.RecordAttempt("admin", false)
	throttle.RecordAttempt("admin", true)

	// Counter restarts after success.
	assert.True(t, throttle.RecordAttempt("admin", false))
	assert.True(t, throttle.RecordAttempt("admin", false))
	assert.False(t, throttle.IsBlocked("admin"))
}

func TestThrottleBlockExpires(t *testing.T) {
	throttle := NewAttemptThrottle(2, 15*time.Minute, 5*time.Minute)

	current := time.Now()
	throttle.now = func() time.Time { return current }

	throttle.RecordAttempt("admin", false)
	throttle.RecordAttempt("admin", false)
	assert.True(t, throttle.IsBlocked("admin"))

	// Still blocked inside the window.
	current = current.Add(14 * time.Minute)
	assert.True(t, throttle.IsBlocked("admin"))

	// Block has lapsed; counters reset.
	current = current.Add(2 * time.Minute)
	assert.False(t, throttle.IsBlocked("admin"))
	assert.True(t, throttle.RecordAttempt("admin", false))
}

func TestThrottleWindowResetsCounter(t *testing.T) {
	throttle := NewAttemptThrottle(3, 15*time.Minute, 5*time.Minute)

	current := time.Now()
	throttle.now = func() time.Time { return current }

	throttle.RecordAttempt("admin", false)
	throttle.RecordAttempt("admin", false)

	// Failures spaced beyond the window do not accumulate.
	current = current.Add(6 * time.Minute)
	assert.True(t, throttle.RecordAttempt("admin", false))
	assert.True(t, throttle.RecordAttempt("admin", false))
	assert.False(t, throttle.IsBlocked("admin"))
}

func TestThrottleBackgroundCleanupDropsStaleEntries(t *testing.T) {
	throttle := &AttemptThrottle{
		attemptCounts:   make(map[string]int),
		lastAttempts:    make(map[string]time.Time),
		blocked:         make(map[string]time.Time),
		maxAttempts:     5,
		blockDuration:   15 * time.Minute,
		windowDuration:  time.Millisecond,
		cleanupInterval: 5 * time.Millisecond,
		now:             time.Now,
		stop:            make(chan struct{}),
	}
	go throttle.cleanupLoop()
	defer throttle.Stop()

	// A failed attempt from an identifier that never returns must not
	// be tracked forever.
	throttle.RecordAttempt("198.51.100.9", false)

	assert.Eventually(t, func() bool {
		throttle.mu.Lock()
		defer throttle.mu.Unlock()
		_, tracked := throttle.lastAttempts["198.51.100.9"]
		_, counted := throttle.attemptCounts["198.51.100.9"]
		return !tracked && !counted
	}, time.Second, 5*time.Millisecond)
}

func TestThrottleStop(t *testing.T) {
	throttle := NewAttemptThrottle(3, 15*time.Minute, 5*time.Minute)
	assert.NotPanics(t, func() { throttle.Stop() })
}

func TestThrottleCleanup(t *testing.T) {
	throttle := NewAttemptThrottle(5, 15*time.Minute, 5*time.Minute)

	current := time.Now()
	throttle.now = func() time.Time { return current }

	throttle.RecordAttempt("stale", false)
	current = current.Add(10 * time.Minute)
	throttle.Cleanup()

	throttle.mu.Lock()
	_, tracked := throttle.attemptCounts["stale"]
	throttle.mu.Unlock()
	assert.False(t, tracked)
}
