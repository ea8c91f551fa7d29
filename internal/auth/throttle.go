package auth

import (
	"sync"
	"time"
)

// AttemptThrottle tracks failed authentication attempts per identifier
// (username or IP) and blocks further attempts once the limit is hit
// inside the attempt window. A successful attempt clears the counter.
type AttemptThrottle struct {
	mu            sync.Mutex
	attemptCounts map[string]int
	lastAttempts  map[string]time.Time
	blocked       map[string]time.Time

	maxAttempts     int
	blockDuration   time.Duration
	windowDuration  time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	stop            chan struct{}
}

// NewAttemptThrottle creates a throttle with the given limits and
// starts a background goroutine that periodically drops stale tracking
// state. Call Stop to terminate it.
func NewAttemptThrottle(maxAttempts int, blockDuration, windowDuration time.Duration) *AttemptThrottle {
	t := &AttemptThrottle{
		attemptCounts:   make(map[string]int),
		lastAttempts:    make(map[string]time.Time),
		blocked:         make(map[string]time.Time),
		maxAttempts:     maxAttempts,
		blockDuration:   blockDuration,
		windowDuration:  windowDuration,
		cleanupInterval: 5 * time.Minute,
		now:             time.Now,
		stop:            make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// IsBlocked reports whether the identifier is inside a block window
func (t *AttemptThrottle) IsBlocked(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	blockedAt, exists := t.blocked[identifier]
	if !exists {
		return false
	}
	if t.now().Sub(blockedAt) < t.blockDuration {
		return true
	}
	delete(t.blocked, identifier)
	delete(t.attemptCounts, identifier)
	delete(t.lastAttempts, identifier)
	return false
}

// RecordAttempt records an attempt outcome. Returns false if the
// identifier just crossed the failure limit and is now blocked.
func (t *AttemptThrottle) RecordAttempt(identifier string, success bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		delete(t.attemptCounts, identifier)
		delete(t.lastAttempts, identifier)
		delete(t.blocked, identifier)
		return true
	}

	now := t.now()
	if last, exists := t.lastAttempts[identifier]; exists && now.Sub(last) <= t.windowDuration {
		t.attemptCounts[identifier]++
	} else {
		t.attemptCounts[identifier] = 1
	}
	t.lastAttempts[identifier] = now

	if t.attemptCounts[identifier] >= t.maxAttempts {
		t.blocked[identifier] = now
		return false
	}
	return true
}

// Stop terminates the background cleanup goroutine
func (t *AttemptThrottle) Stop() {
	close(t.stop)
}

func (t *AttemptThrottle) cleanupLoop() {
	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Cleanup()
		case <-t.stop:
			return
		}
	}
}

// Cleanup drops stale tracking state. Identifiers whose last attempt
// fell out of the window, and lapsed blocks, are removed so attacker-
// chosen usernames and IPs cannot grow the maps without bound.
func (t *AttemptThrottle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, last := range t.lastAttempts {
		if now.Sub(last) > t.windowDuration {
			if _, isBlocked := t.blocked[id]; !isBlocked {
				delete(t.attemptCounts, id)
				delete(t.lastAttempts, id)
			}
		}
	}
	for id, blockedAt := range t.blocked {
		if now.Sub(blockedAt) >= t.blockDuration {
			delete(t.blocked, id)
			delete(t.attemptCounts, id)
			delete(t.lastAttempts, id)
		}
	}
}
