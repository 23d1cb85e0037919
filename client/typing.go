package client

import (
	"sync"
	"time"
)

// typingTracker expires typing indicators locally when no stop signal
// arrives within the configured window.
type typingTracker struct {
	expiry  time.Duration
	expired func(name string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTypingTracker(expiry time.Duration, expired func(name string)) *typingTracker {
	return &typingTracker{
		expiry:  expiry,
		expired: expired,
		timers:  make(map[string]*time.Timer),
	}
}

func (t *typingTracker) touch(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[name]; ok {
		timer.Reset(t.expiry)
		return
	}
	t.timers[name] = time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		delete(t.timers, name)
		t.mu.Unlock()
		if t.expired != nil {
			t.expired(name)
		}
	})
}

// stopAll cancels every pending expiry and returns the names that were
// typing. The stop-typing event does not carry a user name, so all pending
// indicators are cleared together.
func (t *typingTracker) stopAll() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.timers))
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
		names = append(names, name)
	}
	return names
}
