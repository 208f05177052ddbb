// Package limiter implements the client-side sliding-window admission check
// that guards calls to the upstream recipe API.
package limiter

import (
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 10
)

// Config controls the window length and capacity.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// SlidingWindow counts request timestamps inside a continuously moving
// window. Pruning happens lazily on read; nothing runs on a timer.
type SlidingWindow struct {
	window time.Duration
	max    int

	mu         sync.Mutex
	timestamps []time.Time
}

// New validates cfg, applying defaults for zero values.
func New(cfg Config) (*SlidingWindow, error) {
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window < 0 {
		return nil, errors.New("limiter: window must be positive")
	}
	if cfg.MaxRequests < 0 {
		return nil, errors.New("limiter: maxRequests must be positive")
	}
	return &SlidingWindow{window: cfg.Window, max: cfg.MaxRequests}, nil
}

// Window returns the configured window length.
func (l *SlidingWindow) Window() time.Duration { return l.window }

// MaxRequests returns the per-window capacity.
func (l *SlidingWindow) MaxRequests() int { return l.max }

// CanAdmit prunes stale timestamps and reports whether another request fits.
func (l *SlidingWindow) CanAdmit(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	return len(l.timestamps) < l.max
}

// Record appends now. Call it only for requests that reach the network.
func (l *SlidingWindow) Record(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = append(l.timestamps, now)
}

// TimeUntilNextSlot is the time until the oldest retained timestamp leaves
// the window. It is zero when nothing is retained.
func (l *SlidingWindow) TimeUntilNextSlot(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.untilNextSlot(now)
}

// RemainingCapacity prunes and returns how many requests still fit.
func (l *SlidingWindow) RemainingCapacity(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	return l.max - len(l.timestamps)
}

// Snapshot copies the retained timestamps.
func (l *SlidingWindow) Snapshot() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]time.Time, len(l.timestamps))
	copy(out, l.timestamps)
	return out
}

// Restore replaces the retained timestamps, sorted oldest first.
func (l *SlidingWindow) Restore(timestamps []time.Time) {
	restored := make([]time.Time, len(timestamps))
	copy(restored, timestamps)
	sort.Slice(restored, func(i, j int) bool { return restored[i].Before(restored[j]) })
	l.mu.Lock()
	l.timestamps = restored
	l.mu.Unlock()
}

func (l *SlidingWindow) prune(now time.Time) {
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	// Clear the tail so pruned times are not retained by the backing array.
	for i := len(kept); i < len(l.timestamps); i++ {
		l.timestamps[i] = time.Time{}
	}
	l.timestamps = kept
}

func (l *SlidingWindow) untilNextSlot(now time.Time) time.Duration {
	if len(l.timestamps) == 0 {
		return 0
	}
	oldest := l.timestamps[0]
	for _, ts := range l.timestamps[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	wait := l.window - now.Sub(oldest)
	if wait < 0 {
		return 0
	}
	return wait
}
