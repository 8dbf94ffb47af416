// Package scheduler provides a one-shot, cancellable timer keyed by an
// arbitrary identifier. The orchestrator uses it to arm lobby timeouts and
// inactivity timeouts per conversation, and to disarm them the moment the
// corresponding event overtakes the clock.
package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler holds zero or more pending one-shot timers, each addressed by a
// caller-chosen key. A key maps to at most one pending timer at a time;
// scheduling a new timer under an existing key cancels the old one first.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger *slog.Logger
}

// New returns an empty Scheduler. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// After arms a one-shot timer under key that calls fn after d elapses. Any
// previously pending timer under the same key is canceled first, so
// rescheduling a key is idempotent rather than additive.
func (s *Scheduler) After(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// Only fire if we're still the armed timer for this key; a
		// subsequent After/Cancel call may have already replaced or removed
		// this exact timer from the map.
		if cur, ok := s.timers[key]; !ok || cur != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled task panicked", "key", key, "panic", r)
			}
		}()
		fn()
	})
	s.timers[key] = t
}

// Cancel disarms the pending timer under key, if any. Safe to call when no
// timer is armed, and safe to call concurrently with the timer firing: if
// the timer already fired, Cancel is a no-op.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Pending reports whether a timer is currently armed under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// StopAll cancels every pending timer. Intended for graceful shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
