// Package idle keeps one resettable deadline per session key.
package idle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/user/stevebot/internal/types"
)

// Supervisor owns at most one pending deadline per session key. Reset and
// Cancel are atomic with respect to firing: once either returns, a timer
// armed earlier for that key will not invoke its handler.
//
// Handlers only dispatch an event. The event itself must re-check session
// state, because an enqueue may land in the lane between the fire and the
// handling.
type Supervisor struct {
	mu       sync.Mutex
	timers   map[types.SessionKey]*deadline
	handlers map[types.Feature]func(types.SessionKey)
	gen      uint64
	stopped  bool
}

type deadline struct {
	timer *time.Timer
	gen   uint64
	due   time.Time
}

// New creates an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{
		timers:   make(map[types.SessionKey]*deadline),
		handlers: make(map[types.Feature]func(types.SessionKey)),
	}
}

// Handle registers fn for deadlines of sessions of feature f.
func (s *Supervisor) Handle(f types.Feature, fn func(types.SessionKey)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[f] = fn
}

// Reset cancels any pending deadline for key and arms a new one d from now.
func (s *Supervisor) Reset(key types.SessionKey, d time.Duration) {
	s.ResetAt(key, time.Now().Add(d))
}

// ResetAt is Reset with an absolute deadline. Deadlines in the past fire
// immediately.
func (s *Supervisor) ResetAt(key types.SessionKey, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.cancelLocked(key)
	s.gen++
	gen := s.gen
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.timers[key] = &deadline{
		timer: time.AfterFunc(d, func() { s.fire(key, gen) }),
		gen:   gen,
		due:   at,
	}
}

// Cancel drops the pending deadline for key. It reports whether one existed.
func (s *Supervisor) Cancel(key types.SessionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(key)
}

func (s *Supervisor) cancelLocked(key types.SessionKey) bool {
	d, ok := s.timers[key]
	if !ok {
		return false
	}
	d.timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending returns the deadline armed for key.
func (s *Supervisor) Pending(key types.SessionKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return d.due, true
}

// Len returns the number of pending deadlines.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every deadline. Later Resets are ignored.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key := range s.timers {
		s.cancelLocked(key)
	}
}

func (s *Supervisor) fire(key types.SessionKey, gen uint64) {
	s.mu.Lock()
	d, ok := s.timers[key]
	if !ok || d.gen != gen {
		// Superseded by a Reset or Cancel that won the race with the timer.
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	fn := s.handlers[key.Feature()]
	s.mu.Unlock()

	if fn == nil {
		slog.Warn("deadline fired without handler", "session", string(key))
		return
	}
	fn(key)
}
