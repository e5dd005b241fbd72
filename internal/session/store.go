package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/stevebot/internal/types"
)

type entry struct {
	mu sync.Mutex
	s  *Session
	// dirty is set when the last persist failed; the next transition
	// rewrites the snapshot even if it would not ask for it.
	dirty bool
}

// Store owns every live session, keyed by session key. Sessions are created
// lazily in the idle state and persisted through the snapshot store after
// each transition that asks for it.
type Store struct {
	snapshots types.SnapshotStore
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[types.SessionKey]*entry
}

// NewStore creates an empty Store persisting through snapshots.
func NewStore(snapshots types.SnapshotStore) *Store {
	return &Store{
		snapshots: snapshots,
		now:       time.Now,
		sessions:  make(map[types.SessionKey]*entry),
	}
}

// Load seeds the store from the snapshot store. It must run before any event
// is processed.
func (st *Store) Load(ctx context.Context) error {
	snaps, err := st.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for key, snap := range snaps {
		st.sessions[key] = &entry{s: FromSnapshot(snap)}
	}
	slog.Info("sessions restored", "count", len(snaps))
	return nil
}

func (st *Store) get(key types.SessionKey) *entry {
	st.mu.RLock()
	e, ok := st.sessions[key]
	st.mu.RUnlock()
	if ok {
		return e
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok := st.sessions[key]; ok {
		return e
	}
	e = &entry{s: New(key)}
	st.sessions[key] = e
	return e
}

// Update runs fn as one critical section over the session for key and
// returns its outcome with a copy of the resulting state. fn must not block.
// When the outcome asks for it the new state is persisted before returning.
// A failed write is logged and retried on the next transition; it never
// undoes the transition, so callers always get to run its effects. The only
// error is a context that was done before fn ran.
func (st *Store) Update(ctx context.Context, key types.SessionKey, fn func(s *Session, now time.Time) Outcome) (Outcome, *Session, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, nil, err
	}
	e := st.get(key)
	e.mu.Lock()
	out := fn(e.s, st.now())
	snapshot := e.s.Copy()
	persist := out.Persist || e.dirty
	e.mu.Unlock()

	if persist {
		err := st.snapshots.Save(ctx, snapshot.Snapshot())
		e.mu.Lock()
		e.dirty = err != nil
		e.mu.Unlock()
		if err != nil {
			slog.Error("persist session failed", "session_key", key, "error", err)
		}
	}
	return out, snapshot, nil
}

// View returns a copy of the session for key.
func (st *Store) View(key types.SessionKey) *Session {
	e := st.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Copy()
}

// Keys returns the keys of every session of feature, sorted. An empty
// feature matches all sessions.
func (st *Store) Keys(feature types.Feature) []types.SessionKey {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]types.SessionKey, 0, len(st.sessions))
	for key := range st.sessions {
		if feature == "" || key.Feature() == feature {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SetClock replaces the time source. Intended for tests.
func (st *Store) SetClock(now func() time.Time) {
	st.now = now
}
