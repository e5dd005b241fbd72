package idle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/stevebot/internal/types"
)

const key = types.SessionKey("g:music")

func TestDeadlineFires(t *testing.T) {
	s := New()
	defer s.Stop()
	fired := make(chan types.SessionKey, 1)
	s.Handle(types.FeatureMusic, func(k types.SessionKey) { fired <- k })

	s.Reset(key, 10*time.Millisecond)

	select {
	case k := <-fired:
		if k != key {
			t.Errorf("fired for %s, want %s", k, key)
		}
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
	if _, ok := s.Pending(key); ok {
		t.Error("deadline still pending after firing")
	}
}

// Reset for D, then reset again before D elapses: nothing fires within 2D.
func TestResetBeforeDeadlineSuppressesFire(t *testing.T) {
	const d = 40 * time.Millisecond
	s := New()
	defer s.Stop()
	var fired atomic.Int32
	s.Handle(types.FeatureMusic, func(types.SessionKey) { fired.Add(1) })

	s.Reset(key, d)
	time.Sleep(d / 2)
	s.Cancel(key) // an enqueue arrived

	time.Sleep(2 * d)
	if n := fired.Load(); n != 0 {
		t.Errorf("expected no fire, got %d", n)
	}
}

func TestResetReplacesPendingDeadline(t *testing.T) {
	s := New()
	defer s.Stop()
	var fired atomic.Int32
	s.Handle(types.FeatureMusic, func(types.SessionKey) { fired.Add(1) })

	for i := 0; i < 5; i++ {
		s.Reset(key, 30*time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if n := fired.Load(); n != 1 {
		t.Errorf("expected exactly one fire, got %d", n)
	}
}

func TestRoutesByFeature(t *testing.T) {
	s := New()
	defer s.Stop()
	var mu sync.Mutex
	got := map[types.Feature]int{}
	var wg sync.WaitGroup
	wg.Add(2)
	for _, f := range []types.Feature{types.FeatureGiveaway, types.FeatureNickname} {
		f := f
		s.Handle(f, func(types.SessionKey) {
			mu.Lock()
			got[f]++
			mu.Unlock()
			wg.Done()
		})
	}

	s.ResetAt(types.NewSessionKey("g", types.FeatureGiveaway), time.Now().Add(-time.Minute))
	s.ResetAt(types.NewSessionKey("g", types.FeatureNickname), time.Now())
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got[types.FeatureGiveaway] != 1 || got[types.FeatureNickname] != 1 {
		t.Errorf("unexpected routing: %v", got)
	}
}

func TestStopCancelsEverything(t *testing.T) {
	s := New()
	var fired atomic.Int32
	s.Handle(types.FeatureMusic, func(types.SessionKey) { fired.Add(1) })

	s.Reset(key, 20*time.Millisecond)
	s.Stop()
	s.Reset(key, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("deadline fired after Stop")
	}
	if s.Len() != 0 {
		t.Errorf("expected no pending deadlines, got %d", s.Len())
	}
}
