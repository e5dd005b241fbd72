package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/stevebot/internal/types"
)

// ErrQueueClosed is returned when enqueueing after Stop.
var ErrQueueClosed = errors.New("queue closed")

// Queue manages per-session lanes with a global concurrency semaphore.
// Each session key gets its own FIFO channel so events for one session are
// handled sequentially, while the semaphore bounds how many sessions make
// progress at once.
type Queue struct {
	lanes     map[types.SessionKey]chan *Event
	semaphore *semaphore.Weighted
	active    atomic.Int64
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that lets up to maxConcurrent events run
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.SessionKey]chan *Event),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes and waits for in-flight
// handlers to return.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds an event to its session's lane, creating the lane on first
// use.
func (q *Queue) Enqueue(ev *Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.ctx == nil {
		return ErrQueueClosed
	}

	lane, exists := q.lanes[ev.Key]
	if !exists {
		lane = make(chan *Event, 256)
		q.lanes[ev.Key] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- ev:
		return nil
	default:
		return fmt.Errorf("queue full for session %s", ev.Key)
	}
}

func (q *Queue) processLane(lane chan *Event) {
	defer q.wg.Done()
	for {
		select {
		case ev, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				ev.finish(err)
				return
			}
			q.active.Add(1)
			err := q.handle(ev)
			q.active.Add(-1)
			q.semaphore.Release(1)
			if err != nil {
				slog.Error("event failed", "event_id", string(ev.ID), "session", string(ev.Key), "kind", ev.Kind, "error", err)
			}
			ev.finish(err)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) handle(ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if ev.Handle == nil {
		return nil
	}
	return ev.Handle(q.ctx)
}

// Lanes returns the number of session lanes created so far.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// WaitIdle blocks until no events are being handled, or the timeout expires.
// Returns true if idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
