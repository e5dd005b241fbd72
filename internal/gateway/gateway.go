// Package gateway serialises every session mutation through a per-key lane.
package gateway

import (
	"context"
	"fmt"

	"github.com/user/stevebot/internal/types"
)

// Gateway is the single entry point for events. Inbound commands, completion
// signals, timers and poll results all pass through it so that one session
// never sees two events concurrently.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway with the given cross-session concurrency limit.
func New(maxConcurrent int64) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Gateway{Queue: NewQueue(maxConcurrent)}
}

// Start initialises the gateway's context and starts the queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels outstanding work and waits for lanes to drain.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// Dispatch enqueues fn on key's lane without waiting for it.
func (g *Gateway) Dispatch(key types.SessionKey, kind string, fn func(ctx context.Context) error) error {
	if err := g.Queue.Enqueue(NewEvent(key, kind, fn)); err != nil {
		return fmt.Errorf("dispatch %s: %w", kind, err)
	}
	return nil
}

// Call enqueues fn on key's lane and waits for its result.
func (g *Gateway) Call(ctx context.Context, key types.SessionKey, kind string, fn func(ctx context.Context) error) error {
	ev := NewEvent(key, kind, fn)
	ev.done = make(chan error, 1)
	if err := g.Queue.Enqueue(ev); err != nil {
		return fmt.Errorf("dispatch %s: %w", kind, err)
	}
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
