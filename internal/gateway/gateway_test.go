package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGatewayCallReturnsHandlerResult(t *testing.T) {
	gw := New(2)
	gw.Start(context.Background())
	defer gw.Stop()

	want := errors.New("handler failed")
	err := gw.Call(context.Background(), "g:music", "test", func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected handler error, got %v", err)
	}

	if err := gw.Call(context.Background(), "g:music", "test", func(context.Context) error { return nil }); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestGatewayDispatchRunsBeforeLaterCall(t *testing.T) {
	gw := New(2)
	gw.Start(context.Background())
	defer gw.Stop()

	var dispatched atomic.Bool
	if err := gw.Dispatch("g:music", "first", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		dispatched.Store(true)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	err := gw.Call(context.Background(), "g:music", "second", func(context.Context) error {
		if !dispatched.Load() {
			return errors.New("second event ran before first")
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}
}

func TestGatewayCallHonoursContext(t *testing.T) {
	gw := New(1)
	gw.Start(context.Background())
	defer gw.Stop()

	block := make(chan struct{})
	defer close(block)
	if err := gw.Dispatch("g:music", "slow", func(context.Context) error {
		<-block
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := gw.Call(ctx, "g:music", "waiting", func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
