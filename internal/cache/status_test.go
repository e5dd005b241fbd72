package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stevebot/internal/fake"
	"github.com/user/stevebot/internal/types"
)

func TestFetchesOnlyMissingIDs(t *testing.T) {
	ctx := context.Background()
	p := &fake.Provider{}
	p.Set("1", types.ProviderStatus{Label: "Squad"})
	p.Set("2", types.ProviderStatus{Label: "DayZ"})
	c := NewStatusCache(p, time.Minute)

	got, err := c.FetchBatch(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, "Squad", got["1"].Label)

	got, err = c.FetchBatch(ctx, []string{"1", "2", "2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.Len(t, p.Batches, 2)
	assert.Equal(t, []string{"2"}, p.Batches[1])
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &fake.Provider{}
	p.Set("1", types.ProviderStatus{Label: "Squad"})
	c := NewStatusCache(p, time.Minute)
	c.SetClock(func() time.Time { return now })

	_, err := c.FetchBatch(ctx, []string{"1"})
	require.NoError(t, err)
	_, err = c.FetchBatch(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Calls())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, c.Purge())
	_, err = c.FetchBatch(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Calls())
}

func TestUnknownIDsAreNotCached(t *testing.T) {
	ctx := context.Background()
	p := &fake.Provider{}
	c := NewStatusCache(p, time.Minute)

	got, err := c.FetchBatch(ctx, []string{"ghost"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.FetchBatch(ctx, []string{"ghost"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Calls())
}

func TestErrorsPassThrough(t *testing.T) {
	p := &fake.Provider{Err: types.ErrProviderRateLimited}
	c := NewStatusCache(p, time.Minute)

	_, err := c.FetchBatch(context.Background(), []string{"1"})
	assert.True(t, errors.Is(err, types.ErrProviderRateLimited))
}

type slowProvider struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (s *slowProvider) FetchBatch(_ context.Context, ids []string) (map[string]types.ProviderStatus, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.gate
	out := make(map[string]types.ProviderStatus)
	for _, id := range ids {
		out[id] = types.ProviderStatus{Label: "x"}
	}
	return out, nil
}

func TestConcurrentFetchesCoalesce(t *testing.T) {
	p := &slowProvider{gate: make(chan struct{})}
	c := NewStatusCache(p, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.FetchBatch(context.Background(), []string{"b", "a"})
			assert.NoError(t, err)
			assert.Len(t, got, 2)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.calls)
}
