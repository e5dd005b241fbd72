// Package cache wraps a status provider with a short-lived result cache.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/stevebot/internal/types"
)

type statusEntry struct {
	status  types.ProviderStatus
	expires time.Time
}

// StatusCache is a StatusProvider that serves fresh entries from memory and
// fetches only the ids it is missing. Concurrent fetches for the same set of
// missing ids share one upstream call.
type StatusCache struct {
	upstream types.StatusProvider
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]statusEntry
	group   singleflight.Group
}

var _ types.StatusProvider = (*StatusCache)(nil)

// NewStatusCache caches results of upstream for ttl.
func NewStatusCache(upstream types.StatusProvider, ttl time.Duration) *StatusCache {
	return &StatusCache{
		upstream: upstream,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]statusEntry),
	}
}

// FetchBatch returns statuses for ids. Ids the upstream does not report are
// absent from the result and are not cached.
func (c *StatusCache) FetchBatch(ctx context.Context, ids []string) (map[string]types.ProviderStatus, error) {
	out := make(map[string]types.ProviderStatus, len(ids))
	missing := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))

	now := c.now()
	c.mu.Lock()
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if e, ok := c.entries[id]; ok && now.Before(e.expires) {
			out[id] = e.status
			continue
		}
		missing = append(missing, id)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	sort.Strings(missing)
	v, err, _ := c.group.Do(strings.Join(missing, ","), func() (any, error) {
		fetched, err := c.upstream.FetchBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		expires := c.now().Add(c.ttl)
		c.mu.Lock()
		for id, st := range fetched {
			c.entries[id] = statusEntry{status: st, expires: expires}
		}
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	for id, st := range v.(map[string]types.ProviderStatus) {
		out[id] = st
	}
	return out, nil
}

// Purge drops expired entries and returns how many remain.
func (c *StatusCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
	return len(c.entries)
}

// SetClock replaces the time source. Intended for tests.
func (c *StatusCache) SetClock(now func() time.Time) {
	c.now = now
}
