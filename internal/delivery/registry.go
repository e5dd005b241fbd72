// internal/delivery/registry.go
package delivery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/user/stevebot/internal/types"
)

// Registry routes chat surface calls to the surface registered for the
// channel id's prefix (e.g. "telegram:"). Channel ids without a registered
// prefix go to the fallback surface.
type Registry struct {
	mu       sync.RWMutex
	surfaces map[string]types.ChatSurface
	fallback types.ChatSurface
}

var _ types.ChatSurface = (*Registry)(nil)

// NewRegistry creates a registry with fallback as the default surface. The
// fallback may be nil.
func NewRegistry(fallback types.ChatSurface) *Registry {
	return &Registry{
		surfaces: make(map[string]types.ChatSurface),
		fallback: fallback,
	}
}

// Register adds a surface for channel ids starting with prefix.
func (r *Registry) Register(prefix string, surface types.ChatSurface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces[prefix] = surface
}

// SetFallback replaces the default surface.
func (r *Registry) SetFallback(surface types.ChatSurface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = surface
}

// Prefixes returns the registered prefixes, sorted.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.surfaces))
	for p := range r.surfaces {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) route(channelID string) (types.ChatSurface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Longest prefix wins.
	var (
		best    types.ChatSurface
		bestLen = -1
	)
	for prefix, s := range r.surfaces {
		if strings.HasPrefix(channelID, prefix) && len(prefix) > bestLen {
			best, bestLen = s, len(prefix)
		}
	}
	if best != nil {
		return best, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no surface for channel %q: %w", channelID, types.ErrTransportUnavailable)
}

func (r *Registry) CreateMessage(ctx context.Context, channelID string, content types.Content) (string, error) {
	s, err := r.route(channelID)
	if err != nil {
		return "", err
	}
	return s.CreateMessage(ctx, channelID, content)
}

func (r *Registry) EditMessage(ctx context.Context, channelID, messageID string, content types.Content) error {
	s, err := r.route(channelID)
	if err != nil {
		return err
	}
	return s.EditMessage(ctx, channelID, messageID, content)
}

func (r *Registry) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	s, err := r.route(channelID)
	if err != nil {
		return err
	}
	return s.DeleteMessage(ctx, channelID, messageID)
}
