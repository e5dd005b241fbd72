// Package voicetrap implements one-shot voice traps: when the target joins
// the channel the trap was set in, everyone else there is moved elsewhere.
package voicetrap

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNotInVoice is returned when the trap setter is not in a voice channel.
var ErrNotInVoice = errors.New("setter not in a voice channel")

// Guild moves members between voice channels.
type Guild interface {
	VoiceMembers(guildID, channelID string) ([]string, error)
	MoveMember(ctx context.Context, guildID, userID, channelID string) error
}

// Trap is one armed trap.
type Trap struct {
	SetterID      string
	SourceID      string
	DestinationID string
}

// Registry holds armed traps per guild and target.
type Registry struct {
	guild    Guild
	parallel int

	mu    sync.Mutex
	traps map[string]map[string]Trap // guild -> target -> trap
}

// New creates an empty Registry.
func New(guild Guild) *Registry {
	return &Registry{guild: guild, parallel: 4, traps: make(map[string]map[string]Trap)}
}

// Set arms a trap on targetID. The trap fires in the setter's current voice
// channel. A newer trap on the same target replaces the older one.
func (r *Registry) Set(guildID, targetID, setterID, setterChannelID, destinationID string) error {
	if setterChannelID == "" {
		return ErrNotInVoice
	}
	if destinationID == setterChannelID {
		return errors.New("destination is the trapped channel")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.traps[guildID] == nil {
		r.traps[guildID] = make(map[string]Trap)
	}
	r.traps[guildID][targetID] = Trap{SetterID: setterID, SourceID: setterChannelID, DestinationID: destinationID}
	slog.Info("voice trap set", "guild", guildID, "target", targetID, "setter", setterID, "source", setterChannelID, "destination", destinationID)
	return nil
}

// Armed returns the trap on targetID, if any.
func (r *Registry) Armed(guildID, targetID string) (Trap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traps[guildID][targetID]
	return t, ok
}

// take removes and returns the trap if userID just joined its source channel.
func (r *Registry) take(guildID, userID, channelID string) (Trap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traps[guildID][userID]
	if !ok || channelID == "" || t.SourceID != channelID {
		return Trap{}, false
	}
	delete(r.traps[guildID], userID)
	if len(r.traps[guildID]) == 0 {
		delete(r.traps, guildID)
	}
	return t, true
}

// VoiceStateChanged is called for every voice state update. It reports how
// many members were moved.
func (r *Registry) VoiceStateChanged(ctx context.Context, guildID, userID, channelID string) (int, error) {
	trap, ok := r.take(guildID, userID, channelID)
	if !ok {
		return 0, nil
	}
	members, err := r.guild.VoiceMembers(guildID, channelID)
	if err != nil {
		return 0, err
	}

	var (
		mu    sync.Mutex
		moved int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for _, m := range members {
		if m == userID {
			continue
		}
		g.Go(func() error {
			if err := r.guild.MoveMember(gctx, guildID, m, trap.DestinationID); err != nil {
				slog.Warn("voice trap move failed", "guild", guildID, "user", m, "error", err)
				return nil
			}
			mu.Lock()
			moved++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("voice trap sprung", "guild", guildID, "target", userID, "moved", moved)
	return moved, nil
}
