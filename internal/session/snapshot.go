package session

import (
	"slices"

	"github.com/user/stevebot/internal/types"
)

// Snapshot returns the persisted subset of the session. The queue is written
// current-first.
func (s *Session) Snapshot() *types.Snapshot {
	snap := &types.Snapshot{
		Key:            s.Key,
		ChannelID:      s.ChannelID,
		VoiceChannelID: s.VoiceChannelID,
		Playing:        s.Current != nil,
	}
	if s.Display != nil {
		ref := *s.Display
		snap.Display = &ref
	}
	if s.Current != nil {
		snap.Queue = append(snap.Queue, *s.Current)
	}
	snap.Queue = append(snap.Queue, s.Queue...)
	snap.Tracked = copyTracked(s.Tracked)
	snap.Giveaway = copyGiveaway(s.Giveaway)
	snap.Nicknames = copyNicknames(s.Nicknames)
	snap.Scoreboard = copyScoreboard(s.Scoreboard)
	return snap
}

// FromSnapshot rebuilds a session from its persisted form.
func FromSnapshot(snap *types.Snapshot) *Session {
	s := &Session{
		Key:            snap.Key,
		ChannelID:      snap.ChannelID,
		VoiceChannelID: snap.VoiceChannelID,
		LastActivity:   snap.UpdatedAt,
	}
	if snap.Display != nil {
		ref := *snap.Display
		s.Display = &ref
	}
	queue := slices.Clone(snap.Queue)
	if snap.Playing && len(queue) > 0 {
		current := queue[0]
		s.Current = &current
		s.Active = true
		queue = queue[1:]
	}
	if len(queue) > 0 {
		s.Queue = queue
	}
	s.Tracked = copyTracked(snap.Tracked)
	s.Giveaway = copyGiveaway(snap.Giveaway)
	s.Nicknames = copyNicknames(snap.Nicknames)
	s.Scoreboard = copyScoreboard(snap.Scoreboard)
	return s
}

// Copy returns a deep copy safe to read without holding the session lock.
func (s *Session) Copy() *Session {
	c := *s
	c.Queue = slices.Clone(s.Queue)
	if s.Current != nil {
		cur := *s.Current
		c.Current = &cur
	}
	if s.Display != nil {
		ref := *s.Display
		c.Display = &ref
	}
	c.Tracked = copyTracked(s.Tracked)
	c.Giveaway = copyGiveaway(s.Giveaway)
	c.Nicknames = copyNicknames(s.Nicknames)
	c.Scoreboard = copyScoreboard(s.Scoreboard)
	return &c
}

func copyTracked(in map[string]*types.TrackedEntity) map[string]*types.TrackedEntity {
	if in == nil {
		return nil
	}
	out := make(map[string]*types.TrackedEntity, len(in))
	for k, e := range in {
		c := *e
		if e.LastKnownLabel != nil {
			l := *e.LastKnownLabel
			c.LastKnownLabel = &l
		}
		out[k] = &c
	}
	return out
}

func copyGiveaway(g *types.Giveaway) *types.Giveaway {
	if g == nil {
		return nil
	}
	c := *g
	c.Entries = slices.Clone(g.Entries)
	return &c
}

func copyNicknames(n *types.NicknameRestore) *types.NicknameRestore {
	if n == nil {
		return nil
	}
	c := types.NicknameRestore{ExpiresAt: n.ExpiresAt, Originals: make(map[string]string, len(n.Originals))}
	for k, v := range n.Originals {
		c.Originals[k] = v
	}
	return &c
}

func copyScoreboard(b *types.Scoreboard) *types.Scoreboard {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
