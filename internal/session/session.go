// Package session holds per-key session state and the transitions that
// mutate it. Transitions are synchronous and never perform I/O; they return
// an Outcome telling the caller which effects to run.
package session

import (
	"time"

	"github.com/user/stevebot/internal/types"
)

// OutcomeKind classifies the result of a transition.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeStarted
	OutcomeQueued
	OutcomeAdvanced
	OutcomeDrained
	OutcomeChanged
	OutcomeStale
	OutcomeNoActiveSession
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStarted:
		return "started"
	case OutcomeQueued:
		return "queued"
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeDrained:
		return "drained"
	case OutcomeChanged:
		return "changed"
	case OutcomeStale:
		return "stale"
	case OutcomeNoActiveSession:
		return "no_active_session"
	default:
		return "none"
	}
}

// Outcome is what a transition produced and which effects it requests.
type Outcome struct {
	Kind OutcomeKind
	// Current is a copy of the item that became current, if any.
	Current    *types.QueueItem
	Render     bool
	Persist    bool
	StartIdle  bool
	CancelIdle bool
}

// Err maps outcomes that represent a refused operation onto the error taxonomy.
func (o Outcome) Err() error {
	if o.Kind == OutcomeNoActiveSession {
		return types.ErrNoActiveSession
	}
	return nil
}

// Session is the mutable state of one (context, feature) pair.
//
// Invariants outside of a transition: Current != nil implies Active, and
// Active implies Current != nil.
type Session struct {
	Key            types.SessionKey
	Queue          []types.QueueItem
	Current        *types.QueueItem
	Active         bool
	Paused         bool
	Display        *types.DisplayRef
	ChannelID      string
	VoiceChannelID string
	Tracked        map[string]*types.TrackedEntity
	Giveaway       *types.Giveaway
	Nicknames      *types.NicknameRestore
	Scoreboard     *types.Scoreboard
	LastActivity   time.Time
}

// New returns an idle session for key.
func New(key types.SessionKey) *Session {
	return &Session{Key: key}
}

// Enqueue appends a resolved item. An idle session starts playing it at once.
func (s *Session) Enqueue(item types.QueueItem, now time.Time) Outcome {
	s.LastActivity = now
	s.Queue = append(s.Queue, item)
	if s.Active {
		return Outcome{Kind: OutcomeQueued, Render: true, Persist: true}
	}
	return s.startNext(OutcomeStarted)
}

// Advance moves the queue head into Current, or drains the session when the
// queue is empty. On an idle session it is a no-op.
func (s *Session) Advance(now time.Time) Outcome {
	if !s.Active {
		return Outcome{Kind: OutcomeNone}
	}
	s.LastActivity = now
	if len(s.Queue) > 0 {
		return s.startNext(OutcomeAdvanced)
	}
	s.Current = nil
	s.Active = false
	s.Paused = false
	return Outcome{Kind: OutcomeDrained, Render: true, Persist: true, StartIdle: true}
}

// AdvanceFrom handles a completion signal for itemID. Signals for anything
// other than the current item are stale duplicates.
func (s *Session) AdvanceFrom(itemID types.ItemID, now time.Time) Outcome {
	if s.Current == nil || s.Current.ID != itemID {
		return Outcome{Kind: OutcomeStale}
	}
	return s.Advance(now)
}

// Skip forces an advance. It requires an active session.
func (s *Session) Skip(now time.Time) Outcome {
	if !s.Active {
		return Outcome{Kind: OutcomeNoActiveSession}
	}
	return s.Advance(now)
}

// Halt drops Current after the transport was lost. The queue is kept.
func (s *Session) Halt(now time.Time) Outcome {
	if !s.Active {
		return Outcome{Kind: OutcomeNone}
	}
	s.LastActivity = now
	s.Current = nil
	s.Active = false
	s.Paused = false
	return Outcome{Kind: OutcomeDrained, Render: true, Persist: true, StartIdle: true}
}

// SetPaused toggles the pause flag of an active session.
func (s *Session) SetPaused(paused bool, now time.Time) Outcome {
	if !s.Active {
		return Outcome{Kind: OutcomeNoActiveSession}
	}
	s.LastActivity = now
	if s.Paused == paused {
		return Outcome{Kind: OutcomeNone}
	}
	s.Paused = paused
	return Outcome{Kind: OutcomeChanged, Render: true}
}

func (s *Session) startNext(kind OutcomeKind) Outcome {
	item := s.Queue[0]
	s.Queue = s.Queue[1:]
	s.Current = &item
	s.Active = true
	s.Paused = false
	current := item
	return Outcome{Kind: kind, Current: &current, Render: true, Persist: true, CancelIdle: true}
}

// SetDisplay records the artifact the reconciler now maintains.
func (s *Session) SetDisplay(ref *types.DisplayRef) Outcome {
	if equalRef(s.Display, ref) {
		return Outcome{Kind: OutcomeNone}
	}
	if ref == nil {
		s.Display = nil
	} else {
		r := *ref
		s.Display = &r
	}
	return Outcome{Kind: OutcomeChanged, Persist: true}
}

// SetChannel binds the session to the channel its artifact lives in. A
// Display left in the previous channel is kept so the next render can remove
// it before creating the new one.
func (s *Session) SetChannel(channelID string) Outcome {
	if s.ChannelID == channelID {
		return Outcome{Kind: OutcomeNone}
	}
	s.ChannelID = channelID
	return Outcome{Kind: OutcomeChanged, Render: true, Persist: true}
}

// SetVoiceChannel records the voice resource playback happens in.
func (s *Session) SetVoiceChannel(channelID string) Outcome {
	if s.VoiceChannelID == channelID {
		return Outcome{Kind: OutcomeNone}
	}
	s.VoiceChannelID = channelID
	return Outcome{Kind: OutcomeChanged, Persist: true}
}

// Valid reports whether the session satisfies its steady-state invariants.
func (s *Session) Valid() bool {
	if s.Current != nil && !s.Active {
		return false
	}
	if s.Active && s.Current == nil {
		return false
	}
	return true
}

func equalRef(a, b *types.DisplayRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
