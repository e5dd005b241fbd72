package session

import (
	"slices"
	"time"

	"github.com/user/stevebot/internal/types"
)

// StartGiveaway replaces any previous giveaway of this session.
func (s *Session) StartGiveaway(g types.Giveaway, now time.Time) Outcome {
	s.LastActivity = now
	g.Entries = slices.Clone(g.Entries)
	g.Ended = false
	g.WinnerID = ""
	s.Giveaway = &g
	s.Display = nil
	return Outcome{Kind: OutcomeStarted, Render: true, Persist: true}
}

// EnterGiveaway adds userID to the running giveaway. Entering twice is a
// no-op; entering a finished or missing giveaway reports no active session.
func (s *Session) EnterGiveaway(userID string, now time.Time) Outcome {
	if s.Giveaway == nil || s.Giveaway.Ended {
		return Outcome{Kind: OutcomeNoActiveSession}
	}
	if slices.Contains(s.Giveaway.Entries, userID) {
		return Outcome{Kind: OutcomeNone}
	}
	s.LastActivity = now
	s.Giveaway.Entries = append(s.Giveaway.Entries, userID)
	return Outcome{Kind: OutcomeChanged, Render: true, Persist: true}
}

// FinishGiveaway closes the giveaway of id with winnerID ("" when nobody
// entered). Finishing twice is a no-op.
func (s *Session) FinishGiveaway(id types.GiveawayID, winnerID string, now time.Time) Outcome {
	if s.Giveaway == nil || s.Giveaway.ID != id {
		return Outcome{Kind: OutcomeStale}
	}
	if s.Giveaway.Ended {
		return Outcome{Kind: OutcomeNone}
	}
	s.LastActivity = now
	s.Giveaway.Ended = true
	s.Giveaway.WinnerID = winnerID
	return Outcome{Kind: OutcomeDrained, Render: true, Persist: true}
}

// SetNicknames records the originals to restore once the rename expires.
func (s *Session) SetNicknames(r types.NicknameRestore, now time.Time) Outcome {
	s.LastActivity = now
	originals := make(map[string]string, len(r.Originals))
	for k, v := range r.Originals {
		originals[k] = v
	}
	if s.Nicknames != nil {
		// Keep the oldest original when a user is renamed again before restore.
		for k, v := range s.Nicknames.Originals {
			originals[k] = v
		}
	}
	s.Nicknames = &types.NicknameRestore{Originals: originals, ExpiresAt: r.ExpiresAt}
	return Outcome{Kind: OutcomeStarted, Persist: true}
}

// ClearNicknames drops the pending restore.
func (s *Session) ClearNicknames() Outcome {
	if s.Nicknames == nil {
		return Outcome{Kind: OutcomeNone}
	}
	s.Nicknames = nil
	return Outcome{Kind: OutcomeDrained, Persist: true}
}
