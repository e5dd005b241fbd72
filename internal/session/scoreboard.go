package session

import (
	"time"

	"github.com/user/stevebot/internal/types"
)

// OpenScoreboard creates the scoreboard on first use and binds it to
// channelID. Counts already recorded are kept.
func (s *Session) OpenScoreboard(channelID string, now time.Time) Outcome {
	moved := s.SetChannel(channelID)
	if s.Scoreboard == nil {
		s.LastActivity = now
		s.Scoreboard = &types.Scoreboard{}
		return Outcome{Kind: OutcomeStarted, Render: true, Persist: true}
	}
	return moved
}

// Score adds one to side. Without a scoreboard there is nothing to count.
func (s *Session) Score(side types.Side, now time.Time) Outcome {
	if s.Scoreboard == nil {
		return Outcome{Kind: OutcomeNoActiveSession}
	}
	switch side {
	case types.SideAttack:
		s.Scoreboard.Attack++
	case types.SideDefend:
		s.Scoreboard.Defend++
	default:
		return Outcome{Kind: OutcomeNone}
	}
	s.LastActivity = now
	return Outcome{Kind: OutcomeChanged, Render: true, Persist: true}
}

// ResetScoreboard zeroes both counts.
func (s *Session) ResetScoreboard(now time.Time) Outcome {
	if s.Scoreboard == nil {
		return Outcome{Kind: OutcomeNoActiveSession}
	}
	if *s.Scoreboard == (types.Scoreboard{}) {
		return Outcome{Kind: OutcomeNone}
	}
	s.LastActivity = now
	s.Scoreboard = &types.Scoreboard{}
	return Outcome{Kind: OutcomeChanged, Render: true, Persist: true}
}
