package session

import (
	"github.com/user/stevebot/internal/types"
)

// Track registers (or replaces) the entity owned by e.OwnerID.
func (s *Session) Track(e types.TrackedEntity) Outcome {
	if s.Tracked == nil {
		s.Tracked = make(map[string]*types.TrackedEntity)
	}
	if prev, ok := s.Tracked[e.OwnerID]; ok && prev.ExternalID == e.ExternalID && prev.ChannelID == e.ChannelID {
		if e.DisplayName == "" || prev.DisplayName == e.DisplayName {
			return Outcome{Kind: OutcomeNone}
		}
	}
	entity := e
	entity.LastKnownLabel = nil
	s.Tracked[e.OwnerID] = &entity
	return Outcome{Kind: OutcomeChanged, Render: true, Persist: true}
}

// Untrack removes the entity owned by ownerID.
func (s *Session) Untrack(ownerID string) Outcome {
	if _, ok := s.Tracked[ownerID]; !ok {
		return Outcome{Kind: OutcomeNone}
	}
	delete(s.Tracked, ownerID)
	return Outcome{Kind: OutcomeChanged, Render: true, Persist: true}
}

// ObservePoll applies one polled label to every entity tracking externalID
// and reports whether the display needs a re-render.
func (s *Session) ObservePoll(externalID string, label *string) bool {
	changed := false
	for _, e := range s.Tracked {
		if e.ExternalID != externalID {
			continue
		}
		if equalLabel(e.LastKnownLabel, label) {
			continue
		}
		if label == nil {
			e.LastKnownLabel = nil
		} else {
			l := *label
			e.LastKnownLabel = &l
		}
		changed = true
	}
	return changed
}

// ExternalIDs returns the distinct external ids this session tracks.
func (s *Session) ExternalIDs() []string {
	seen := make(map[string]bool, len(s.Tracked))
	ids := make([]string, 0, len(s.Tracked))
	for _, e := range s.Tracked {
		if seen[e.ExternalID] {
			continue
		}
		seen[e.ExternalID] = true
		ids = append(ids, e.ExternalID)
	}
	return ids
}

func equalLabel(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
