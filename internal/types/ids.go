// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// Feature names the kind of stateful feature a session belongs to.
type Feature string

const (
	FeatureMusic      Feature = "music"
	FeatureDashboard  Feature = "dashboard"
	FeatureGiveaway   Feature = "giveaway"
	FeatureNickname   Feature = "nickname"
	FeatureScoreboard Feature = "scoreboard"
)

// SessionKey identifies a session as "<context>:<feature>". The context is a
// guild id for guild-wide features and a channel id for dashboards.
type SessionKey string

type ItemID string
type GiveawayID string
type EventID string

func NewItemID() ItemID {
	return ItemID(uuid.New().String())
}

func NewGiveawayID() GiveawayID {
	return GiveawayID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewSessionKey(contextID string, feature Feature) SessionKey {
	return SessionKey(contextID + ":" + string(feature))
}

// Context returns the context id part of the key.
func (k SessionKey) Context() string {
	i := strings.LastIndex(string(k), ":")
	if i < 0 {
		return string(k)
	}
	return string(k)[:i]
}

// Feature returns the feature part of the key, or "" for malformed keys.
func (k SessionKey) Feature() Feature {
	i := strings.LastIndex(string(k), ":")
	if i < 0 {
		return ""
	}
	return Feature(string(k)[i+1:])
}
