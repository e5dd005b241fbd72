// internal/types/models.go
package types

import (
	"time"
)

// SourceKind tags where a QueueItem was resolved from.
type SourceKind string

const (
	SourceSearch  SourceKind = "search"
	SourceSpotify SourceKind = "spotify"
	SourceDirect  SourceKind = "direct"
)

// QueueItem is a resolved, playable unit. It is immutable once resolved.
type QueueItem struct {
	ID            ItemID     `json:"id"`
	Source        SourceKind `json:"source"`
	SourceQuery   string     `json:"source_query"`
	Title         string     `json:"title"`
	MediaRef      string     `json:"media_ref"`
	ThumbnailRef  string     `json:"thumbnail_ref,omitempty"`
	RequesterID   string     `json:"requester_id"`
	RequesterName string     `json:"requester_name,omitempty"`
}

// DisplayRef points at the remote artifact a session keeps in sync.
type DisplayRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// TrackedEntity is one external account watched by a dashboard session.
// A nil LastKnownLabel means no tracked activity has been observed.
type TrackedEntity struct {
	ExternalID     string  `json:"external_id"`
	ChannelID      string  `json:"channel_id"`
	OwnerID        string  `json:"owner_id"`
	DisplayName    string  `json:"display_name,omitempty"`
	LastKnownLabel *string `json:"last_known_label"`
}

// ProviderStatus is the normalized status of one external id.
type ProviderStatus struct {
	Label string            `json:"label"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Giveaway is the persisted state of a running or finished giveaway.
type Giveaway struct {
	ID        GiveawayID `json:"id"`
	Prize     string     `json:"prize"`
	HostID    string     `json:"host_id"`
	EndsAt    time.Time  `json:"ends_at"`
	Entries   []string   `json:"entries"`
	Ended     bool       `json:"ended"`
	WinnerID  string     `json:"winner_id,omitempty"`
	ChannelID string     `json:"channel_id"`
}

// NicknameRestore records the nicknames to put back once a themed rename expires.
type NicknameRestore struct {
	Originals map[string]string `json:"originals"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Scoreboard counts how often a team started on attack or on defense.
type Scoreboard struct {
	Attack int `json:"attack"`
	Defend int `json:"defend"`
}

// Side is one of the two starting sides a Scoreboard counts.
type Side string

const (
	SideAttack Side = "attack"
	SideDefend Side = "defend"
)

// Snapshot is the durable subset of a session. Queue is current-first: when
// Playing is true, Queue[0] was the current item at the time of the write.
type Snapshot struct {
	Key            SessionKey                `json:"key"`
	Display        *DisplayRef               `json:"display,omitempty"`
	ChannelID      string                    `json:"channel_id,omitempty"`
	VoiceChannelID string                    `json:"voice_channel_id,omitempty"`
	Playing        bool                      `json:"playing"`
	Queue          []QueueItem               `json:"queue,omitempty"`
	Tracked        map[string]*TrackedEntity `json:"tracked,omitempty"`
	Giveaway       *Giveaway                 `json:"giveaway,omitempty"`
	Nicknames      *NicknameRestore          `json:"nicknames,omitempty"`
	Scoreboard     *Scoreboard               `json:"scoreboard,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// VoiceHandle identifies a connected voice resource.
type VoiceHandle struct {
	GuildID   string
	ChannelID string
}
