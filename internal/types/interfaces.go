// internal/types/interfaces.go
package types

import (
	"context"
)

// ChatSurface creates and maintains messages. Implementations return errors
// wrapping ErrArtifactMissing when the message no longer exists and
// ErrArtifactPermissionDenied when the bot may not touch it.
type ChatSurface interface {
	CreateMessage(ctx context.Context, channelID string, content Content) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, content Content) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// VoiceTransport plays media into a voice resource. onComplete fires once
// when the track ends on its own.
type VoiceTransport interface {
	Connect(ctx context.Context, guildID, channelID string) (VoiceHandle, error)
	Play(ctx context.Context, h VoiceHandle, mediaRef string, onComplete func()) error
	SetPaused(ctx context.Context, h VoiceHandle, paused bool) error
	Stop(ctx context.Context, h VoiceHandle) error
	Disconnect(ctx context.Context, h VoiceHandle) error
}

// ResolvedMedia is the normalized result of a media lookup.
type ResolvedMedia struct {
	Title        string
	MediaRef     string
	ThumbnailRef string
	Source       SourceKind
}

// MediaResolver maps raw user input to playable media, or ErrResolutionFailed.
type MediaResolver interface {
	Resolve(ctx context.Context, query string) (*ResolvedMedia, error)
}

// StatusProvider fetches statuses for a set of external ids. Ids missing from
// the result are unknown for this call. Rate limiting is reported by wrapping
// ErrProviderRateLimited.
type StatusProvider interface {
	FetchBatch(ctx context.Context, ids []string) (map[string]ProviderStatus, error)
}

// SnapshotStore persists session snapshots keyed by session key.
type SnapshotStore interface {
	Load(ctx context.Context) (map[SessionKey]*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context, key SessionKey) error
	Close() error
}
