// Package scoreboard keeps a per-guild tally of which side a team started on,
// shown as one persistent message with a button per side. The message is
// re-attached on startup so its buttons keep working across restarts.
package scoreboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
)

// Service owns the scoreboard sessions, one per guild.
type Service struct {
	store *session.Store
	gw    *gateway.Gateway
	recon *render.Reconciler
}

// New creates a Service.
func New(store *session.Store, gw *gateway.Gateway, recon *render.Reconciler) *Service {
	return &Service{store: store, gw: gw, recon: recon}
}

// Key returns the scoreboard session key of guildID.
func Key(guildID string) types.SessionKey {
	return types.NewSessionKey(guildID, types.FeatureScoreboard)
}

// Setup shows the guild's scoreboard in channelID, creating it on first use.
// A board already shown elsewhere moves to channelID.
func (s *Service) Setup(ctx context.Context, guildID, channelID string) error {
	key := Key(guildID)
	return s.gw.Call(ctx, key, "scoreboard_setup", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.OpenScoreboard(channelID, now)
		})
		if err != nil {
			return err
		}
		if out.Kind == session.OutcomeStarted {
			slog.Info("scoreboard created", "guild", guildID, "channel", channelID)
		}
		return s.recon.Sync(ctx, s.store, snap, render.Scoreboard(snap), false)
	})
}

// Score adds one to side and returns the updated tally.
func (s *Service) Score(ctx context.Context, guildID, userName string, side types.Side) (types.Scoreboard, error) {
	key := Key(guildID)
	var tally types.Scoreboard
	err := s.gw.Call(ctx, key, "scoreboard_score", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.Score(side, now)
		})
		if err != nil {
			return err
		}
		if err := out.Err(); err != nil {
			return err
		}
		tally = *snap.Scoreboard
		slog.Info("scoreboard incremented", "guild", guildID, "user", userName, "side", side,
			"attack", tally.Attack, "defend", tally.Defend)
		return s.recon.Sync(ctx, s.store, snap, render.Scoreboard(snap), false)
	})
	return tally, err
}

// Reset zeroes the guild's tally.
func (s *Service) Reset(ctx context.Context, guildID string) error {
	key := Key(guildID)
	return s.gw.Call(ctx, key, "scoreboard_reset", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.ResetScoreboard(now)
		})
		if err != nil {
			return err
		}
		if err := out.Err(); err != nil {
			return err
		}
		if !out.Render {
			return nil
		}
		slog.Info("scoreboard reset", "guild", guildID)
		return s.recon.Sync(ctx, s.store, snap, render.Scoreboard(snap), false)
	})
}

// Current returns the guild's tally, or nil when it has no scoreboard.
func (s *Service) Current(guildID string) *types.Scoreboard {
	return s.store.View(Key(guildID)).Scoreboard
}

// Recover re-renders every restored scoreboard. The first apply after a
// restart always edits, which re-attaches the buttons to the old message; a
// message deleted while offline is posted again.
func (s *Service) Recover(ctx context.Context) {
	for _, key := range s.store.Keys(types.FeatureScoreboard) {
		if s.store.View(key).Scoreboard == nil {
			continue
		}
		key := key
		err := s.gw.Dispatch(key, "scoreboard_recover", func(ctx context.Context) error {
			snap := s.store.View(key)
			return s.recon.Sync(ctx, s.store, snap, render.Scoreboard(snap), false)
		})
		if err != nil {
			slog.Error("dispatch scoreboard recover", "session", string(key), "error", err)
		}
	}
}
