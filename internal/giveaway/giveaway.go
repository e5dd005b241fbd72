// Package giveaway runs timed giveaways with an enter button and a uniformly
// drawn winner. State survives restarts; the end timer is rescheduled from the
// persisted deadline.
package giveaway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/idle"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
)

var (
	ErrInvalidDuration = errors.New("invalid duration")
	ErrAlreadyRunning  = errors.New("a giveaway is already running")
)

// ParseDuration parses "<n><unit>" with unit one of s, m, h or d.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return time.Duration(n) * unit, nil
}

// Service owns the giveaway sessions, one per guild.
type Service struct {
	store *session.Store
	gw    *gateway.Gateway
	recon *render.Reconciler
	idle  *idle.Supervisor
	now   func() time.Time
	pick  func(n int) int
}

// New creates a Service and registers its deadline handler with sup.
func New(store *session.Store, gw *gateway.Gateway, recon *render.Reconciler, sup *idle.Supervisor) *Service {
	s := &Service{
		store: store,
		gw:    gw,
		recon: recon,
		idle:  sup,
		now:   time.Now,
		pick:  rand.IntN,
	}
	sup.Handle(types.FeatureGiveaway, s.onDeadline)
	return s
}

// Key returns the giveaway session key of guildID.
func Key(guildID string) types.SessionKey {
	return types.NewSessionKey(guildID, types.FeatureGiveaway)
}

// Start opens a giveaway for prize in channelID that ends after d.
func (s *Service) Start(ctx context.Context, guildID, channelID, hostID, prize string, d time.Duration) (*types.Giveaway, error) {
	if d <= 0 {
		return nil, ErrInvalidDuration
	}
	prize = strings.TrimSpace(prize)
	if prize == "" {
		return nil, errors.New("prize is required")
	}
	key := Key(guildID)
	g := types.Giveaway{
		ID:        types.NewGiveawayID(),
		Prize:     prize,
		HostID:    hostID,
		EndsAt:    s.now().Add(d),
		ChannelID: channelID,
	}
	err := s.gw.Call(ctx, key, "giveaway_start", func(ctx context.Context) error {
		if cur := s.store.View(key).Giveaway; cur != nil && !cur.Ended {
			return ErrAlreadyRunning
		}
		_, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			sess.SetChannel(channelID)
			return sess.StartGiveaway(g, now)
		})
		if err != nil {
			return err
		}
		s.idle.ResetAt(key, g.EndsAt)
		return s.recon.Sync(ctx, s.store, snap, render.Giveaway(snap), false)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("giveaway started", "guild", guildID, "prize", prize, "ends_at", g.EndsAt)
	return &g, nil
}

// Enter adds userID to the guild's running giveaway. It reports false when the
// user had already entered.
func (s *Service) Enter(ctx context.Context, guildID, userID string) (bool, error) {
	key := Key(guildID)
	var entered bool
	err := s.gw.Call(ctx, key, "giveaway_enter", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.EnterGiveaway(userID, now)
		})
		if err != nil {
			return err
		}
		if err := out.Err(); err != nil {
			return err
		}
		if out.Kind != session.OutcomeChanged {
			return nil
		}
		entered = true
		return s.recon.Sync(ctx, s.store, snap, render.Giveaway(snap), false)
	})
	return entered, err
}

// Current returns the guild's giveaway, running or finished, or nil.
func (s *Service) Current(guildID string) *types.Giveaway {
	return s.store.View(Key(guildID)).Giveaway
}

// Finish ends giveaway id now and draws its winner. Finishing an old or
// already finished giveaway is a no-op.
func (s *Service) Finish(ctx context.Context, guildID string, id types.GiveawayID) error {
	key := Key(guildID)
	return s.gw.Call(ctx, key, "giveaway_finish", func(ctx context.Context) error {
		return s.finish(ctx, key, id)
	})
}

func (s *Service) finish(ctx context.Context, key types.SessionKey, id types.GiveawayID) error {
	out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
		winner := ""
		if g := sess.Giveaway; g != nil && g.ID == id && !g.Ended && len(g.Entries) > 0 {
			winner = g.Entries[s.pick(len(g.Entries))]
		}
		return sess.FinishGiveaway(id, winner, now)
	})
	if err != nil {
		return err
	}
	if out.Kind != session.OutcomeDrained {
		return nil
	}
	s.idle.Cancel(key)
	g := snap.Giveaway
	if g.WinnerID == "" {
		slog.Info("giveaway ended with no entries", "session", string(key), "prize", g.Prize)
	} else {
		slog.Info("giveaway won", "session", string(key), "prize", g.Prize, "winner", g.WinnerID, "entries", len(g.Entries))
	}
	return s.recon.Sync(ctx, s.store, snap, render.Giveaway(snap), false)
}

// onDeadline fires when a giveaway's end time passes.
func (s *Service) onDeadline(key types.SessionKey) {
	err := s.gw.Dispatch(key, "giveaway_deadline", func(ctx context.Context) error {
		g := s.store.View(key).Giveaway
		if g == nil || g.Ended {
			return nil
		}
		if wait := g.EndsAt.Sub(s.now()); wait > 0 {
			// Timer fired early relative to our clock; re-arm.
			s.idle.ResetAt(key, g.EndsAt)
			return nil
		}
		return s.finish(ctx, key, g.ID)
	})
	if err != nil {
		slog.Error("dispatch giveaway deadline", "session", string(key), "error", err)
	}
}

// Recover reschedules restored giveaways. Overdue ones are finished at once.
func (s *Service) Recover(ctx context.Context) {
	now := s.now()
	for _, key := range s.store.Keys(types.FeatureGiveaway) {
		g := s.store.View(key).Giveaway
		if g == nil || g.Ended {
			continue
		}
		if g.EndsAt.After(now) {
			slog.Info("giveaway restored", "session", string(key), "prize", g.Prize, "remaining", g.EndsAt.Sub(now).Round(time.Second))
			s.idle.ResetAt(key, g.EndsAt)
			continue
		}
		key, id := key, g.ID
		err := s.gw.Dispatch(key, "giveaway_recover", func(ctx context.Context) error {
			return s.finish(ctx, key, id)
		})
		if err != nil {
			slog.Error("dispatch giveaway recover", "session", string(key), "error", err)
		}
	}
}
