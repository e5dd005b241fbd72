// Package player runs the music feature: one queue and one now-playing
// artifact per guild.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/idle"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
)

// ErrNotInVoice is returned when the requester is not in a voice channel.
var ErrNotInVoice = errors.New("requester not in a voice channel")

// Options configures a Service.
type Options struct {
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	Render         render.PlayerOptions
	// CleanupOnEmpty deletes the now-playing artifact once nothing is
	// playing or queued instead of showing the idle card.
	CleanupOnEmpty bool
}

// Request is one enqueue request from a user.
type Request struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	Query          string
	RequesterID    string
	RequesterName  string
}

// Result reports where an enqueued item landed. Position 0 means it started
// playing at once.
type Result struct {
	Item     types.QueueItem
	Position int
}

// Service owns the music sessions.
type Service struct {
	store     *session.Store
	gw        *gateway.Gateway
	resolver  types.MediaResolver
	transport types.VoiceTransport
	recon     *render.Reconciler
	idle      *idle.Supervisor
	opts      Options

	mu      sync.Mutex
	handles map[string]types.VoiceHandle // guild id -> connected voice
}

// New creates a Service and registers its idle handler with sup.
func New(store *session.Store, gw *gateway.Gateway, resolver types.MediaResolver, transport types.VoiceTransport, recon *render.Reconciler, sup *idle.Supervisor, opts Options) *Service {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	s := &Service{
		store:     store,
		gw:        gw,
		resolver:  resolver,
		transport: transport,
		recon:     recon,
		idle:      sup,
		opts:      opts,
		handles:   make(map[string]types.VoiceHandle),
	}
	sup.Handle(types.FeatureMusic, s.onIdle)
	return s
}

// Key returns the music session key of guildID.
func Key(guildID string) types.SessionKey {
	return types.NewSessionKey(guildID, types.FeatureMusic)
}

// Enqueue resolves req.Query and appends it to the guild's queue. Resolution
// happens before the session is touched; a failed resolution or voice
// connect leaves the session unchanged.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Result, error) {
	if req.VoiceChannelID == "" {
		return nil, ErrNotInVoice
	}
	media, err := s.resolver.Resolve(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	item := types.QueueItem{
		ID:            types.NewItemID(),
		Source:        media.Source,
		SourceQuery:   req.Query,
		Title:         media.Title,
		MediaRef:      media.MediaRef,
		ThumbnailRef:  media.ThumbnailRef,
		RequesterID:   req.RequesterID,
		RequesterName: req.RequesterName,
	}

	key := Key(req.GuildID)
	res := &Result{Item: item}
	err = s.gw.Call(ctx, key, "enqueue", func(ctx context.Context) error {
		voiceChannel := req.VoiceChannelID
		if !s.store.View(key).Active {
			h, err := s.connect(ctx, req.GuildID, req.VoiceChannelID)
			if err != nil {
				return err
			}
			voiceChannel = h.ChannelID
		}
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			if sess.ChannelID == "" && req.TextChannelID != "" {
				sess.SetChannel(req.TextChannelID)
			}
			if !sess.Active {
				sess.SetVoiceChannel(voiceChannel)
			}
			return sess.Enqueue(item, now)
		})
		if err != nil {
			return err
		}
		if out.Kind == session.OutcomeQueued {
			res.Position = len(snap.Queue)
		}
		return s.effects(ctx, key, out, snap)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("track queued", "guild", req.GuildID, "title", item.Title, "position", res.Position, "source", string(item.Source))
	return res, nil
}

// Skip advances past the current item.
func (s *Service) Skip(ctx context.Context, guildID string) error {
	key := Key(guildID)
	return s.gw.Call(ctx, key, "skip", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.Skip(now)
		})
		if err != nil {
			return err
		}
		if err := out.Err(); err != nil {
			return err
		}
		if out.Kind == session.OutcomeDrained {
			if h, ok := s.handle(guildID); ok {
				if err := s.transport.Stop(ctx, h); err != nil {
					slog.Warn("stop after skip failed", "guild", guildID, "error", err)
				}
			}
		}
		return s.effects(ctx, key, out, snap)
	})
}

// TogglePause flips the pause state and returns the new state.
func (s *Service) TogglePause(ctx context.Context, guildID string) (bool, error) {
	key := Key(guildID)
	var paused bool
	err := s.gw.Call(ctx, key, "pause", func(ctx context.Context) error {
		view := s.store.View(key)
		if !view.Active {
			return types.ErrNoActiveSession
		}
		h, ok := s.handle(guildID)
		if !ok {
			return fmt.Errorf("pause: %w", types.ErrTransportUnavailable)
		}
		paused = !view.Paused
		if err := s.transport.SetPaused(ctx, h, paused); err != nil {
			return err
		}
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.SetPaused(paused, now)
		})
		if err != nil {
			return err
		}
		return s.effects(ctx, key, out, snap)
	})
	return paused, err
}

// Setup binds the guild's now-playing artifact to channelID and shows the
// current state there.
func (s *Service) Setup(ctx context.Context, guildID, channelID string) error {
	key := Key(guildID)
	return s.gw.Call(ctx, key, "setup", func(ctx context.Context) error {
		_, snap, err := s.store.Update(ctx, key, func(sess *session.Session, _ time.Time) session.Outcome {
			out := sess.SetChannel(channelID)
			out.Persist = true
			return out
		})
		if err != nil {
			return err
		}
		return s.recon.Sync(ctx, s.store, snap, render.Player(snap, s.opts.Render), s.opts.CleanupOnEmpty)
	})
}

// ChannelID returns the text channel bound to guildID's music session.
func (s *Service) ChannelID(guildID string) string {
	return s.store.View(Key(guildID)).ChannelID
}

// TransportLost handles the voice connection being dropped from outside. The
// current item is dropped and the queue kept.
func (s *Service) TransportLost(guildID string) {
	s.mu.Lock()
	_, had := s.handles[guildID]
	delete(s.handles, guildID)
	s.mu.Unlock()
	if !had {
		return
	}
	key := Key(guildID)
	err := s.gw.Dispatch(key, "transport_lost", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.Halt(now)
		})
		if err != nil {
			return err
		}
		slog.Warn("voice connection lost", "guild", guildID, "outcome", out.Kind.String())
		return s.effects(ctx, key, out, snap)
	})
	if err != nil {
		slog.Error("dispatch transport lost", "guild", guildID, "error", err)
	}
}

// Resume restarts playback of sessions that were active when the process
// stopped. Sessions whose voice channel cannot be rejoined are halted.
func (s *Service) Resume(ctx context.Context) {
	for _, key := range s.store.Keys(types.FeatureMusic) {
		key := key
		guildID := key.Context()
		err := s.gw.Dispatch(key, "resume", func(ctx context.Context) error {
			view := s.store.View(key)
			if !view.Active || view.Current == nil {
				if view.Display != nil {
					return s.recon.Sync(ctx, s.store, view, render.Player(view, s.opts.Render), s.opts.CleanupOnEmpty)
				}
				return nil
			}
			if view.VoiceChannelID != "" {
				_, err := s.connect(ctx, guildID, view.VoiceChannelID)
				if err == nil {
					slog.Info("resuming playback", "guild", guildID, "title", view.Current.Title)
					out := session.Outcome{Kind: session.OutcomeStarted, Current: view.Current, Render: true}
					return s.effects(ctx, key, out, view)
				}
				slog.Warn("resume connect failed", "guild", guildID, "error", err)
			}
			out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
				return sess.Halt(now)
			})
			if err != nil {
				return err
			}
			return s.effects(ctx, key, out, snap)
		})
		if err != nil {
			slog.Error("dispatch resume", "session", string(key), "error", err)
		}
	}
}

// effects runs what a transition asked for, in lane order.
func (s *Service) effects(ctx context.Context, key types.SessionKey, out session.Outcome, snap *session.Session) error {
	if out.CancelIdle {
		s.idle.Cancel(key)
	}
	var playErr error
	if out.Current != nil {
		if playErr = s.play(ctx, key, snap, *out.Current); playErr != nil {
			slog.Error("play failed", "session", string(key), "title", out.Current.Title, "error", playErr)
			halted, hsnap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
				return sess.Halt(now)
			})
			if err != nil {
				return errors.Join(playErr, err)
			}
			out, snap = halted, hsnap
		}
	}
	if out.StartIdle {
		s.idle.Reset(key, s.opts.IdleTimeout)
	}
	if out.Render {
		if err := s.recon.Sync(ctx, s.store, snap, render.Player(snap, s.opts.Render), s.opts.CleanupOnEmpty); err != nil {
			slog.Warn("render now playing", "session", string(key), "error", err)
		}
	}
	return playErr
}

func (s *Service) play(ctx context.Context, key types.SessionKey, snap *session.Session, item types.QueueItem) error {
	guildID := key.Context()
	h, ok := s.handle(guildID)
	if !ok {
		if snap.VoiceChannelID == "" {
			return fmt.Errorf("play %s: no voice channel: %w", item.Title, types.ErrTransportUnavailable)
		}
		var err error
		if h, err = s.connect(ctx, guildID, snap.VoiceChannelID); err != nil {
			return err
		}
	}
	id := item.ID
	return s.transport.Play(ctx, h, item.MediaRef, func() {
		err := s.gw.Dispatch(key, "complete", func(ctx context.Context) error {
			return s.advanceFrom(ctx, key, id)
		})
		if err != nil {
			slog.Error("dispatch completion", "session", string(key), "error", err)
		}
	})
}

func (s *Service) advanceFrom(ctx context.Context, key types.SessionKey, id types.ItemID) error {
	out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
		return sess.AdvanceFrom(id, now)
	})
	if err != nil {
		return err
	}
	if out.Kind == session.OutcomeStale {
		slog.Debug("stale completion ignored", "session", string(key), "item", string(id))
		return nil
	}
	return s.effects(ctx, key, out, snap)
}

// onIdle runs when a music session's idle deadline passes. Activity may have
// resumed since, so the session is re-checked inside the lane.
func (s *Service) onIdle(key types.SessionKey) {
	err := s.gw.Dispatch(key, "idle", func(ctx context.Context) error {
		if s.store.View(key).Active {
			slog.Debug("idle deadline superseded", "session", string(key))
			return nil
		}
		guildID := key.Context()
		h, ok := s.handle(guildID)
		if !ok {
			return nil
		}
		s.mu.Lock()
		delete(s.handles, guildID)
		s.mu.Unlock()
		slog.Info("disconnecting after inactivity", "guild", guildID)
		return s.transport.Disconnect(ctx, h)
	})
	if err != nil {
		slog.Error("dispatch idle", "session", string(key), "error", err)
	}
}

func (s *Service) connect(ctx context.Context, guildID, channelID string) (types.VoiceHandle, error) {
	if h, ok := s.handle(guildID); ok {
		return h, nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	h, err := s.transport.Connect(cctx, guildID, channelID)
	if err != nil {
		if !errors.Is(err, types.ErrTransportUnavailable) {
			err = errors.Join(err, types.ErrTransportUnavailable)
		}
		return h, fmt.Errorf("connect voice: %w", err)
	}
	s.mu.Lock()
	s.handles[guildID] = h
	s.mu.Unlock()
	return h, nil
}

func (s *Service) handle(guildID string) (types.VoiceHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[guildID]
	return h, ok
}

// Connected reports whether guildID has a live voice connection.
func (s *Service) Connected(guildID string) bool {
	_, ok := s.handle(guildID)
	return ok
}
