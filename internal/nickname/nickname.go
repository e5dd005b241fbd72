// Package nickname temporarily renames the members of a voice channel to
// generated themed nicknames and puts the originals back when the rename
// expires.
package nickname

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/idle"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
	"github.com/user/stevebot/pkg/llm"
)

// ErrNoMembers is returned when the channel holds nobody that can be renamed.
var ErrNoMembers = errors.New("no nicknamable members in channel")

// Member is one voice channel occupant.
type Member struct {
	ID   string
	Nick string // "" when the member has no guild nickname
	Bot  bool
}

// Guild is the slice of the chat platform the feature needs.
type Guild interface {
	VoiceMembers(guildID, channelID string) ([]Member, error)
	SetNickname(ctx context.Context, guildID, userID, nick string) error
}

// Options configures a Service.
type Options struct {
	Duration time.Duration
}

// Service owns the nickname sessions, one per guild.
type Service struct {
	store    *session.Store
	gw       *gateway.Gateway
	guild    Guild
	provider llm.Provider
	prompter *Prompter
	idle     *idle.Supervisor
	opts     Options
	now      func() time.Time
}

// New creates a Service and registers its expiry handler with sup. prompter
// may be nil, in which case themes are sent uncapped.
func New(store *session.Store, gw *gateway.Gateway, guild Guild, provider llm.Provider, prompter *Prompter, sup *idle.Supervisor, opts Options) *Service {
	if opts.Duration <= 0 {
		opts.Duration = 5 * time.Minute
	}
	s := &Service{
		store:    store,
		gw:       gw,
		guild:    guild,
		provider: provider,
		prompter: prompter,
		idle:     sup,
		opts:     opts,
		now:      time.Now,
	}
	sup.Handle(types.FeatureNickname, s.onExpire)
	return s
}

// Key returns the nickname session key of guildID.
func Key(guildID string) types.SessionKey {
	return types.NewSessionKey(guildID, types.FeatureNickname)
}

// Generate asks the model for count nicknames on theme.
func (s *Service) Generate(ctx context.Context, theme string, count int) ([]string, error) {
	messages, err := s.prompter.Build(theme, count)
	if err != nil {
		return nil, err
	}
	resp, err := s.provider.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generate nicknames: %w", err)
	}
	names := parseNames(resp.Content, count)
	if len(names) == 0 {
		return nil, errors.New("generate nicknames: empty reply")
	}
	slog.Debug("nicknames generated", "theme", theme, "count", len(names), "tokens", resp.Usage.TotalTokens)
	return names, nil
}

// Apply renames the non-bot members of channelID for the configured duration
// and returns how many were renamed.
func (s *Service) Apply(ctx context.Context, guildID, channelID, theme string) (int, error) {
	members, err := s.guild.VoiceMembers(guildID, channelID)
	if err != nil {
		return 0, fmt.Errorf("list voice members: %w", err)
	}
	humans := members[:0:0]
	for _, m := range members {
		if !m.Bot {
			humans = append(humans, m)
		}
	}
	if len(humans) == 0 {
		return 0, ErrNoMembers
	}

	names, err := s.Generate(ctx, theme, len(humans))
	if err != nil {
		return 0, err
	}
	if len(names) < len(humans) {
		humans = humans[:len(names)]
	}

	key := Key(guildID)
	renamed := 0
	err = s.gw.Call(ctx, key, "nickname_apply", func(ctx context.Context) error {
		// Originals are recorded before any rename so a crash mid-way still
		// restores everyone.
		restore := types.NicknameRestore{
			Originals: make(map[string]string, len(humans)),
			ExpiresAt: s.now().Add(s.opts.Duration),
		}
		for _, m := range humans {
			restore.Originals[m.ID] = m.Nick
		}
		if _, _, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			return sess.SetNicknames(restore, now)
		}); err != nil {
			return err
		}
		s.idle.ResetAt(key, restore.ExpiresAt)

		for i, m := range humans {
			if err := s.guild.SetNickname(ctx, guildID, m.ID, names[i]); err != nil {
				slog.Warn("rename failed", "guild", guildID, "user", m.ID, "error", err)
				continue
			}
			renamed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.Info("nicknames applied", "guild", guildID, "channel", channelID, "theme", theme, "renamed", renamed)
	return renamed, nil
}

// Restore puts back every recorded original nickname of guildID now.
func (s *Service) Restore(ctx context.Context, guildID string) error {
	key := Key(guildID)
	return s.gw.Call(ctx, key, "nickname_restore", func(ctx context.Context) error {
		return s.restore(ctx, key)
	})
}

// Pending returns the recorded originals of guildID, or nil.
func (s *Service) Pending(guildID string) *types.NicknameRestore {
	return s.store.View(Key(guildID)).Nicknames
}

func (s *Service) restore(ctx context.Context, key types.SessionKey) error {
	pending := s.store.View(key).Nicknames
	if pending == nil {
		return nil
	}
	guildID := key.Context()
	failed := 0
	for userID, nick := range pending.Originals {
		if err := s.guild.SetNickname(ctx, guildID, userID, nick); err != nil {
			// Owners and members above the bot cannot be renamed back.
			slog.Warn("restore nickname failed", "guild", guildID, "user", userID, "error", err)
			failed++
		}
	}
	if _, _, err := s.store.Update(ctx, key, func(sess *session.Session, _ time.Time) session.Outcome {
		return sess.ClearNicknames()
	}); err != nil {
		return err
	}
	s.idle.Cancel(key)
	slog.Info("nicknames restored", "guild", guildID, "count", len(pending.Originals)-failed, "failed", failed)
	return nil
}

func (s *Service) onExpire(key types.SessionKey) {
	err := s.gw.Dispatch(key, "nickname_expire", func(ctx context.Context) error {
		return s.restore(ctx, key)
	})
	if err != nil {
		slog.Error("dispatch nickname expiry", "session", string(key), "error", err)
	}
}

// Recover re-arms restores persisted before a restart. Expired ones run at
// once.
func (s *Service) Recover(ctx context.Context) {
	for _, key := range s.store.Keys(types.FeatureNickname) {
		pending := s.store.View(key).Nicknames
		if pending == nil {
			continue
		}
		// ResetAt fires immediately for deadlines in the past.
		s.idle.ResetAt(key, pending.ExpiresAt)
	}
}

// parseNames extracts up to count distinct names from a model reply.
func parseNames(reply string, count int) []string {
	seen := make(map[string]bool)
	var names []string
	for _, line := range strings.Split(reply, "\n") {
		name := cleanName(line)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		names = append(names, name)
		if len(names) == count {
			break
		}
	}
	return names
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

func cleanName(line string) string {
	s := listMarker.ReplaceAllString(line, "")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'` ")
	if utf8.RuneCountInString(s) > MaxNickLength {
		s = string([]rune(s)[:MaxNickLength])
		s = strings.TrimSpace(s)
	}
	return s
}
