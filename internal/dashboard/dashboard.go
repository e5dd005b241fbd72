// Package dashboard polls an external status provider for tracked accounts
// and keeps one aggregated artifact per channel.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
)

// Options configures a Service.
type Options struct {
	// TrackedGames limits which activity labels count. Empty means any.
	TrackedGames   []string
	NotifyLaunches bool
	// Parallel bounds how many dashboard sessions are updated at once.
	Parallel int
}

// Service owns every dashboard session.
type Service struct {
	store    *session.Store
	gw       *gateway.Gateway
	provider types.StatusProvider
	retry    *gateway.RetryPolicy
	recon    *render.Reconciler
	surface  types.ChatSurface
	opts     Options

	fold  cases.Caser
	games []string // case-folded
}

// New creates a Service. provider is typically a cache.StatusCache.
func New(store *session.Store, gw *gateway.Gateway, provider types.StatusProvider, recon *render.Reconciler, surface types.ChatSurface, opts Options) *Service {
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	s := &Service{
		store:    store,
		gw:       gw,
		provider: provider,
		retry:    gateway.DefaultRetryPolicy(),
		recon:    recon,
		surface:  surface,
		opts:     opts,
		fold:     cases.Fold(),
	}
	for _, g := range opts.TrackedGames {
		g = strings.TrimSpace(g)
		if g != "" {
			s.games = append(s.games, s.fold.String(g))
		}
	}
	return s
}

// SetRetryPolicy replaces the backoff used for provider calls.
func (s *Service) SetRetryPolicy(p *gateway.RetryPolicy) {
	s.retry = p
}

// Key returns the session key of the dashboard in channelID.
func Key(channelID string) types.SessionKey {
	return types.NewSessionKey(channelID, types.FeatureDashboard)
}

// Track starts watching externalID for ownerID in channelID. The id is
// validated against the provider first.
func (s *Service) Track(ctx context.Context, channelID, ownerID, externalID string) (*types.TrackedEntity, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("track: empty id: %w", types.ErrResolutionFailed)
	}
	statuses, err := s.fetch(ctx, []string{externalID})
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", externalID, err)
	}
	st, ok := statuses[externalID]
	if !ok {
		return nil, fmt.Errorf("track %s: unknown id: %w", externalID, types.ErrResolutionFailed)
	}

	entity := types.TrackedEntity{
		ExternalID:  externalID,
		ChannelID:   channelID,
		OwnerID:     ownerID,
		DisplayName: st.Meta["persona"],
	}
	key := Key(channelID)
	err = s.gw.Call(ctx, key, "track", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, now time.Time) session.Outcome {
			sess.SetChannel(channelID)
			out := sess.Track(entity)
			if out.Kind == session.OutcomeChanged {
				sess.ObservePoll(externalID, s.labelFor(st))
			}
			return out
		})
		if err != nil {
			return err
		}
		if out.Render {
			return s.recon.Sync(ctx, s.store, snap, render.Dashboard(snap), true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// Untrack stops watching ownerID's account in channelID. An empty dashboard
// deletes its artifact.
func (s *Service) Untrack(ctx context.Context, channelID, ownerID string) (bool, error) {
	key := Key(channelID)
	removed := false
	err := s.gw.Call(ctx, key, "untrack", func(ctx context.Context) error {
		out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, _ time.Time) session.Outcome {
			return sess.Untrack(ownerID)
		})
		if err != nil {
			return err
		}
		removed = out.Kind == session.OutcomeChanged
		if out.Render {
			return s.recon.Sync(ctx, s.store, snap, render.Dashboard(snap), true)
		}
		return nil
	})
	return removed, err
}

// Tracked lists the entities watched in channelID, sorted by owner.
func (s *Service) Tracked(channelID string) []types.TrackedEntity {
	snap := s.store.View(Key(channelID))
	out := make([]types.TrackedEntity, 0, len(snap.Tracked))
	for _, e := range snap.Tracked {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

// Tick polls the provider once for the union of ids across every dashboard
// and feeds the results to each session. A failed poll changes nothing.
func (s *Service) Tick(ctx context.Context) error {
	keys := s.store.Keys(types.FeatureDashboard)
	union := make(map[string]bool)
	for _, key := range keys {
		for _, id := range s.store.View(key).ExternalIDs() {
			union[id] = true
		}
	}
	if len(union) == 0 {
		return nil
	}
	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	statuses, err := s.fetch(ctx, ids)
	if err != nil {
		slog.Warn("status poll failed", "ids", len(ids), "error", err)
		return fmt.Errorf("poll statuses: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallel)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return s.gw.Call(gctx, key, "poll", func(ctx context.Context) error {
				return s.observe(ctx, key, statuses)
			})
		})
	}
	return g.Wait()
}

type launch struct {
	name  string
	label string
}

func (s *Service) observe(ctx context.Context, key types.SessionKey, statuses map[string]types.ProviderStatus) error {
	var launches []launch
	out, snap, err := s.store.Update(ctx, key, func(sess *session.Session, _ time.Time) session.Outcome {
		changed := false
		for _, id := range sess.ExternalIDs() {
			st, ok := statuses[id]
			if !ok {
				continue
			}
			label := s.labelFor(st)
			before := previousLabels(sess, id)
			if !sess.ObservePoll(id, label) {
				continue
			}
			changed = true
			if label != nil {
				for name, prev := range before {
					if prev == nil || *prev != *label {
						launches = append(launches, launch{name: name, label: *label})
					}
				}
			}
		}
		if !changed {
			return session.Outcome{Kind: session.OutcomeNone}
		}
		return session.Outcome{Kind: session.OutcomeChanged, Render: true, Persist: true}
	})
	if err != nil {
		return err
	}
	if !out.Render {
		return nil
	}
	var errs []error
	if err := s.recon.Sync(ctx, s.store, snap, render.Dashboard(snap), true); err != nil {
		errs = append(errs, err)
	}
	if s.opts.NotifyLaunches && snap.ChannelID != "" {
		sort.Slice(launches, func(i, j int) bool { return launches[i].name < launches[j].name })
		for _, l := range launches {
			msg := types.Content{Description: fmt.Sprintf("🎮 **%s** just launched **%s**!", l.name, l.label), Color: render.ColorGreen}
			if _, err := s.surface.CreateMessage(ctx, snap.ChannelID, msg); err != nil {
				errs = append(errs, fmt.Errorf("launch notification: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// previousLabels maps the display name of every owner of id to its current label.
func previousLabels(sess *session.Session, id string) map[string]*string {
	out := make(map[string]*string)
	for _, e := range sess.Tracked {
		if e.ExternalID != id {
			continue
		}
		name := e.DisplayName
		if name == "" {
			name = "<@" + e.OwnerID + ">"
		}
		if e.LastKnownLabel != nil {
			l := *e.LastKnownLabel
			out[name] = &l
		} else {
			out[name] = nil
		}
	}
	return out
}

// labelFor returns the activity label of st when it names a tracked game,
// matched case-insensitively as a substring, or nil otherwise.
func (s *Service) labelFor(st types.ProviderStatus) *string {
	label := strings.TrimSpace(st.Label)
	if label == "" {
		return nil
	}
	if len(s.games) == 0 {
		return &label
	}
	folded := s.fold.String(label)
	for _, g := range s.games {
		if strings.Contains(folded, g) {
			return &label
		}
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, ids []string) (map[string]types.ProviderStatus, error) {
	var out map[string]types.ProviderStatus
	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.provider.FetchBatch(ctx, ids)
		return err
	})
	return out, err
}
