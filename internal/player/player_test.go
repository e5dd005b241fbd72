package player

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stevebot/internal/fake"
	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/idle"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/state"
	"github.com/user/stevebot/internal/types"
)

type harness struct {
	svc       *Service
	store     *session.Store
	gw        *gateway.Gateway
	sup       *idle.Supervisor
	transport *fake.Transport
	resolver  *fake.Resolver
	surface   *fake.Surface
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store := session.NewStore(state.NewFileStore(t.TempDir()))
	gw := gateway.New(4)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	sup := idle.New()
	t.Cleanup(sup.Stop)

	h := &harness{
		store:     store,
		gw:        gw,
		sup:       sup,
		transport: &fake.Transport{},
		resolver:  &fake.Resolver{},
		surface:   fake.NewSurface(),
	}
	h.svc = New(store, gw, h.resolver, h.transport, render.NewReconciler(h.surface), sup, opts)
	return h
}

func request(query string) Request {
	return Request{GuildID: "g1", TextChannelID: "music", VoiceChannelID: "vc1", Query: query, RequesterID: "u1", RequesterName: "alice"}
}

// flush waits until every event already queued on key's lane has run.
func flush(t *testing.T, gw *gateway.Gateway, key types.SessionKey) {
	t.Helper()
	require.NoError(t, gw.Call(context.Background(), key, "flush", func(context.Context) error { return nil }))
}

func (h *harness) played() []string {
	_, _, played := h.transport.Snapshot()
	return played
}

func TestEnqueueOnIdleStartsPlayback(t *testing.T) {
	h := newHarness(t, Options{})

	res, err := h.svc.Enqueue(context.Background(), request("song a"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, "song a", res.Item.Title)
	assert.Equal(t, []string{"ref:song a"}, h.played())

	view := h.store.View(Key("g1"))
	assert.True(t, view.Active)
	assert.Equal(t, "vc1", view.VoiceChannelID)
	assert.Equal(t, "music", view.ChannelID)
	require.NotNil(t, view.Display)
	assert.Equal(t, 1, h.surface.Count("create"))
	assert.Equal(t, "song a", h.surface.Last().Content.Description)
}

func TestEnqueueWhilePlayingQueues(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	res, err := h.svc.Enqueue(ctx, request("song b"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Position)
	assert.Equal(t, []string{"ref:song a"}, h.played())
	assert.Equal(t, 1, h.surface.Count("create"))
	assert.Equal(t, 1, h.surface.Count("edit"))

	connects, _, _ := h.transport.Snapshot()
	assert.Equal(t, 1, connects)
}

func TestCompletionAdvancesThenDrains(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: time.Hour})
	ctx := context.Background()
	_, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	_, err = h.svc.Enqueue(ctx, request("song b"))
	require.NoError(t, err)

	require.True(t, h.transport.Finish())
	require.Eventually(t, func() bool { return len(h.played()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ref:song b", h.played()[1])

	require.True(t, h.transport.Finish())
	require.Eventually(t, func() bool { return !h.store.View(Key("g1")).Active }, time.Second, 5*time.Millisecond)
	flush(t, h.gw, Key("g1"))

	_, pending := h.sup.Pending(Key("g1"))
	assert.True(t, pending, "draining arms the idle deadline")
	assert.Equal(t, "Nothing playing yet.", h.surface.Last().Content.Description)
}

func TestStaleCompletionIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	first, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	_, err = h.svc.Enqueue(ctx, request("song b"))
	require.NoError(t, err)
	require.NoError(t, h.svc.Skip(ctx, "g1"))

	// A late completion for the skipped item must not advance past song b.
	key := Key("g1")
	err = h.gw.Call(ctx, key, "complete", func(ctx context.Context) error {
		return h.svc.advanceFrom(ctx, key, first.Item.ID)
	})
	require.NoError(t, err)

	view := h.store.View(key)
	require.NotNil(t, view.Current)
	assert.Equal(t, "song b", view.Current.Title)
	assert.Equal(t, []string{"ref:song a", "ref:song b"}, h.played())
}

func TestResolutionFailureLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t, Options{})
	h.resolver.Results = map[string]*types.ResolvedMedia{}

	_, err := h.svc.Enqueue(context.Background(), request("nope"))
	assert.ErrorIs(t, err, types.ErrResolutionFailed)

	view := h.store.View(Key("g1"))
	assert.False(t, view.Active)
	assert.Empty(t, view.Queue)
	assert.Empty(t, h.surface.Calls)
	connects, _, _ := h.transport.Snapshot()
	assert.Zero(t, connects)
}

func TestConnectFailureStaysIdle(t *testing.T) {
	h := newHarness(t, Options{})
	h.transport.ConnectErr = types.ErrTransportUnavailable

	_, err := h.svc.Enqueue(context.Background(), request("song a"))
	assert.ErrorIs(t, err, types.ErrTransportUnavailable)

	view := h.store.View(Key("g1"))
	assert.False(t, view.Active)
	assert.Empty(t, view.Queue)
	assert.Empty(t, h.played())
}

func TestPlayFailureHalts(t *testing.T) {
	h := newHarness(t, Options{})
	h.transport.PlayErr = types.ErrTransportUnavailable

	_, err := h.svc.Enqueue(context.Background(), request("song a"))
	assert.ErrorIs(t, err, types.ErrTransportUnavailable)

	view := h.store.View(Key("g1"))
	assert.False(t, view.Active)
	assert.True(t, view.Valid())
}

func TestNotInVoice(t *testing.T) {
	h := newHarness(t, Options{})
	req := request("song a")
	req.VoiceChannelID = ""

	_, err := h.svc.Enqueue(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotInVoice)
	assert.Zero(t, h.resolver.Calls)
}

func TestSkip(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: time.Hour})
	ctx := context.Background()

	assert.ErrorIs(t, h.svc.Skip(ctx, "g1"), types.ErrNoActiveSession)

	_, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	require.NoError(t, h.svc.Skip(ctx, "g1"))

	assert.False(t, h.store.View(Key("g1")).Active)
	assert.Equal(t, 1, h.transport.Stops)
	assert.False(t, h.transport.Finish(), "skipping the last item leaves nothing to complete")
}

func TestTogglePause(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.svc.TogglePause(ctx, "g1")
	assert.ErrorIs(t, err, types.ErrNoActiveSession)

	_, err = h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)

	paused, err := h.svc.TogglePause(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, paused)
	assert.True(t, h.transport.Paused)
	assert.True(t, h.store.View(Key("g1")).Paused)
	assert.Equal(t, "Paused", h.surface.Last().Content.Title)

	paused, err = h.svc.TogglePause(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestIdleDeadlineDisconnects(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	_, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	require.NoError(t, h.svc.Skip(ctx, "g1"))

	require.Eventually(t, func() bool {
		_, disconnects, _ := h.transport.Snapshot()
		return disconnects == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.svc.Connected("g1"))
}

func TestEnqueueCancelsIdleDeadline(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	_, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	require.NoError(t, h.svc.Skip(ctx, "g1"))

	_, err = h.svc.Enqueue(ctx, request("song b"))
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	_, disconnects, _ := h.transport.Snapshot()
	assert.Zero(t, disconnects)
	assert.True(t, h.store.View(Key("g1")).Active)
}

func TestSetupMovesArtifact(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.svc.Setup(ctx, "g1", "steve-music"))
	view := h.store.View(Key("g1"))
	require.NotNil(t, view.Display)
	assert.Equal(t, "steve-music", view.Display.ChannelID)
	assert.Equal(t, "steve-music", h.svc.ChannelID("g1"))

	// Requests from another channel keep the bound one.
	_, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	assert.Equal(t, "steve-music", h.surface.Last().ChannelID)
	assert.Equal(t, 1, h.surface.Count("create"))
}

func TestSetupElsewhereRemovesOldArtifact(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.svc.Setup(ctx, "g1", "steve-music"))
	old := h.store.View(Key("g1")).Display
	require.NotNil(t, old)

	require.NoError(t, h.svc.Setup(ctx, "g1", "jukebox"))

	view := h.store.View(Key("g1"))
	require.NotNil(t, view.Display)
	assert.Equal(t, "jukebox", view.Display.ChannelID)
	assert.Equal(t, 1, h.surface.Count("delete"))
	_, stillThere := h.surface.Messages["steve-music/"+old.MessageID]
	assert.False(t, stillThere)
}

func TestTransportLostHalts(t *testing.T) {
	h := newHarness(t, Options{IdleTimeout: time.Hour})
	ctx := context.Background()
	_, err := h.svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	_, err = h.svc.Enqueue(ctx, request("song b"))
	require.NoError(t, err)

	h.svc.TransportLost("g1")
	flush(t, h.gw, Key("g1"))

	view := h.store.View(Key("g1"))
	assert.False(t, view.Active)
	require.Len(t, view.Queue, 1)
	assert.Equal(t, "song b", view.Queue[0].Title)
	assert.False(t, h.svc.Connected("g1"))
}

func TestResumeRestartsActiveSessions(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := session.NewStore(state.NewFileStore(dir))
	_, _, err := first.Update(ctx, Key("g1"), func(s *session.Session, now time.Time) session.Outcome {
		s.SetVoiceChannel("vc1")
		s.SetChannel("music")
		return s.Enqueue(types.QueueItem{ID: "i1", Title: "song a", MediaRef: "ref:a"}, now)
	})
	require.NoError(t, err)

	store := session.NewStore(state.NewFileStore(dir))
	require.NoError(t, store.Load(ctx))
	gw := gateway.New(2)
	gw.Start(ctx)
	defer gw.Stop()
	sup := idle.New()
	defer sup.Stop()
	transport := &fake.Transport{}
	svc := New(store, gw, &fake.Resolver{}, transport, render.NewReconciler(fake.NewSurface()), sup, Options{})

	svc.Resume(ctx)
	flush(t, gw, Key("g1"))

	_, _, played := transport.Snapshot()
	assert.Equal(t, []string{"ref:a"}, played)
	assert.True(t, svc.Connected("g1"))
}

type failingSaves struct {
	types.SnapshotStore
	fail int
}

func (f *failingSaves) Save(ctx context.Context, snap *types.Snapshot) error {
	if f.fail > 0 {
		f.fail--
		return errors.New("disk full")
	}
	return f.SnapshotStore.Save(ctx, snap)
}

func TestEnqueuePlaysEvenWhenSnapshotWriteFails(t *testing.T) {
	store := session.NewStore(&failingSaves{SnapshotStore: state.NewFileStore(t.TempDir()), fail: 1})
	gw := gateway.New(2)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	sup := idle.New()
	t.Cleanup(sup.Stop)
	transport := &fake.Transport{}
	svc := New(store, gw, &fake.Resolver{}, transport, render.NewReconciler(fake.NewSurface()), sup, Options{IdleTimeout: time.Hour})
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, request("song a"))
	require.NoError(t, err)
	res, err := svc.Enqueue(ctx, request("song b"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)

	_, _, played := transport.Snapshot()
	assert.Equal(t, []string{"ref:song a"}, played)

	// The first item completes normally and the queue moves on.
	require.True(t, transport.Finish())
	require.Eventually(t, func() bool {
		_, _, played := transport.Snapshot()
		return len(played) == 2
	}, time.Second, 5*time.Millisecond)
	_, _, played = transport.Snapshot()
	assert.Equal(t, []string{"ref:song a", "ref:song b"}, played)
}
