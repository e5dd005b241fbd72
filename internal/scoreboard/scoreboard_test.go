package scoreboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stevebot/internal/fake"
	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/state"
	"github.com/user/stevebot/internal/types"
)

type harness struct {
	svc     *Service
	store   *session.Store
	gw      *gateway.Gateway
	surface *fake.Surface
}

func newHarness(t *testing.T, dir string, surface *fake.Surface) *harness {
	t.Helper()
	store := session.NewStore(state.NewFileStore(dir))
	require.NoError(t, store.Load(context.Background()))
	gw := gateway.New(2)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return &harness{
		svc:     New(store, gw, render.NewReconciler(surface)),
		store:   store,
		gw:      gw,
		surface: surface,
	}
}

func field(c types.Content, name string) string {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestSetupPostsBoardWithButtons(t *testing.T) {
	h := newHarness(t, t.TempDir(), fake.NewSurface())

	require.NoError(t, h.svc.Setup(context.Background(), "g1", "siege"))

	require.Equal(t, 1, h.surface.Count("create"))
	last := h.surface.Last()
	assert.Equal(t, "siege", last.ChannelID)
	assert.Equal(t, "0", field(last.Content, "Attacks First"))
	assert.Equal(t, "0", field(last.Content, "Defends First"))
	require.Len(t, last.Content.Controls, 2)
	assert.Equal(t, render.ControlScoreAttack, last.Content.Controls[0].ID)
	assert.Equal(t, render.ControlScoreDefend, last.Content.Controls[1].ID)

	// Running setup again in the same channel changes nothing.
	require.NoError(t, h.svc.Setup(context.Background(), "g1", "siege"))
	assert.Len(t, h.surface.Calls, 1)
}

func TestScoreEditsTheSameMessage(t *testing.T) {
	h := newHarness(t, t.TempDir(), fake.NewSurface())
	ctx := context.Background()
	require.NoError(t, h.svc.Setup(ctx, "g1", "siege"))

	_, err := h.svc.Score(ctx, "g1", "ash", types.SideAttack)
	require.NoError(t, err)
	tally, err := h.svc.Score(ctx, "g1", "thermite", types.SideAttack)
	require.NoError(t, err)
	assert.Equal(t, types.Scoreboard{Attack: 2}, tally)
	tally, err = h.svc.Score(ctx, "g1", "mute", types.SideDefend)
	require.NoError(t, err)
	assert.Equal(t, types.Scoreboard{Attack: 2, Defend: 1}, tally)

	assert.Equal(t, 1, h.surface.Count("create"))
	assert.Equal(t, 3, h.surface.Count("edit"))
	last := h.surface.Last()
	assert.Equal(t, "2", field(last.Content, "Attacks First"))
	assert.Equal(t, "1", field(last.Content, "Defends First"))
}

func TestScoreWithoutBoard(t *testing.T) {
	h := newHarness(t, t.TempDir(), fake.NewSurface())

	_, err := h.svc.Score(context.Background(), "g1", "ash", types.SideAttack)

	assert.ErrorIs(t, err, types.ErrNoActiveSession)
	assert.Nil(t, h.svc.Current("g1"))
	assert.Empty(t, h.surface.Calls)
}

func TestReset(t *testing.T) {
	h := newHarness(t, t.TempDir(), fake.NewSurface())
	ctx := context.Background()
	require.NoError(t, h.svc.Setup(ctx, "g1", "siege"))
	_, err := h.svc.Score(ctx, "g1", "ash", types.SideDefend)
	require.NoError(t, err)

	require.NoError(t, h.svc.Reset(ctx, "g1"))
	assert.Equal(t, &types.Scoreboard{}, h.svc.Current("g1"))
	assert.Equal(t, "0", field(h.surface.Last().Content, "Defends First"))

	edits := h.surface.Count("edit")
	require.NoError(t, h.svc.Reset(ctx, "g1"))
	assert.Equal(t, edits, h.surface.Count("edit"), "resetting a zero board does not re-render")
}

func TestSetupElsewhereMovesBoard(t *testing.T) {
	h := newHarness(t, t.TempDir(), fake.NewSurface())
	ctx := context.Background()
	require.NoError(t, h.svc.Setup(ctx, "g1", "siege"))
	_, err := h.svc.Score(ctx, "g1", "ash", types.SideAttack)
	require.NoError(t, err)

	require.NoError(t, h.svc.Setup(ctx, "g1", "ranked"))

	assert.Equal(t, 1, h.surface.Count("delete"))
	view := h.store.View(Key("g1"))
	require.NotNil(t, view.Display)
	assert.Equal(t, "ranked", view.Display.ChannelID)
	assert.Equal(t, "1", field(h.surface.Last().Content, "Attacks First"))
}

func TestRecoverReattachesExistingMessage(t *testing.T) {
	dir := t.TempDir()
	surface := fake.NewSurface()
	ctx := context.Background()

	first := newHarness(t, dir, surface)
	require.NoError(t, first.svc.Setup(ctx, "g1", "siege"))
	_, err := first.svc.Score(ctx, "g1", "ash", types.SideAttack)
	require.NoError(t, err)
	ref := first.store.View(Key("g1")).Display

	second := newHarness(t, dir, surface)
	second.svc.Recover(ctx)
	require.NoError(t, second.gw.Call(ctx, Key("g1"), "flush", func(context.Context) error { return nil }))

	assert.Equal(t, 1, surface.Count("create"), "the old message is edited, not reposted")
	last := surface.Last()
	assert.Equal(t, "edit", last.Method)
	assert.Equal(t, ref.MessageID, last.MessageID)
	assert.Equal(t, "1", field(last.Content, "Attacks First"))
	assert.Equal(t, &types.Scoreboard{Attack: 1}, second.svc.Current("g1"))
}

func TestRecoverRepostsDeletedMessage(t *testing.T) {
	dir := t.TempDir()
	surface := fake.NewSurface()
	ctx := context.Background()

	first := newHarness(t, dir, surface)
	require.NoError(t, first.svc.Setup(ctx, "g1", "siege"))
	ref := first.store.View(Key("g1")).Display
	surface.Remove(ref.ChannelID, ref.MessageID)

	second := newHarness(t, dir, surface)
	second.svc.Recover(ctx)
	require.NoError(t, second.gw.Call(ctx, Key("g1"), "flush", func(context.Context) error { return nil }))

	assert.Equal(t, 2, surface.Count("create"))
	view := second.store.View(Key("g1"))
	require.NotNil(t, view.Display)
	assert.NotEqual(t, ref.MessageID, view.Display.MessageID)
}
