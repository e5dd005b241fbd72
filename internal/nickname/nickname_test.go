package nickname

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stevebot/internal/gateway"
	"github.com/user/stevebot/internal/idle"
	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/state"
	"github.com/user/stevebot/pkg/llm"
)

type fakeGuild struct {
	mu      sync.Mutex
	members []Member
	nicks   map[string]string
	deny    map[string]bool
}

func newFakeGuild(members ...Member) *fakeGuild {
	g := &fakeGuild{members: members, nicks: map[string]string{}, deny: map[string]bool{}}
	for _, m := range members {
		g.nicks[m.ID] = m.Nick
	}
	return g
}

func (g *fakeGuild) VoiceMembers(_, _ string) ([]Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Member, len(g.members))
	for i, m := range g.members {
		m.Nick = g.nicks[m.ID]
		out[i] = m
	}
	return out, nil
}

func (g *fakeGuild) SetNickname(_ context.Context, _, userID, nick string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deny[userID] {
		return errors.New("missing permissions")
	}
	g.nicks[userID] = nick
	return nil
}

func (g *fakeGuild) nick(id string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nicks[id]
}

type fakeLLM struct {
	reply string
	err   error
	seen  []llm.Message
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message) (*llm.Response, error) {
	f.seen = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply}, nil
}

type harness struct {
	svc   *Service
	store *session.Store
	gw    *gateway.Gateway
	sup   *idle.Supervisor
	guild *fakeGuild
	llm   *fakeLLM
}

func newHarness(t *testing.T, dir string, opts Options) *harness {
	t.Helper()
	store := session.NewStore(state.NewFileStore(dir))
	require.NoError(t, store.Load(context.Background()))
	gw := gateway.New(2)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	sup := idle.New()
	t.Cleanup(sup.Stop)

	guild := newFakeGuild(
		Member{ID: "u1", Nick: "Alice"},
		Member{ID: "u2"},
		Member{ID: "bot", Nick: "Steve", Bot: true},
	)
	provider := &fakeLLM{reply: "1. Captain Crunch\n2. Sir Loin\n3. Extra"}
	return &harness{
		svc:   New(store, gw, guild, provider, nil, sup, opts),
		store: store,
		gw:    gw,
		sup:   sup,
		guild: guild,
		llm:   provider,
	}
}

func TestParseNames(t *testing.T) {
	reply := "Here you go:\n1. \"Captain Crunch\"\n- Sir Loin\n* captain crunch\n\n• 50 Cent Hero\n" + strings.Repeat("x", 40)
	names := parseNames(reply, 10)
	assert.Equal(t, []string{"Here you go:", "Captain Crunch", "Sir Loin", "50 Cent Hero", strings.Repeat("x", MaxNickLength)}, names)
	assert.Len(t, parseNames(reply, 2), 2)
}

func TestApplyRenamesHumansAndPersistsOriginals(t *testing.T) {
	h := newHarness(t, t.TempDir(), Options{Duration: time.Hour})

	n, err := h.svc.Apply(context.Background(), "g1", "vc1", "breakfast cereal")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "Captain Crunch", h.guild.nick("u1"))
	assert.Equal(t, "Sir Loin", h.guild.nick("u2"))
	assert.Equal(t, "Steve", h.guild.nick("bot"), "bots are never renamed")

	pending := h.svc.Pending("g1")
	require.NotNil(t, pending)
	assert.Equal(t, map[string]string{"u1": "Alice", "u2": ""}, pending.Originals)
	_, armed := h.sup.Pending(Key("g1"))
	assert.True(t, armed)

	require.Len(t, h.llm.seen, 2)
	assert.Contains(t, h.llm.seen[0].Content, "exactly 2 nicknames")
	assert.Contains(t, h.llm.seen[1].Content, "breakfast cereal")
}

func TestRestorePutsOriginalsBack(t *testing.T) {
	h := newHarness(t, t.TempDir(), Options{Duration: time.Hour})
	ctx := context.Background()
	_, err := h.svc.Apply(ctx, "g1", "vc1", "cereal")
	require.NoError(t, err)

	require.NoError(t, h.svc.Restore(ctx, "g1"))
	assert.Equal(t, "Alice", h.guild.nick("u1"))
	assert.Equal(t, "", h.guild.nick("u2"))
	assert.Nil(t, h.svc.Pending("g1"))
	_, armed := h.sup.Pending(Key("g1"))
	assert.False(t, armed)
}

func TestRenamingTwiceKeepsOldestOriginal(t *testing.T) {
	h := newHarness(t, t.TempDir(), Options{Duration: time.Hour})
	ctx := context.Background()
	_, err := h.svc.Apply(ctx, "g1", "vc1", "cereal")
	require.NoError(t, err)
	h.llm.reply = "Pirate One\nPirate Two"
	_, err = h.svc.Apply(ctx, "g1", "vc1", "pirates")
	require.NoError(t, err)
	assert.Equal(t, "Pirate One", h.guild.nick("u1"))

	require.NoError(t, h.svc.Restore(ctx, "g1"))
	assert.Equal(t, "Alice", h.guild.nick("u1"))
}

func TestExpiryRestores(t *testing.T) {
	h := newHarness(t, t.TempDir(), Options{Duration: 30 * time.Millisecond})
	_, err := h.svc.Apply(context.Background(), "g1", "vc1", "cereal")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.guild.nick("u1") == "Alice" }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.svc.Pending("g1") == nil }, time.Second, 10*time.Millisecond)
}

func TestRestoreToleratesPermissionErrors(t *testing.T) {
	h := newHarness(t, t.TempDir(), Options{Duration: time.Hour})
	ctx := context.Background()
	_, err := h.svc.Apply(ctx, "g1", "vc1", "cereal")
	require.NoError(t, err)

	h.guild.deny["u1"] = true
	require.NoError(t, h.svc.Restore(ctx, "g1"))
	assert.Equal(t, "", h.guild.nick("u2"))
	assert.Nil(t, h.svc.Pending("g1"))
}

func TestApplyErrors(t *testing.T) {
	h := newHarness(t, t.TempDir(), Options{})
	ctx := context.Background()

	h.llm.err = llm.ErrRateLimited
	_, err := h.svc.Apply(ctx, "g1", "vc1", "cereal")
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.Nil(t, h.svc.Pending("g1"))
	assert.Equal(t, "Alice", h.guild.nick("u1"))

	h.guild.members = []Member{{ID: "bot", Bot: true}}
	_, err = h.svc.Apply(ctx, "g1", "vc1", "cereal")
	assert.ErrorIs(t, err, ErrNoMembers)
}

func TestRecoverAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := newHarness(t, dir, Options{Duration: 20 * time.Millisecond})
	first.sup.Stop() // the process dies before the restore fires
	_, err := first.svc.Apply(ctx, "g1", "vc1", "cereal")
	require.NoError(t, err)
	require.Equal(t, "Captain Crunch", first.guild.nick("u1"))

	second := newHarness(t, dir, Options{})
	second.guild = first.guild
	second.svc.guild = first.guild
	time.Sleep(30 * time.Millisecond)
	second.svc.Recover(ctx)

	require.Eventually(t, func() bool { return first.guild.nick("u1") == "Alice" }, 2*time.Second, 10*time.Millisecond)
}

func TestPrompterCapsTheme(t *testing.T) {
	p, err := NewPrompter("gpt-4o-mini", 4)
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}
	long := strings.Repeat("banana ", 50)
	msgs, err := p.Build(long, 3)
	require.NoError(t, err)
	theme := strings.TrimPrefix(msgs[1].Content, "Theme: ")
	assert.Less(t, len(theme), len(long))
	assert.True(t, strings.HasPrefix(long, theme))
}
