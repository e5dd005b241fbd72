package voicetrap

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuild struct {
	mu       sync.Mutex
	channels map[string][]string
	moves    map[string]string
	fail     map[string]bool
}

func (g *fakeGuild) VoiceMembers(_, channelID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.channels[channelID]...), nil
}

func (g *fakeGuild) MoveMember(_ context.Context, _, userID, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail[userID] {
		return errors.New("missing permissions")
	}
	g.moves[userID] = channelID
	return nil
}

func newGuild() *fakeGuild {
	return &fakeGuild{
		channels: map[string][]string{"lobby": {"setter", "friend", "target"}},
		moves:    map[string]string{},
		fail:     map[string]bool{},
	}
}

func TestTrapSpringsOnceInSourceChannel(t *testing.T) {
	g := newGuild()
	r := New(g)
	ctx := context.Background()
	require.NoError(t, r.Set("g1", "target", "setter", "lobby", "jail"))

	// Joining some other channel does not spring it.
	n, err := r.VoiceStateChanged(ctx, "g1", "target", "elsewhere")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, armed := r.Armed("g1", "target")
	assert.True(t, armed)

	n, err = r.VoiceStateChanged(ctx, "g1", "target", "lobby")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	moved := make([]string, 0, len(g.moves))
	for u, ch := range g.moves {
		assert.Equal(t, "jail", ch)
		moved = append(moved, u)
	}
	sort.Strings(moved)
	assert.Equal(t, []string{"friend", "setter"}, moved)

	// One-shot.
	_, armed = r.Armed("g1", "target")
	assert.False(t, armed)
	n, err = r.VoiceStateChanged(ctx, "g1", "target", "lobby")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetRequiresVoice(t *testing.T) {
	r := New(newGuild())
	assert.ErrorIs(t, r.Set("g1", "target", "setter", "", "jail"), ErrNotInVoice)
	assert.Error(t, r.Set("g1", "target", "setter", "lobby", "lobby"))
}

func TestOtherUsersDoNotSpringTrap(t *testing.T) {
	g := newGuild()
	r := New(g)
	require.NoError(t, r.Set("g1", "target", "setter", "lobby", "jail"))

	n, err := r.VoiceStateChanged(context.Background(), "g1", "friend", "lobby")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, g.moves)
}

func TestFailedMovesAreSkipped(t *testing.T) {
	g := newGuild()
	g.fail["friend"] = true
	r := New(g)
	require.NoError(t, r.Set("g1", "target", "setter", "lobby", "jail"))

	n, err := r.VoiceStateChanged(context.Background(), "g1", "target", "lobby")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "jail", g.moves["setter"])
}
