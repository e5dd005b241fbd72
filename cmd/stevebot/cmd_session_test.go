package main

import (
	"strings"
	"testing"
	"time"

	"github.com/user/stevebot/internal/types"
)

func TestDescribeAndItems(t *testing.T) {
	music := &types.Snapshot{
		Key:     types.NewSessionKey("g1", types.FeatureMusic),
		Playing: true,
		Queue:   []types.QueueItem{{Title: "Song A"}, {Title: "Song B"}},
	}
	if got := describe(music); got != "playing Song A" {
		t.Errorf("describe(music) = %q", got)
	}
	if got := items(music); got != 2 {
		t.Errorf("items(music) = %d", got)
	}

	idle := &types.Snapshot{Key: types.NewSessionKey("g1", types.FeatureMusic)}
	if got := describe(idle); got != "idle" {
		t.Errorf("describe(idle) = %q", got)
	}

	ended := &types.Snapshot{
		Key:      types.NewSessionKey("g1", types.FeatureGiveaway),
		Giveaway: &types.Giveaway{Ended: true, Entries: []string{"a", "b", "c"}},
	}
	if got := describe(ended); got != "ended" {
		t.Errorf("describe(ended) = %q", got)
	}
	if got := items(ended); got != 3 {
		t.Errorf("items(ended) = %d", got)
	}

	nick := &types.Snapshot{
		Key:       types.NewSessionKey("g1", types.FeatureNickname),
		Nicknames: &types.NicknameRestore{Originals: map[string]string{"u1": ""}, ExpiresAt: time.Now().Add(time.Hour)},
	}
	if got := describe(nick); !strings.HasPrefix(got, "restores ") {
		t.Errorf("describe(nick) = %q", got)
	}

	board := &types.Snapshot{
		Key:        types.NewSessionKey("g1", types.FeatureScoreboard),
		Scoreboard: &types.Scoreboard{Attack: 4, Defend: 2},
	}
	if got := describe(board); got != "attack 4, defend 2" {
		t.Errorf("describe(board) = %q", got)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Key", "Items"}, [][]string{{"g1:music", "3"}, {"short"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"KEY", "ITEMS", "g1:music", "short"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty table for no headers")
	}
}
