// Package render turns session state into display content and keeps the
// remote artifact in sync with it.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
)

// Embed colours.
const (
	ColorGreen   = 0x57F287
	ColorGreyple = 0x99AAB5
	ColorYellow  = 0xFEE75C
	ColorRed     = 0xED4245
	ColorPurple  = 0x9B59B6
	ColorBlurple = 0x5865F2
	ColorGold    = 0xF1C40F
)

// Control ids understood by the interaction handlers.
const (
	ControlSkip          = "music_skip"
	ControlPause         = "music_pause"
	ControlGiveawayEnter = "giveaway_enter"
	ControlScoreAttack   = "attack_button"
	ControlScoreDefend   = "defend_button"
)

// PlayerOptions holds the presentation knobs of the now-playing artifact.
type PlayerOptions struct {
	IdleImage string
	Preview   int
}

var playerControls = []types.Control{
	{ID: ControlSkip, Label: "⏭️ Skip", Style: "primary"},
	{ID: ControlPause, Label: "⏯️ Play/Pause", Style: "secondary"},
}

// Player renders the now-playing artifact of a music session.
func Player(s *session.Session, opts PlayerOptions) types.Content {
	if opts.Preview <= 0 {
		opts.Preview = 5
	}
	c := types.Content{
		Title:    "Now Playing",
		Controls: playerControls,
	}
	if s.Current == nil {
		c.Description = "Nothing playing yet."
		c.ImageURL = opts.IdleImage
		c.Color = ColorGreyple
		c.Empty = len(s.Queue) == 0
	} else {
		c.Description = s.Current.Title
		c.ImageURL = s.Current.ThumbnailRef
		c.Color = ColorGreen
		if s.Paused {
			c.Title = "Paused"
			c.Color = ColorYellow
		}
		if s.Current.RequesterName != "" {
			c.Footer = "Requested by " + s.Current.RequesterName
		}
	}
	if preview := upNext(s.Queue, opts.Preview); preview != "" {
		c.Fields = []types.Field{{Name: "Up Next", Value: preview}}
	}
	return c
}

func upNext(queue []types.QueueItem, limit int) string {
	if len(queue) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, item := range queue {
		if i == limit {
			break
		}
		fmt.Fprintf(&sb, "**%d.** %s", i+1, item.Title)
		if item.RequesterName != "" {
			fmt.Fprintf(&sb, " _(by %s)_", item.RequesterName)
		}
		sb.WriteString("\n")
	}
	if len(queue) > limit {
		fmt.Fprintf(&sb, "...and %d more in the queue.", len(queue)-limit)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Dashboard renders the aggregated status of every tracked entity.
func Dashboard(s *session.Session) types.Content {
	c := types.Content{
		Title:  "🎮 Steam Activity",
		Color:  ColorBlurple,
		Footer: "Refreshed automatically",
	}
	if len(s.Tracked) == 0 {
		c.Description = "Nobody is being tracked."
		c.Empty = true
		return c
	}

	entities := make([]*types.TrackedEntity, 0, len(s.Tracked))
	for _, e := range s.Tracked {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.OwnerID < b.OwnerID
	})

	playing := 0
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		name := e.DisplayName
		if name == "" {
			name = "<@" + e.OwnerID + ">"
		}
		if e.LastKnownLabel != nil {
			playing++
			lines = append(lines, fmt.Sprintf("🟢 **%s** is playing **%s**", name, *e.LastKnownLabel))
		} else {
			lines = append(lines, fmt.Sprintf("⚫ **%s** is not in a tracked game", name))
		}
	}
	c.Description = strings.Join(lines, "\n")
	c.Fields = []types.Field{{Name: "In game", Value: fmt.Sprintf("%d of %d", playing, len(entities))}}
	return c
}

// Giveaway renders a running or finished giveaway.
func Giveaway(s *session.Session) types.Content {
	g := s.Giveaway
	if g == nil {
		return types.Content{Empty: true}
	}
	if !g.Ended {
		return types.Content{
			Title:       "🎉 Giveaway!",
			Description: fmt.Sprintf("**Prize:** ***%s***\nEnds <t:%d:R>", g.Prize, g.EndsAt.Unix()),
			Color:       ColorPurple,
			Fields:      []types.Field{{Name: "Entries", Value: fmt.Sprint(len(g.Entries))}},
			Footer:      "Click the button below to enter!",
			Controls:    []types.Control{{ID: ControlGiveawayEnter, Label: "🎉 Enter Giveaway", Style: "success"}},
		}
	}
	if g.WinnerID == "" {
		return types.Content{
			Title:       "🎉 Giveaway Ended",
			Description: "No one entered. L.",
			Color:       ColorRed,
		}
	}
	return types.Content{
		Title:       "🎉 Giveaway Winner!",
		Description: fmt.Sprintf("Congrats <@%s>! You won **%s**!", g.WinnerID, g.Prize),
		Color:       ColorGreen,
	}
}

var scoreboardControls = []types.Control{
	{ID: ControlScoreAttack, Label: "Attack +1", Style: "danger"},
	{ID: ControlScoreDefend, Label: "Defend +1", Style: "primary"},
}

// Scoreboard renders the attack/defense tally.
func Scoreboard(s *session.Session) types.Content {
	b := s.Scoreboard
	if b == nil {
		return types.Content{Empty: true}
	}
	return types.Content{
		Title: "Siege A/D Tracker",
		Color: ColorGold,
		Fields: []types.Field{
			{Name: "Attacks First", Value: fmt.Sprint(b.Attack)},
			{Name: "Defends First", Value: fmt.Sprint(b.Defend)},
		},
		Controls: scoreboardControls,
	}
}
