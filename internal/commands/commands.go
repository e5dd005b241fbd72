// Package commands turns user commands and button presses from any chat
// surface into feature operations and a short reply.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/stevebot/internal/dashboard"
	"github.com/user/stevebot/internal/giveaway"
	"github.com/user/stevebot/internal/nickname"
	"github.com/user/stevebot/internal/player"
	"github.com/user/stevebot/internal/render"
	"github.com/user/stevebot/internal/scoreboard"
	"github.com/user/stevebot/internal/types"
	"github.com/user/stevebot/internal/voicetrap"
)

// Invocation is one command or button press.
type Invocation struct {
	GuildID        string
	ChannelID      string
	UserID         string
	UserName       string
	VoiceChannelID string
	Options        map[string]string
}

func (inv Invocation) opt(name string) string {
	return strings.TrimSpace(inv.Options[name])
}

// Services are the features a Handler drives. Any of them may be nil.
type Services struct {
	Player     *player.Service
	Giveaways  *giveaway.Service
	Dashboard  *dashboard.Service
	Traps      *voicetrap.Registry
	Nicknames  *nickname.Service
	Scoreboard *scoreboard.Service
}

// Handler routes commands to the feature services.
type Handler struct {
	svc Services
}

// New creates a Handler.
func New(svc Services) *Handler {
	return &Handler{svc: svc}
}

// Spec describes a command and its options, in positional order.
type Spec struct {
	Name        string
	Description string
	Options     []Option
}

// Option is one command option.
type Option struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
}

// OptionKind is the value type of an option.
type OptionKind int

const (
	OptionString OptionKind = iota
	OptionUser
	OptionVoiceChannel
)

// Specs lists every command the Handler understands.
var Specs = []Spec{
	{Name: "play", Description: "Queue a song by search, link or Spotify track", Options: []Option{
		{Name: "query", Description: "What to play", Kind: OptionString, Required: true},
	}},
	{Name: "skip", Description: "Skip the current song"},
	{Name: "pause", Description: "Pause or resume playback"},
	{Name: "setupmusic", Description: "Create the music channel and now-playing message"},
	{Name: "addsteamtrack", Description: "Track your Steam activity in this channel", Options: []Option{
		{Name: "steam_id", Description: "Your 64-bit Steam id", Kind: OptionString, Required: true},
	}},
	{Name: "removesteamtrack", Description: "Stop tracking your Steam activity here"},
	{Name: "tracked", Description: "List tracked Steam accounts in this channel"},
	{Name: "giveaway", Description: "Start a giveaway", Options: []Option{
		{Name: "duration", Description: "How long, like 10m, 1h or 2d", Kind: OptionString, Required: true},
		{Name: "prize", Description: "What is up for grabs", Kind: OptionString, Required: true},
	}},
	{Name: "voicetrap", Description: "Scatter everyone when someone joins your channel", Options: []Option{
		{Name: "target", Description: "Who springs the trap", Kind: OptionUser, Required: true},
		{Name: "destination", Description: "Where everyone gets moved", Kind: OptionVoiceChannel, Required: true},
	}},
	{Name: "massnickname", Description: "Give everyone in a voice channel a themed nickname", Options: []Option{
		{Name: "channel", Description: "Voice channel", Kind: OptionVoiceChannel, Required: true},
		{Name: "theme", Description: "Nickname theme", Kind: OptionString, Required: true},
	}},
	{Name: "restorenicknames", Description: "Put the original nicknames back now"},
	{Name: "scoreboard", Description: "Show the Siege attack/defense tracker in this channel"},
	{Name: "resetscoreboard", Description: "Zero the attack/defense tracker"},
}

// Lookup returns the spec of name.
func Lookup(name string) (Spec, bool) {
	for _, s := range Specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// ParseArgs maps a free-text argument string onto a command's options.
// Every option takes one word except the last, which takes the rest.
func ParseArgs(spec Spec, args string) map[string]string {
	out := make(map[string]string, len(spec.Options))
	fields := strings.Fields(args)
	for i, opt := range spec.Options {
		if i >= len(fields) {
			break
		}
		if i == len(spec.Options)-1 {
			out[opt.Name] = strings.Join(fields[i:], " ")
			break
		}
		out[opt.Name] = fields[i]
	}
	return out
}

const unavailable = "That feature is not available here."

// Run executes command name and returns the reply for the invoker.
func (h *Handler) Run(ctx context.Context, name string, inv Invocation) string {
	spec, ok := Lookup(name)
	if !ok {
		return "Unknown command. Available: " + h.available()
	}
	for _, o := range spec.Options {
		if o.Required && inv.opt(o.Name) == "" {
			return fmt.Sprintf("Missing `%s`. Usage: %s", o.Name, usage(spec))
		}
	}

	switch name {
	case "play":
		return h.play(ctx, inv)
	case "skip":
		return h.skip(ctx, inv)
	case "pause":
		return h.pause(ctx, inv)
	case "setupmusic":
		return h.setupMusic(ctx, inv)
	case "addsteamtrack":
		return h.track(ctx, inv)
	case "removesteamtrack":
		return h.untrack(ctx, inv)
	case "tracked":
		return h.tracked(inv)
	case "giveaway":
		return h.giveaway(ctx, inv)
	case "voicetrap":
		return h.voiceTrap(inv)
	case "massnickname":
		return h.massNickname(ctx, inv)
	case "restorenicknames":
		return h.restoreNicknames(ctx, inv)
	case "scoreboard":
		return h.scoreboard(ctx, inv)
	case "resetscoreboard":
		return h.resetScoreboard(ctx, inv)
	}
	return "Unknown command."
}

// Press handles a button press.
func (h *Handler) Press(ctx context.Context, controlID string, inv Invocation) string {
	switch controlID {
	case render.ControlSkip:
		return h.skip(ctx, inv)
	case render.ControlPause:
		return h.pause(ctx, inv)
	case render.ControlGiveawayEnter:
		return h.enter(ctx, inv)
	case render.ControlScoreAttack:
		return h.score(ctx, inv, types.SideAttack)
	case render.ControlScoreDefend:
		return h.score(ctx, inv, types.SideDefend)
	}
	slog.Debug("unknown control", "control", controlID)
	return ""
}

// Command implements the Telegram handler. The chat doubles as the guild.
func (h *Handler) Command(ctx context.Context, channelID, userID, userName, name, args string) string {
	spec, ok := Lookup(name)
	if !ok {
		if name == "start" || name == "help" {
			return "Hi, I'm Steve. Commands: " + h.available()
		}
		return "Unknown command. Available: " + h.available()
	}
	return h.Run(ctx, name, Invocation{
		GuildID:   channelID,
		ChannelID: channelID,
		UserID:    userID,
		UserName:  userName,
		Options:   ParseArgs(spec, args),
	})
}

// Control implements the Telegram handler.
func (h *Handler) Control(ctx context.Context, channelID, userID, controlID string) string {
	return h.Press(ctx, controlID, Invocation{GuildID: channelID, ChannelID: channelID, UserID: userID})
}

func (h *Handler) available() string {
	names := make([]string, 0, len(Specs))
	for _, s := range Specs {
		names = append(names, "/"+s.Name)
	}
	return strings.Join(names, ", ")
}

func usage(spec Spec) string {
	var sb strings.Builder
	sb.WriteString("/" + spec.Name)
	for _, o := range spec.Options {
		sb.WriteString(" <" + o.Name + ">")
	}
	return sb.String()
}

func (h *Handler) play(ctx context.Context, inv Invocation) string {
	if h.svc.Player == nil {
		return unavailable
	}
	res, err := h.svc.Player.Enqueue(ctx, player.Request{
		GuildID:        inv.GuildID,
		TextChannelID:  inv.ChannelID,
		VoiceChannelID: inv.VoiceChannelID,
		Query:          inv.opt("query"),
		RequesterID:    inv.UserID,
		RequesterName:  inv.UserName,
	})
	switch {
	case err == nil:
	case errors.Is(err, player.ErrNotInVoice):
		return "You need to be in a voice channel to play music."
	case errors.Is(err, types.ErrResolutionFailed):
		return fmt.Sprintf("❌ Couldn't find anything for `%s`.", inv.opt("query"))
	case errors.Is(err, types.ErrTransportUnavailable):
		return "❌ Failed to connect to the music node."
	default:
		return h.failed("play", inv, err)
	}
	if res.Position == 0 {
		return fmt.Sprintf("🎶 Now playing: **%s**", res.Item.Title)
	}
	return fmt.Sprintf("🎶 Queued **%s** (#%d)", res.Item.Title, res.Position)
}

func (h *Handler) skip(ctx context.Context, inv Invocation) string {
	if h.svc.Player == nil {
		return unavailable
	}
	err := h.svc.Player.Skip(ctx, inv.GuildID)
	switch {
	case err == nil:
		return "⏭️ Skipping..."
	case errors.Is(err, types.ErrNoActiveSession):
		return "Nothing is currently playing."
	default:
		return h.failed("skip", inv, err)
	}
}

func (h *Handler) pause(ctx context.Context, inv Invocation) string {
	if h.svc.Player == nil {
		return unavailable
	}
	paused, err := h.svc.Player.TogglePause(ctx, inv.GuildID)
	switch {
	case errors.Is(err, types.ErrNoActiveSession):
		return "Nothing is currently playing."
	case err != nil:
		return h.failed("pause", inv, err)
	case paused:
		return "⏸️ Paused"
	default:
		return "▶️ Resumed"
	}
}

// setupMusic records the invoking channel as the music channel. Surfaces that
// can create channels resolve the channel first and pass it as ChannelID.
func (h *Handler) setupMusic(ctx context.Context, inv Invocation) string {
	if h.svc.Player == nil {
		return unavailable
	}
	already := h.svc.Player.ChannelID(inv.GuildID) == inv.ChannelID
	if err := h.svc.Player.Setup(ctx, inv.GuildID, inv.ChannelID); err != nil {
		return h.failed("setupmusic", inv, err)
	}
	if already {
		return fmt.Sprintf("🎶 Music channel already set up: <#%s>", inv.ChannelID)
	}
	return fmt.Sprintf("✅ Music channel ready: <#%s>", inv.ChannelID)
}

func (h *Handler) track(ctx context.Context, inv Invocation) string {
	if h.svc.Dashboard == nil {
		return unavailable
	}
	id := inv.opt("steam_id")
	e, err := h.svc.Dashboard.Track(ctx, inv.ChannelID, inv.UserID, id)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrResolutionFailed):
		return fmt.Sprintf("❌ Steam ID `%s` doesn't look right.", id)
	case errors.Is(err, types.ErrProviderRateLimited):
		return "Steam is rate limiting us. Try again in a minute."
	default:
		return h.failed("addsteamtrack", inv, err)
	}
	if e.DisplayName != "" {
		return fmt.Sprintf("🛰️ Now tracking Steam activity for **%s** (`%s`).", e.DisplayName, id)
	}
	return fmt.Sprintf("🛰️ Now tracking Steam activity for Steam ID `%s`.", id)
}

func (h *Handler) untrack(ctx context.Context, inv Invocation) string {
	if h.svc.Dashboard == nil {
		return unavailable
	}
	removed, err := h.svc.Dashboard.Untrack(ctx, inv.ChannelID, inv.UserID)
	if err != nil {
		return h.failed("removesteamtrack", inv, err)
	}
	if !removed {
		return "You aren't tracked in this channel."
	}
	return "🛰️ Stopped tracking your Steam activity."
}

func (h *Handler) tracked(inv Invocation) string {
	if h.svc.Dashboard == nil {
		return unavailable
	}
	entities := h.svc.Dashboard.Tracked(inv.ChannelID)
	if len(entities) == 0 {
		return "Nobody is tracked in this channel."
	}
	var sb strings.Builder
	for _, e := range entities {
		name := e.DisplayName
		if name == "" {
			name = e.ExternalID
		}
		label := "offline or not in a tracked game"
		if e.LastKnownLabel != nil {
			label = *e.LastKnownLabel
		}
		fmt.Fprintf(&sb, "• %s: %s\n", name, label)
	}
	return strings.TrimSpace(sb.String())
}

func (h *Handler) giveaway(ctx context.Context, inv Invocation) string {
	if h.svc.Giveaways == nil {
		return unavailable
	}
	d, err := giveaway.ParseDuration(inv.opt("duration"))
	if err != nil {
		return "Invalid duration format. Use something like `10m`, `1h`, or `2d`."
	}
	_, err = h.svc.Giveaways.Start(ctx, inv.GuildID, inv.ChannelID, inv.UserID, inv.opt("prize"), d)
	switch {
	case err == nil:
		return "🎉 Giveaway started!"
	case errors.Is(err, giveaway.ErrAlreadyRunning):
		return "A giveaway is already running here."
	default:
		return h.failed("giveaway", inv, err)
	}
}

func (h *Handler) enter(ctx context.Context, inv Invocation) string {
	if h.svc.Giveaways == nil {
		return unavailable
	}
	entered, err := h.svc.Giveaways.Enter(ctx, inv.GuildID, inv.UserID)
	switch {
	case errors.Is(err, types.ErrNoActiveSession):
		return "This giveaway has ended."
	case err != nil:
		return h.failed("enter", inv, err)
	case !entered:
		return "You're already entered!"
	default:
		return "You've entered the giveaway!"
	}
}

func (h *Handler) voiceTrap(inv Invocation) string {
	if h.svc.Traps == nil {
		return unavailable
	}
	target, dest := inv.opt("target"), inv.opt("destination")
	err := h.svc.Traps.Set(inv.GuildID, target, inv.UserID, inv.VoiceChannelID, dest)
	switch {
	case err == nil:
		return fmt.Sprintf("🪤 Trap set. When <@%s> joins your channel, everyone gets sent to <#%s>.", target, dest)
	case errors.Is(err, voicetrap.ErrNotInVoice):
		return "You must be in a voice channel to set a trap!"
	default:
		return "❌ " + err.Error()
	}
}

func (h *Handler) massNickname(ctx context.Context, inv Invocation) string {
	if h.svc.Nicknames == nil {
		return unavailable
	}
	n, err := h.svc.Nicknames.Apply(ctx, inv.GuildID, inv.opt("channel"), inv.opt("theme"))
	switch {
	case err == nil:
		return fmt.Sprintf("Nicknames have been changed for %d members in <#%s>.", n, inv.opt("channel"))
	case errors.Is(err, nickname.ErrNoMembers):
		return "No nicknamable members found in that channel."
	default:
		slog.Error("mass nickname failed", "guild", inv.GuildID, "error", err)
		return "Failed to generate nicknames. Check the logs."
	}
}

func (h *Handler) restoreNicknames(ctx context.Context, inv Invocation) string {
	if h.svc.Nicknames == nil {
		return unavailable
	}
	if h.svc.Nicknames.Pending(inv.GuildID) == nil {
		return "No nicknames to restore."
	}
	if err := h.svc.Nicknames.Restore(ctx, inv.GuildID); err != nil {
		return h.failed("restorenicknames", inv, err)
	}
	return "Nicknames restored."
}

func (h *Handler) scoreboard(ctx context.Context, inv Invocation) string {
	if h.svc.Scoreboard == nil {
		return unavailable
	}
	if err := h.svc.Scoreboard.Setup(ctx, inv.GuildID, inv.ChannelID); err != nil {
		return h.failed("scoreboard", inv, err)
	}
	return "📊 Scoreboard is up."
}

func (h *Handler) resetScoreboard(ctx context.Context, inv Invocation) string {
	if h.svc.Scoreboard == nil {
		return unavailable
	}
	err := h.svc.Scoreboard.Reset(ctx, inv.GuildID)
	switch {
	case errors.Is(err, types.ErrNoActiveSession):
		return "There is no scoreboard yet. Run /scoreboard first."
	case err != nil:
		return h.failed("resetscoreboard", inv, err)
	default:
		return "📊 Scoreboard reset."
	}
}

func (h *Handler) score(ctx context.Context, inv Invocation, side types.Side) string {
	if h.svc.Scoreboard == nil {
		return unavailable
	}
	tally, err := h.svc.Scoreboard.Score(ctx, inv.GuildID, inv.UserName, side)
	switch {
	case errors.Is(err, types.ErrNoActiveSession):
		return "There is no scoreboard yet. Run /scoreboard first."
	case err != nil:
		return h.failed("score", inv, err)
	default:
		return fmt.Sprintf("Attack %d : %d Defend", tally.Attack, tally.Defend)
	}
}

func (h *Handler) failed(command string, inv Invocation, err error) string {
	slog.Error("command failed", "command", command, "guild", inv.GuildID, "user", inv.UserID, "error", err)
	return "Something went kaboom. Try again later."
}
