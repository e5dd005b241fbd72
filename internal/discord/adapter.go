// Package discord connects the bot to the Discord gateway. It is the chat
// surface for Discord channels, forwards voice events to the audio node and
// turns slash commands, buttons and music channel messages into commands.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/user/stevebot/internal/commands"
	"github.com/user/stevebot/internal/types"
)

// rest is the subset of *discordgo.Session the adapter calls.
type rest interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
	GuildMemberMove(guildID string, userID string, channelID *string, options ...discordgo.RequestOption) error
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreate(guildID, name string, ctype discordgo.ChannelType, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelVoiceJoinManual(gID, cID string, mute, deaf bool) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// CommandHandler runs commands and button presses.
type CommandHandler interface {
	Run(ctx context.Context, name string, inv commands.Invocation) string
	Press(ctx context.Context, controlID string, inv commands.Invocation) string
}

// VoiceListener receives the bot's own voice events, typically a Lavalink node.
type VoiceListener interface {
	SetUserID(id string)
	VoiceStateUpdate(guildID, channelID, sessionID string)
	VoiceServerUpdate(guildID, token, endpoint string)
}

// TrapListener sees every member's voice channel change.
type TrapListener interface {
	VoiceStateChanged(ctx context.Context, guildID, userID, channelID string) (int, error)
}

// MusicChannels knows each guild's music channel and hears about lost voice.
type MusicChannels interface {
	ChannelID(guildID string) string
	TransportLost(guildID string)
}

// Options configures an Adapter.
type Options struct {
	Token string
	// GuildID scopes command registration. Empty registers globally.
	GuildID          string
	MusicChannelName string
	// ClipsChannelID only accepts messages with a link or an attachment.
	ClipsChannelID string
	NoticeTTL      time.Duration
}

// Adapter bridges a discordgo session to the bot.
type Adapter struct {
	session *discordgo.Session
	rest    rest
	state   *discordgo.State
	opts    Options

	mu       sync.RWMutex
	ctx      context.Context
	userID   string
	commands CommandHandler
	voice    VoiceListener
	traps    TrapListener
	music    MusicChannels
}

var _ types.ChatSurface = (*Adapter)(nil)

// New creates an Adapter. Listeners are attached with the Set methods before
// Open.
func New(opts Options) (*Adapter, error) {
	if opts.MusicChannelName == "" {
		opts.MusicChannelName = "steve-music"
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = 5 * time.Second
	}
	s, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	a := &Adapter{session: s, rest: s, state: s.State, opts: opts, ctx: context.Background()}
	s.AddHandler(a.onReady)
	s.AddHandler(a.onVoiceStateUpdate)
	s.AddHandler(a.onVoiceServerUpdate)
	s.AddHandler(a.onMessageCreate)
	s.AddHandler(a.onInteractionCreate)
	return a, nil
}

// SetCommands attaches the command handler.
func (a *Adapter) SetCommands(h CommandHandler) {
	a.mu.Lock()
	a.commands = h
	a.mu.Unlock()
}

// SetVoice attaches the voice listener.
func (a *Adapter) SetVoice(v VoiceListener) {
	a.mu.Lock()
	a.voice = v
	a.mu.Unlock()
}

// SetTraps attaches the voice trap listener.
func (a *Adapter) SetTraps(t TrapListener) {
	a.mu.Lock()
	a.traps = t
	a.mu.Unlock()
}

// SetMusic attaches the music feature.
func (a *Adapter) SetMusic(m MusicChannels) {
	a.mu.Lock()
	a.music = m
	a.mu.Unlock()
}

// Open connects to the gateway. Handlers run with ctx until Close.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (a *Adapter) Close() error {
	return a.session.Close()
}

func (a *Adapter) baseContext() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

func (a *Adapter) listeners() (CommandHandler, VoiceListener, TrapListener, MusicChannels) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.commands, a.voice, a.traps, a.music
}

func (a *Adapter) self() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

func (a *Adapter) onReady(s *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.userID = r.User.ID
	a.mu.Unlock()
	slog.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))

	if _, voice, _, _ := a.listeners(); voice != nil {
		voice.SetUserID(r.User.ID)
	}
	if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, a.opts.GuildID, applicationCommands()); err != nil {
		slog.Error("register slash commands", "error", err)
	}
}

func (a *Adapter) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}
	_, voice, traps, music := a.listeners()
	if v.UserID == a.self() {
		if voice != nil {
			voice.VoiceStateUpdate(v.GuildID, v.ChannelID, v.SessionID)
		}
		if v.ChannelID == "" && music != nil {
			slog.Info("bot left voice", "guild", v.GuildID)
			music.TransportLost(v.GuildID)
		}
		return
	}
	if traps == nil || v.ChannelID == "" {
		return
	}
	if v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID == v.ChannelID {
		return
	}
	if _, err := traps.VoiceStateChanged(a.baseContext(), v.GuildID, v.UserID, v.ChannelID); err != nil {
		slog.Warn("voice trap failed", "guild", v.GuildID, "user", v.UserID, "error", err)
	}
}

func (a *Adapter) onVoiceServerUpdate(_ *discordgo.Session, v *discordgo.VoiceServerUpdate) {
	if _, voice, _, _ := a.listeners(); voice != nil {
		voice.VoiceServerUpdate(v.GuildID, v.Token, v.Endpoint)
	}
}

// notice posts a message that deletes itself after the notice TTL.
func (a *Adapter) notice(channelID, text string) {
	if text == "" {
		return
	}
	msg, err := a.rest.ChannelMessageSend(channelID, text)
	if err != nil {
		slog.Warn("send notice", "channel", channelID, "error", err)
		return
	}
	time.AfterFunc(a.opts.NoticeTTL, func() {
		if err := a.rest.ChannelMessageDelete(channelID, msg.ID); err != nil {
			slog.Debug("delete notice", "channel", channelID, "error", err)
		}
	})
}
