package discord

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/user/stevebot/internal/commands"
)

// applicationCommands builds the slash command definitions from the shared
// command table.
func applicationCommands() []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(commands.Specs))
	for _, spec := range commands.Specs {
		cmd := &discordgo.ApplicationCommand{Name: spec.Name, Description: spec.Description}
		for _, o := range spec.Options {
			opt := &discordgo.ApplicationCommandOption{
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			}
			switch o.Kind {
			case commands.OptionUser:
				opt.Type = discordgo.ApplicationCommandOptionUser
			case commands.OptionVoiceChannel:
				opt.Type = discordgo.ApplicationCommandOptionChannel
				opt.ChannelTypes = []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice}
			default:
				opt.Type = discordgo.ApplicationCommandOptionString
			}
			cmd.Options = append(cmd.Options, opt)
		}
		out = append(out, cmd)
	}
	return out
}

// invocation extracts the invoker and options of an interaction.
func (a *Adapter) invocation(i *discordgo.Interaction) commands.Invocation {
	inv := commands.Invocation{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Options:   map[string]string{},
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.UserID = i.Member.User.ID
		inv.UserName = i.Member.Nick
		if inv.UserName == "" {
			inv.UserName = i.Member.User.Username
		}
	case i.User != nil:
		inv.UserID = i.User.ID
		inv.UserName = i.User.Username
	}
	if i.GuildID != "" && inv.UserID != "" {
		inv.VoiceChannelID = a.voiceChannelOf(i.GuildID, inv.UserID)
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		for _, o := range i.ApplicationCommandData().Options {
			inv.Options[o.Name] = optionValue(o)
		}
	}
	return inv
}

func optionValue(o *discordgo.ApplicationCommandInteractionDataOption) string {
	switch v := o.Value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (a *Adapter) onInteractionCreate(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	cmds, _, _, _ := a.listeners()
	if cmds == nil || ic.Interaction == nil {
		return
	}
	i := ic.Interaction
	ctx := a.baseContext()

	var run func() string
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		inv := a.invocation(i)
		run = func() string {
			if name == "setupmusic" {
				ch, err := a.musicChannel(i.GuildID)
				if err != nil {
					slog.Error("set up music channel", "guild", i.GuildID, "error", err)
					return "❌ Couldn't create the music channel."
				}
				inv.ChannelID = ch
			}
			return cmds.Run(ctx, name, inv)
		}
	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		inv := a.invocation(i)
		run = func() string { return cmds.Press(ctx, id, inv) }
	default:
		return
	}

	err := a.rest.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		slog.Warn("defer interaction", "error", err)
		return
	}
	reply := run()
	if reply == "" {
		reply = "👍"
	}
	if _, err := a.rest.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		slog.Warn("edit interaction response", "error", err)
	}
}

// musicChannel finds the guild's music text channel by name, creating it when
// missing.
func (a *Adapter) musicChannel(guildID string) (string, error) {
	channels, err := a.rest.GuildChannels(guildID)
	if err != nil {
		return "", fmt.Errorf("list channels: %w", classify(err))
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, a.opts.MusicChannelName) {
			return ch.ID, nil
		}
	}
	ch, err := a.rest.GuildChannelCreate(guildID, a.opts.MusicChannelName, discordgo.ChannelTypeGuildText)
	if err != nil {
		return "", fmt.Errorf("create channel: %w", classify(err))
	}
	slog.Info("created music channel", "guild", guildID, "channel", ch.ID)
	return ch.ID, nil
}

// onMessageCreate filters the clips channel and treats messages in the music
// channel as play requests. The request message is removed and the reply is a
// short-lived notice.
func (a *Adapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	if a.filterClips(m.Message) {
		return
	}
	cmds, _, _, music := a.listeners()
	if cmds == nil || music == nil || music.ChannelID(m.GuildID) != m.ChannelID {
		return
	}
	query := strings.TrimSpace(m.Content)
	if err := a.rest.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
		slog.Debug("delete music request", "channel", m.ChannelID, "error", err)
	}
	if query == "" {
		return
	}

	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	inv := commands.Invocation{
		GuildID:        m.GuildID,
		ChannelID:      m.ChannelID,
		UserID:         m.Author.ID,
		UserName:       name,
		VoiceChannelID: a.voiceChannelOf(m.GuildID, m.Author.ID),
		Options:        map[string]string{"query": query},
	}
	reply := cmds.Run(a.baseContext(), "play", inv)
	a.notice(m.ChannelID, fmt.Sprintf("<@%s> %s", m.Author.ID, reply))
}
