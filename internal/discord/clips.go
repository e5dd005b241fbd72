package discord

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// isClip reports whether m carries a link or an attachment.
func isClip(m *discordgo.Message) bool {
	if len(m.Attachments) > 0 {
		return true
	}
	for _, part := range strings.Fields(m.Content) {
		if strings.HasPrefix(part, "http://") || strings.HasPrefix(part, "https://") {
			return true
		}
	}
	return false
}

// filterClips removes chatter from the clips channel. It reports whether m
// was in that channel.
func (a *Adapter) filterClips(m *discordgo.Message) bool {
	if a.opts.ClipsChannelID == "" || m.ChannelID != a.opts.ClipsChannelID {
		return false
	}
	if isClip(m) {
		return true
	}
	if err := a.rest.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
		slog.Warn("delete non-clip message", "channel", m.ChannelID, "error", err)
		return true
	}
	slog.Info("deleted non-clip message", "channel", m.ChannelID, "user", m.Author.ID)
	a.notice(m.ChannelID, fmt.Sprintf("<@%s> Clips only buster. 🚫🗣️", m.Author.ID))
	return true
}
