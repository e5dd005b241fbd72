package discord

import (
	"context"
	"fmt"

	"github.com/user/stevebot/internal/lavalink"
	"github.com/user/stevebot/internal/nickname"
	"github.com/user/stevebot/internal/voicetrap"
)

var (
	_ lavalink.VoiceGateway = (*Adapter)(nil)
	_ nickname.Guild        = Members{}
	_ voicetrap.Guild       = Movers{}
)

// JoinVoice asks the gateway to move the bot into channelID, or out of voice
// when channelID is empty. Lavalink carries the audio.
func (a *Adapter) JoinVoice(guildID, channelID string) error {
	if err := a.rest.ChannelVoiceJoinManual(guildID, channelID, false, true); err != nil {
		return fmt.Errorf("voice join %s/%s: %w", guildID, channelID, err)
	}
	return nil
}

// voiceChannelOf returns the voice channel userID is connected to, or "".
func (a *Adapter) voiceChannelOf(guildID, userID string) string {
	if a.state == nil {
		return ""
	}
	vs, err := a.state.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// voiceUsers lists the user ids connected to channelID.
func (a *Adapter) voiceUsers(guildID, channelID string) ([]string, error) {
	g, err := a.state.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s: %w", guildID, err)
	}
	a.state.RLock()
	defer a.state.RUnlock()
	var users []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			users = append(users, vs.UserID)
		}
	}
	return users, nil
}

// Members exposes guild members to the nickname feature.
type Members struct{ a *Adapter }

// Members returns the nickname view of the adapter.
func (a *Adapter) Members() Members { return Members{a} }

func (m Members) VoiceMembers(guildID, channelID string) ([]nickname.Member, error) {
	users, err := m.a.voiceUsers(guildID, channelID)
	if err != nil {
		return nil, err
	}
	out := make([]nickname.Member, 0, len(users))
	for _, id := range users {
		member, err := m.a.state.Member(guildID, id)
		if err != nil || member.User == nil {
			continue
		}
		out = append(out, nickname.Member{ID: id, Nick: member.Nick, Bot: member.User.Bot})
	}
	return out, nil
}

func (m Members) SetNickname(_ context.Context, guildID, userID, nick string) error {
	if err := m.a.rest.GuildMemberNickname(guildID, userID, nick); err != nil {
		return fmt.Errorf("nickname %s: %w", userID, classify(err))
	}
	return nil
}

// Movers exposes voice moves to the voice trap feature.
type Movers struct{ a *Adapter }

// Movers returns the voice trap view of the adapter.
func (a *Adapter) Movers() Movers { return Movers{a} }

func (m Movers) VoiceMembers(guildID, channelID string) ([]string, error) {
	return m.a.voiceUsers(guildID, channelID)
}

func (m Movers) MoveMember(_ context.Context, guildID, userID, channelID string) error {
	if err := m.a.rest.GuildMemberMove(guildID, userID, &channelID); err != nil {
		return fmt.Errorf("move %s: %w", userID, classify(err))
	}
	return nil
}
