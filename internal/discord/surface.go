package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/user/stevebot/internal/types"
)

// CreateMessage posts content as an embed with its controls as buttons.
func (a *Adapter) CreateMessage(_ context.Context, channelID string, content types.Content) (string, error) {
	msg, err := a.rest.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed(content)},
		Components: components(content.Controls),
	})
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", channelID, classify(err))
	}
	return msg.ID, nil
}

// EditMessage replaces the embed and buttons of a message.
func (a *Adapter) EditMessage(_ context.Context, channelID, messageID string, content types.Content) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	embeds := []*discordgo.MessageEmbed{embed(content)}
	comps := components(content.Controls)
	edit.Embeds = &embeds
	edit.Components = &comps
	if _, err := a.rest.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("edit %s/%s: %w", channelID, messageID, classify(err))
	}
	return nil
}

// DeleteMessage removes a message.
func (a *Adapter) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if err := a.rest.ChannelMessageDelete(channelID, messageID); err != nil {
		return fmt.Errorf("delete %s/%s: %w", channelID, messageID, classify(err))
	}
	return nil
}

func embed(c types.Content) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       c.Title,
		Description: c.Description,
		Color:       c.Color,
	}
	if c.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: c.ImageURL}
	}
	for _, f := range c.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value})
	}
	if c.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: c.Footer}
	}
	return e
}

// components always returns a non-nil slice so an edit clears stale buttons.
func components(controls []types.Control) []discordgo.MessageComponent {
	if len(controls) == 0 {
		return []discordgo.MessageComponent{}
	}
	buttons := make([]discordgo.MessageComponent, 0, len(controls))
	for _, c := range controls {
		buttons = append(buttons, discordgo.Button{
			Label:    c.Label,
			Style:    buttonStyle(c.Style),
			CustomID: c.ID,
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

func buttonStyle(s string) discordgo.ButtonStyle {
	switch s {
	case "primary":
		return discordgo.PrimaryButton
	case "success":
		return discordgo.SuccessButton
	case "danger":
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

// classify maps REST failures onto the artifact error kinds.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return errors.Join(err, types.ErrArtifactMissing)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return errors.Join(err, types.ErrArtifactPermissionDenied)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return errors.Join(err, types.ErrArtifactMissing)
		case http.StatusForbidden:
			return errors.Join(err, types.ErrArtifactPermissionDenied)
		case http.StatusTooManyRequests:
			return errors.Join(err, types.ErrProviderRateLimited)
		}
	}
	return err
}
