// Package telegram exposes Telegram chats as a chat surface. Channel ids
// have the form "telegram:<chat id>".
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/stevebot/internal/types"
)

const (
	maxTelegramMessage = 4096
	// Prefix marks channel ids that belong to Telegram.
	Prefix = "telegram:"
)

// Handler receives commands and button presses from Telegram chats.
type Handler interface {
	Command(ctx context.Context, channelID, userID, userName, name, args string) string
	Control(ctx context.Context, channelID, userID, controlID string) string
}

// sender is the subset of *tgbotapi.BotAPI the adapter uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Adapter bridges Telegram chats to the bot.
type Adapter struct {
	bot     sender
	api     *tgbotapi.BotAPI
	handler Handler
}

var _ types.ChatSurface = (*Adapter)(nil)

// New creates a Telegram adapter.
func New(token string, handler Handler) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	slog.Info("telegram authorized", "username", bot.Self.UserName)
	return &Adapter{bot: bot, api: bot, handler: handler}, nil
}

// ChannelID returns the channel id of a Telegram chat.
func ChannelID(chatID int64) string {
	return Prefix + strconv.FormatInt(chatID, 10)
}

func parseChannel(channelID string) (int64, error) {
	if !strings.HasPrefix(channelID, Prefix) {
		return 0, fmt.Errorf("not a telegram channel: %q", channelID)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(channelID, Prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id %q: %w", channelID, err)
	}
	return id, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				a.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil && update.Message.IsCommand():
				a.handleCommand(ctx, update.Message)
			}
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	channelID := ChannelID(msg.Chat.ID)
	userID := strconv.FormatInt(msg.From.ID, 10)
	name := msg.From.UserName
	if name == "" {
		name = msg.From.FirstName
	}
	reply := a.handler.Command(ctx, channelID, userID, name, msg.Command(), msg.CommandArguments())
	if reply != "" {
		a.sendText(msg.Chat.ID, reply)
	}
}

func (a *Adapter) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return
	}
	notice := a.handler.Control(ctx, ChannelID(q.Message.Chat.ID), strconv.FormatInt(q.From.ID, 10), q.Data)
	if _, err := a.bot.Request(tgbotapi.NewCallback(q.ID, notice)); err != nil {
		slog.Warn("answer callback", "error", err)
	}
}

func (a *Adapter) sendText(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Warn("send message", "chat", chatID, "error", err)
			}
		}
	}
}

// CreateMessage posts content and returns the new message id.
func (a *Adapter) CreateMessage(_ context.Context, channelID string, content types.Content) (string, error) {
	chatID, err := parseChannel(channelID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, truncate(content.Text()))
	if kb := keyboard(content.Controls); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := a.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", channelID, classify(err))
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EditMessage replaces the text and buttons of a message.
func (a *Adapter) EditMessage(_ context.Context, channelID, messageID string, content types.Content) error {
	chatID, err := parseChannel(channelID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", messageID, types.ErrArtifactMissing)
	}
	edit := tgbotapi.NewEditMessageText(chatID, id, truncate(content.Text()))
	edit.ReplyMarkup = keyboard(content.Controls)
	if _, err := a.bot.Send(edit); err != nil {
		if isNotModified(err) {
			return nil
		}
		return fmt.Errorf("edit %s/%s: %w", channelID, messageID, classify(err))
	}
	return nil
}

// DeleteMessage removes a message.
func (a *Adapter) DeleteMessage(_ context.Context, channelID, messageID string) error {
	chatID, err := parseChannel(channelID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", messageID, types.ErrArtifactMissing)
	}
	if _, err := a.bot.Request(tgbotapi.NewDeleteMessage(chatID, id)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", channelID, messageID, classify(err))
	}
	return nil
}

func keyboard(controls []types.Control) *tgbotapi.InlineKeyboardMarkup {
	if len(controls) == 0 {
		return nil
	}
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(controls))
	for _, c := range controls {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.ID))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	return &kb
}

// classify maps Bot API failures onto the artifact error kinds.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 403,
		strings.Contains(msg, "not enough rights"),
		strings.Contains(msg, "can't be deleted"):
		return errors.Join(err, types.ErrArtifactPermissionDenied)
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message to delete not found"),
		strings.Contains(msg, "message not found"):
		return errors.Join(err, types.ErrArtifactMissing)
	case apiErr.Code == 429:
		return errors.Join(err, types.ErrProviderRateLimited)
	}
	return err
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}

func truncate(text string) string {
	if len(text) <= maxTelegramMessage {
		return text
	}
	return splitMessage(text)[0]
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
