// Package telegram wraps the Bot API client behind the narrow send/edit
// surface the publishing pipeline needs.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
)

// SendOptions carries per-post delivery flags. HTML switches text sends to
// HTML parse mode; mutually exclusive with explicit entities.
type SendOptions struct {
	DisableLinkPreview  bool
	DisableNotification bool
	HTML                bool
}

// GroupItem is one element of an outbound media group.
type GroupItem struct {
	Kind     models.MediaKind
	FileID   string
	Caption  string
	Entities []models.TextEntity
}

// Sender is the outbound delivery surface consumed by the publication engine.
// All calls are fallible; transport errors are returned as-is for the caller
// to map.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts SendOptions) (int, error)
	SendMedia(ctx context.Context, chatID int64, kind models.MediaKind, fileID, caption string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts SendOptions) (int, error)
	SendMediaGroup(ctx context.Context, chatID int64, items []GroupItem, opts SendOptions) ([]int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts SendOptions) error
	EditCaption(ctx context.Context, chatID int64, messageID int, caption string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup) error
	EditKeyboard(ctx context.Context, chatID int64, messageID int, keyboard *tgbotapi.InlineKeyboardMarkup) error
}

// Client is the Bot API backed Sender plus the helpers the bot UI needs.
type Client struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewClient(token string, logger *zap.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api client: %w", err)
	}

	logger.Info("Telegram client initialized", zap.String("username", api.Self.UserName))
	return &Client{api: api, logger: logger}, nil
}

// API exposes the underlying client for update polling and callback answers.
func (c *Client) API() *tgbotapi.BotAPI {
	return c.api
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if opts.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
	} else {
		msg.Entities = ToMessageEntities(entities)
	}
	msg.DisableWebPagePreview = opts.DisableLinkPreview
	msg.DisableNotification = opts.DisableNotification
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) SendMedia(ctx context.Context, chatID int64, kind models.MediaKind, fileID, caption string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var chattable tgbotapi.Chattable
	file := tgbotapi.FileID(fileID)

	switch kind {
	case models.MediaVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = ToMessageEntities(entities)
		cfg.DisableNotification = opts.DisableNotification
		if keyboard != nil {
			cfg.ReplyMarkup = *keyboard
		}
		chattable = cfg
	case models.MediaDocument:
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = ToMessageEntities(entities)
		cfg.DisableNotification = opts.DisableNotification
		if keyboard != nil {
			cfg.ReplyMarkup = *keyboard
		}
		chattable = cfg
	case models.MediaAudio:
		cfg := tgbotapi.NewAudio(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = ToMessageEntities(entities)
		cfg.DisableNotification = opts.DisableNotification
		if keyboard != nil {
			cfg.ReplyMarkup = *keyboard
		}
		chattable = cfg
	case models.MediaAnimation:
		cfg := tgbotapi.NewAnimation(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = ToMessageEntities(entities)
		cfg.DisableNotification = opts.DisableNotification
		if keyboard != nil {
			cfg.ReplyMarkup = *keyboard
		}
		chattable = cfg
	default:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = ToMessageEntities(entities)
		cfg.DisableNotification = opts.DisableNotification
		if keyboard != nil {
			cfg.ReplyMarkup = *keyboard
		}
		chattable = cfg
	}

	sent, err := c.api.Send(chattable)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) SendMediaGroup(ctx context.Context, chatID int64, items []GroupItem, opts SendOptions) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	media := make([]interface{}, 0, len(items))
	for _, item := range items {
		media = append(media, toInputMedia(item))
	}

	cfg := tgbotapi.NewMediaGroup(chatID, media)
	cfg.DisableNotification = opts.DisableNotification

	sent, err := c.api.SendMediaGroup(cfg)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(sent))
	for _, m := range sent {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	cfg.Entities = ToMessageEntities(entities)
	cfg.DisableWebPagePreview = opts.DisableLinkPreview
	cfg.ReplyMarkup = keyboard

	_, err := c.api.Send(cfg)
	return err
}

func (c *Client) EditCaption(ctx context.Context, chatID int64, messageID int, caption string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.EditMessageCaptionConfig{
		BaseEdit: tgbotapi.BaseEdit{
			ChatID:      chatID,
			MessageID:   messageID,
			ReplyMarkup: keyboard,
		},
		Caption:         caption,
		CaptionEntities: ToMessageEntities(entities),
	}

	_, err := c.api.Send(cfg)
	return err
}

func (c *Client) EditKeyboard(ctx context.Context, chatID int64, messageID int, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if keyboard == nil {
		keyboard = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}
	cfg := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, *keyboard)

	_, err := c.api.Send(cfg)
	return err
}

func toInputMedia(item GroupItem) interface{} {
	file := tgbotapi.FileID(item.FileID)
	entities := ToMessageEntities(item.Entities)

	switch item.Kind {
	case models.MediaVideo:
		m := tgbotapi.NewInputMediaVideo(file)
		m.Caption = item.Caption
		m.CaptionEntities = entities
		return m
	case models.MediaDocument:
		m := tgbotapi.NewInputMediaDocument(file)
		m.Caption = item.Caption
		m.CaptionEntities = entities
		return m
	case models.MediaAudio:
		m := tgbotapi.NewInputMediaAudio(file)
		m.Caption = item.Caption
		m.CaptionEntities = entities
		return m
	case models.MediaAnimation:
		m := tgbotapi.NewInputMediaAnimation(file)
		m.Caption = item.Caption
		m.CaptionEntities = entities
		return m
	default:
		m := tgbotapi.NewInputMediaPhoto(file)
		m.Caption = item.Caption
		m.CaptionEntities = entities
		return m
	}
}

// ReplyHTML sends an HTML-formatted service message to a user chat.
func (c *Client) ReplyHTML(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditHTML rewrites a previously sent service message in place.
func (c *Client) EditHTML(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.DisableWebPagePreview = true
	cfg.ReplyMarkup = keyboard

	_, err := c.api.Send(cfg)
	return err
}

// AnswerCallback acknowledges a callback query, optionally with an alert.
func (c *Client) AnswerCallback(callbackID, text string, alert bool) {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	if _, err := c.api.Request(cb); err != nil {
		c.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}

// CheckChannelPermissions verifies the bot is a channel administrator with
// post and edit rights. Returns a user-facing description of what is missing.
func (c *Client) CheckChannelPermissions(ctx context.Context, channelID int64) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: channelID,
			UserID: c.api.Self.ID,
		},
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to get chat member: %w", err)
	}

	if member.Status != "administrator" && member.Status != "creator" {
		return false, "бот не является администратором канала", nil
	}
	if member.Status == "administrator" {
		if !member.CanPostMessages {
			return false, "у бота нет права публиковать сообщения", nil
		}
		if !member.CanEditMessages {
			return false, "у бота нет права редактировать сообщения", nil
		}
	}

	return true, "", nil
}

// ToMessageEntities converts stored entity spans to the wire representation.
func ToMessageEntities(entities []models.TextEntity) []tgbotapi.MessageEntity {
	if len(entities) == 0 {
		return nil
	}

	out := make([]tgbotapi.MessageEntity, 0, len(entities))
	for _, e := range entities {
		me := tgbotapi.MessageEntity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		}
		if e.UserID != 0 {
			me.User = &tgbotapi.User{ID: e.UserID}
		}
		out = append(out, me)
	}
	return out
}

// FromMessageEntities converts inbound entity spans to the stored form.
func FromMessageEntities(entities []tgbotapi.MessageEntity) []models.TextEntity {
	if len(entities) == 0 {
		return nil
	}

	out := make([]models.TextEntity, 0, len(entities))
	for _, e := range entities {
		te := models.TextEntity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		}
		if e.User != nil {
			te.UserID = e.User.ID
		}
		out = append(out, te)
	}
	return out
}
