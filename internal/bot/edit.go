package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
	"github.com/egorkrivoshey335-create/bot-posts/internal/service"
	"github.com/egorkrivoshey335-create/bot-posts/internal/telegram"
	"github.com/egorkrivoshey335-create/bot-posts/pkg/util"
)

type editMode int

const (
	editModeNone editMode = iota
	editModeText
	editModeButtons
)

type editSession struct {
	postID uint
	mode   editMode
}

// Editor handles post-creation edits: text and button changes on drafts and
// on already published posts. Published edits are pushed to the channel
// message in place.
type Editor struct {
	client    *telegram.Client
	store     *service.Store
	publisher *service.Publisher
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*editSession
}

func NewEditor(client *telegram.Client, store *service.Store, publisher *service.Publisher, logger *zap.Logger) *Editor {
	return &Editor{
		client:    client,
		store:     store,
		publisher: publisher,
		logger:    logger,
		sessions:  make(map[int64]*editSession),
	}
}

// Open starts an edit session for a post. Only drafts and published posts are
// editable; scheduled posts must be unscheduled first.
func (e *Editor) Open(ctx context.Context, chatID, userID int64, postID uint) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			e.reply(chatID, "❌ Пост не найден.")
		} else {
			e.logger.Error("Failed to load post for edit", zap.Uint("post_id", postID), zap.Error(err))
			e.reply(chatID, "❌ Не удалось открыть пост.")
		}
		return
	}

	if post.Status != models.StatusDraft && post.Status != models.StatusPublished {
		e.reply(chatID, "❌ Редактировать можно только черновики и опубликованные посты.\n"+
			"Запланированный пост сначала снимите с публикации.")
		return
	}

	e.mu.Lock()
	e.sessions[userID] = &editSession{postID: postID, mode: editModeNone}
	e.mu.Unlock()

	e.replyKeyboard(chatID, fmt.Sprintf(
		"✏️ <b>Редактирование поста #%d</b> (%s)\n\n%s",
		post.ID, statusTitle[post.Status], util.FormatPreview(post.Text, 6, 400)),
		editKeyboard(postID))
}

// Active reports whether the user has an edit session awaiting input.
func (e *Editor) Active(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[userID]
	return ok && sess.mode != editModeNone
}

// Close discards the user's edit session if one exists.
func (e *Editor) Close(userID int64) {
	e.mu.Lock()
	delete(e.sessions, userID)
	e.mu.Unlock()
}

// HandleCallback processes the edit menu buttons. Returns false when the
// callback is not an edit action.
func (e *Editor) HandleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) bool {
	data := cb.Data
	if !strings.HasPrefix(data, "edit_") {
		return false
	}

	userID := cb.From.ID
	chatID := cb.Message.Chat.ID

	if data == "edit_done" {
		e.Close(userID)
		e.client.AnswerCallback(cb.ID, "Готово", false)
		_ = e.client.EditHTML(chatID, cb.Message.MessageID, "✅ Редактирование завершено.", nil)
		return true
	}

	var (
		mode   editMode
		prefix string
	)
	switch {
	case strings.HasPrefix(data, "edit_text_"):
		mode, prefix = editModeText, "edit_text_"
	case strings.HasPrefix(data, "edit_buttons_"):
		mode, prefix = editModeButtons, "edit_buttons_"
	default:
		return false
	}

	postID, ok := parsePostID(data, prefix)
	if !ok {
		return true
	}

	e.mu.Lock()
	e.sessions[userID] = &editSession{postID: postID, mode: mode}
	e.mu.Unlock()

	e.client.AnswerCallback(cb.ID, "", false)
	if mode == editModeText {
		e.reply(chatID, "📝 Отправьте новый текст поста.")
	} else {
		e.reply(chatID,
			"🔗 Отправьте новый набор кнопок, по одной на строку:\n"+
				"<code>Текст - https://example.com</code>\n\n"+
				"«удалить» — убрать все кнопки.")
	}
	return true
}

// HandleMessage consumes the replacement text or button list for an open edit
// session. Returns false when the user has no pending edit input.
func (e *Editor) HandleMessage(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg.From == nil || msg.Text == "" {
		return false
	}

	e.mu.Lock()
	sess, ok := e.sessions[msg.From.ID]
	if ok && sess.mode == editModeNone {
		ok = false
	}
	var postID uint
	var mode editMode
	if ok {
		postID = sess.postID
		mode = sess.mode
		sess.mode = editModeNone
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	switch mode {
	case editModeText:
		e.applyText(ctx, msg, postID)
	case editModeButtons:
		e.applyButtons(ctx, msg, postID)
	}
	return true
}

func (e *Editor) applyText(ctx context.Context, msg *tgbotapi.Message, postID uint) {
	entities := telegram.FromMessageEntities(msg.Entities)

	if err := e.store.UpdateText(ctx, postID, msg.Text, entities); err != nil {
		e.logger.Error("Failed to update post text", zap.Uint("post_id", postID), zap.Error(err))
		e.reply(msg.Chat.ID, "❌ Не удалось сохранить новый текст.")
		return
	}

	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		e.reply(msg.Chat.ID, "❌ Пост не найден.")
		return
	}

	if post.Status == models.StatusPublished {
		if err := e.publisher.EditPublishedText(ctx, post, msg.Text, entities); err != nil {
			e.logger.Error("Failed to edit channel message",
				zap.Uint("post_id", postID), zap.Error(err))
			e.reply(msg.Chat.ID,
				"⚠️ Текст сохранён, но обновить сообщение в канале не удалось.")
			return
		}
		e.replyKeyboard(msg.Chat.ID,
			fmt.Sprintf("✅ Текст поста #%d обновлён, сообщение в канале изменено.", postID),
			editKeyboard(postID))
		return
	}

	e.replyKeyboard(msg.Chat.ID,
		fmt.Sprintf("✅ Текст поста #%d обновлён.", postID),
		editKeyboard(postID))
}

func (e *Editor) applyButtons(ctx context.Context, msg *tgbotapi.Message, postID uint) {
	var buttons []models.Button

	if !isRemoveWord(msg.Text) {
		specs := util.ParseButtons(msg.Text)
		if len(specs) == 0 {
			e.reply(msg.Chat.ID,
				"❌ Не удалось распознать ни одной кнопки.\n\n"+
					"Формат: <code>Текст - https://example.com</code>, по одной кнопке на строку.")
			// Keep the session open for another attempt.
			e.mu.Lock()
			e.sessions[msg.From.ID] = &editSession{postID: postID, mode: editModeButtons}
			e.mu.Unlock()
			return
		}
		for i, spec := range specs {
			buttons = append(buttons, models.Button{Text: spec.Label, URL: spec.URL, Row: i})
		}
	}

	if err := e.store.ReplaceButtons(ctx, postID, buttons); err != nil {
		e.logger.Error("Failed to replace buttons", zap.Uint("post_id", postID), zap.Error(err))
		e.reply(msg.Chat.ID, "❌ Не удалось сохранить кнопки.")
		return
	}

	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		e.reply(msg.Chat.ID, "❌ Пост не найден.")
		return
	}

	if post.Status == models.StatusPublished {
		if err := e.publisher.EditPublishedButtons(ctx, post); err != nil {
			e.logger.Error("Failed to edit channel keyboard",
				zap.Uint("post_id", postID), zap.Error(err))
			e.reply(msg.Chat.ID,
				"⚠️ Кнопки сохранены, но обновить сообщение в канале не удалось.")
			return
		}
	}

	e.replyKeyboard(msg.Chat.ID,
		fmt.Sprintf("✅ Кнопки поста #%d обновлены (%d шт.).", postID, len(buttons)),
		editKeyboard(postID))
}

func (e *Editor) reply(chatID int64, text string) {
	if _, err := e.client.ReplyHTML(chatID, text, nil); err != nil {
		e.logger.Warn("Failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (e *Editor) replyKeyboard(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	if _, err := e.client.ReplyHTML(chatID, text, kb); err != nil {
		e.logger.Warn("Failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func isRemoveWord(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "удалить", "remove", "нет":
		return true
	}
	return false
}
