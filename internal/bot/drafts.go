package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
	"github.com/egorkrivoshey335-create/bot-posts/internal/service"
	"github.com/egorkrivoshey335-create/bot-posts/pkg/timeparse"
	"github.com/egorkrivoshey335-create/bot-posts/pkg/util"
)

// listFetchLimit bounds how many posts one list view loads; pagination
// happens over this window.
const listFetchLimit = 100

// listView remembers where the author is in the list UI so detail views can
// navigate back.
type listView struct {
	page     int
	filter   string
	allUsers bool
}

func filterStatus(filter string) models.PostStatus {
	switch filter {
	case "draft":
		return models.StatusDraft
	case "scheduled":
		return models.StatusScheduled
	case "published":
		return models.StatusPublished
	case "failed":
		return models.StatusFailed
	default:
		return ""
	}
}

func (b *Bot) showPostsList(ctx context.Context, chatID, userID int64, view listView, editMessageID int) {
	var (
		posts []models.Post
		err   error
	)
	if view.allUsers {
		posts, err = b.store.ListAll(ctx, filterStatus(view.filter), listFetchLimit, 0)
	} else {
		posts, err = b.store.ListByAuthor(ctx, userID, filterStatus(view.filter), listFetchLimit, 0)
	}
	if err != nil {
		b.logger.Error("Failed to load posts list", zap.Error(err))
		b.reply(chatID, "❌ Не удалось загрузить список постов.")
		return
	}

	b.listMu.Lock()
	b.listState[userID] = view
	b.listMu.Unlock()

	title := "📋 <b>Ваши посты</b>"
	if view.allUsers {
		title = "📋 <b>Все посты</b>"
	}

	if len(posts) == 0 {
		text := title + "\n\nПока пусто. Создайте пост командой /new."
		if editMessageID != 0 {
			_ = b.client.EditHTML(chatID, editMessageID, text, postsListKeyboard(nil, 0, 1, view.filter, view.allUsers))
		} else {
			b.reply(chatID, text)
		}
		return
	}

	totalPages := (len(posts) + postsPerPage - 1) / postsPerPage
	page := view.page
	if page >= totalPages {
		page = totalPages - 1
	}
	if page < 0 {
		page = 0
	}

	start := page * postsPerPage
	end := start + postsPerPage
	if end > len(posts) {
		end = len(posts)
	}
	pagePosts := posts[start:end]

	text := fmt.Sprintf("%s\n\nВсего: %d", title, len(posts))
	kb := postsListKeyboard(pagePosts, page, totalPages, view.filter, view.allUsers)

	if editMessageID != 0 {
		if err := b.client.EditHTML(chatID, editMessageID, text, kb); err != nil {
			b.logger.Warn("Failed to update posts list", zap.Error(err))
		}
		return
	}
	if _, err := b.client.ReplyHTML(chatID, text, kb); err != nil {
		b.logger.Warn("Failed to send posts list", zap.Error(err))
	}
}

func (b *Bot) showPostView(ctx context.Context, chatID int64, messageID int, postID uint) {
	post, err := b.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			_ = b.client.EditHTML(chatID, messageID, "❌ Пост не найден. Возможно, он был удалён.", nil)
			return
		}
		b.logger.Error("Failed to load post", zap.Uint("post_id", postID), zap.Error(err))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Пост #%d</b>\n", post.ID)
	fmt.Fprintf(&sb, "Статус: %s\n", statusTitle[post.Status])
	if post.AuthorUsername != "" {
		fmt.Fprintf(&sb, "Автор: @%s\n", util.EscapeHTML(post.AuthorUsername))
	}
	fmt.Fprintf(&sb, "Создан: %s\n", post.CreatedAt.In(b.loc).Format("02.01.2006 15:04"))

	now := time.Now()
	if post.Status == models.StatusScheduled && post.ScheduledAt != nil {
		fmt.Fprintf(&sb, "Публикация: %s\n", timeparse.Format(*post.ScheduledAt, now, b.loc))
	}
	if post.Status == models.StatusPublished && post.PublishedAt != nil {
		fmt.Fprintf(&sb, "Опубликован: %s\n", timeparse.Format(*post.PublishedAt, now, b.loc))
	}
	if len(post.Media) > 0 {
		fmt.Fprintf(&sb, "Медиа: %d\n", len(post.Media))
	}
	if len(post.Buttons) > 0 {
		fmt.Fprintf(&sb, "Кнопок: %d\n", len(post.Buttons))
	}
	fmt.Fprintf(&sb, "\n%s", util.FormatPreview(post.Text, 6, 400))

	if err := b.client.EditHTML(chatID, messageID, sb.String(), postViewKeyboard(post)); err != nil {
		b.logger.Warn("Failed to show post view", zap.Uint("post_id", postID), zap.Error(err))
	}
}

// handlePostsCallback processes list navigation and per-post actions. Returns
// false when the callback belongs to another component.
func (b *Bot) handlePostsCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) bool {
	data := cb.Data
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID
	userID := cb.From.ID

	switch {
	case data == "posts_noop":
		b.client.AnswerCallback(cb.ID, "", false)
		return true

	case data == "posts_back":
		b.client.AnswerCallback(cb.ID, "", false)
		b.listMu.Lock()
		view, ok := b.listState[userID]
		b.listMu.Unlock()
		if !ok {
			view = listView{filter: "all"}
		}
		b.showPostsList(ctx, chatID, userID, view, messageID)
		return true

	case strings.HasPrefix(data, "posts_page_"):
		rest := strings.TrimPrefix(data, "posts_page_")
		pageStr, filter, ok := strings.Cut(rest, "_")
		if !ok {
			return true
		}
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return true
		}
		b.client.AnswerCallback(cb.ID, "", false)

		b.listMu.Lock()
		view := b.listState[userID]
		b.listMu.Unlock()
		view.page = page
		view.filter = filter
		b.showPostsList(ctx, chatID, userID, view, messageID)
		return true

	case strings.HasPrefix(data, "posts_filter_"):
		filter := strings.TrimPrefix(data, "posts_filter_")
		b.client.AnswerCallback(cb.ID, "", false)

		b.listMu.Lock()
		view := b.listState[userID]
		b.listMu.Unlock()
		view.page = 0
		view.filter = filter
		b.showPostsList(ctx, chatID, userID, view, messageID)
		return true

	case strings.HasPrefix(data, "post_view_"):
		id, ok := parsePostID(data, "post_view_")
		if !ok {
			return true
		}
		b.client.AnswerCallback(cb.ID, "", false)
		b.showPostView(ctx, chatID, messageID, id)
		return true

	case strings.HasPrefix(data, "post_publish_"):
		id, ok := parsePostID(data, "post_publish_")
		if !ok {
			return true
		}
		b.publishNow(ctx, cb, id)
		return true

	case strings.HasPrefix(data, "post_schedule_"):
		id, ok := parsePostID(data, "post_schedule_")
		if !ok {
			return true
		}
		b.client.AnswerCallback(cb.ID, "", false)
		b.scheduleMu.Lock()
		b.schedulePending[userID] = id
		b.scheduleMu.Unlock()
		b.reply(chatID, fmt.Sprintf(
			"⏰ <b>Когда опубликовать пост #%d?</b>\n\n"+
				"• <code>15:30</code> — сегодня\n"+
				"• <code>завтра 15:30</code>\n"+
				"• <code>25.01 15:30</code>", id))
		return true

	case strings.HasPrefix(data, "post_unschedule_"):
		id, ok := parsePostID(data, "post_unschedule_")
		if !ok {
			return true
		}
		b.unschedule(ctx, cb, id)
		return true

	case strings.HasPrefix(data, "post_delete_"):
		id, ok := parsePostID(data, "post_delete_")
		if !ok {
			return true
		}
		b.deletePost(ctx, cb, id)
		return true

	case strings.HasPrefix(data, "post_retry_"):
		id, ok := parsePostID(data, "post_retry_")
		if !ok {
			return true
		}
		b.retryPost(ctx, cb, id)
		return true

	case strings.HasPrefix(data, "post_edit_"):
		id, ok := parsePostID(data, "post_edit_")
		if !ok {
			return true
		}
		b.client.AnswerCallback(cb.ID, "", false)
		b.editor.Open(ctx, chatID, userID, id)
		return true
	}

	return false
}

// publishNow publishes a draft, scheduled or failed post immediately,
// cancelling any pending timer first so the post cannot fire twice.
func (b *Bot) publishNow(ctx context.Context, cb *tgbotapi.CallbackQuery, postID uint) {
	post, err := b.store.GetPost(ctx, postID)
	if err != nil {
		b.client.AnswerCallback(cb.ID, "Пост не найден", true)
		return
	}
	switch post.Status {
	case models.StatusPublished:
		b.client.AnswerCallback(cb.ID, "Пост уже опубликован", true)
		return
	case models.StatusFailed:
		// Failed posts go through the retry button back to draft first.
		b.client.AnswerCallback(cb.ID, "Сначала верните пост в черновики", true)
		return
	}

	if post.SchedulerJobID != "" {
		b.scheduler.Cancel(post.SchedulerJobID)
	}

	b.client.AnswerCallback(cb.ID, "⏳ Публикую...", false)

	msgID, err := b.publisher.PublishAndMark(ctx, post)
	if err != nil {
		_ = b.client.EditHTML(cb.Message.Chat.ID, cb.Message.MessageID, fmt.Sprintf(
			"❌ <b>Ошибка публикации поста #%d</b>\n\n"+
				"Пост сохранён со статусом «ошибка», повторить можно из карточки поста.", postID), nil)
		return
	}

	_ = b.client.EditHTML(cb.Message.Chat.ID, cb.Message.MessageID, fmt.Sprintf(
		"✅ <b>Пост #%d опубликован!</b>\n\nID сообщения: <code>%d</code>", postID, msgID), nil)
}

// handleScheduleInput consumes the time text for a pending "schedule existing
// post" request. Returns false when the author has no such request open.
func (b *Bot) handleScheduleInput(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg.From == nil || msg.Text == "" {
		return false
	}

	b.scheduleMu.Lock()
	postID, ok := b.schedulePending[msg.From.ID]
	b.scheduleMu.Unlock()
	if !ok {
		return false
	}

	res, err := timeparse.Resolve(msg.Text, time.Now(), b.loc)
	if err != nil {
		b.reply(msg.Chat.ID, timeparse.Hint)
		return true
	}

	b.scheduleMu.Lock()
	delete(b.schedulePending, msg.From.ID)
	b.scheduleMu.Unlock()

	if res.Immediate {
		post, err := b.store.GetPost(ctx, postID)
		if err != nil {
			b.reply(msg.Chat.ID, "❌ Пост не найден.")
			return true
		}
		if _, err := b.publisher.PublishAndMark(ctx, post); err != nil {
			b.reply(msg.Chat.ID, fmt.Sprintf("❌ Ошибка публикации поста #%d.", postID))
			return true
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ Пост #%d опубликован!", postID))
		return true
	}

	if err := b.store.Schedule(ctx, postID, res.At, service.JobID(postID)); err != nil {
		b.logger.Error("Failed to schedule post", zap.Uint("post_id", postID), zap.Error(err))
		b.reply(msg.Chat.ID, "❌ Не удалось запланировать пост.")
		return true
	}
	b.scheduler.Schedule(postID, res.At)

	b.reply(msg.Chat.ID, fmt.Sprintf(
		"⏰ Пост #%d запланирован на %s.", postID, timeparse.Format(res.At, time.Now(), b.loc)))
	return true
}

func (b *Bot) unschedule(ctx context.Context, cb *tgbotapi.CallbackQuery, postID uint) {
	post, err := b.store.GetPost(ctx, postID)
	if err != nil {
		b.client.AnswerCallback(cb.ID, "Пост не найден", true)
		return
	}

	// Store first: if the timer outlives the update for a moment, a stray
	// fire sees a non-scheduled post and skips it.
	if err := b.store.Unschedule(ctx, postID); err != nil {
		b.logger.Error("Failed to unschedule post", zap.Uint("post_id", postID), zap.Error(err))
		b.client.AnswerCallback(cb.ID, "Не удалось отменить публикацию", true)
		return
	}
	if post.SchedulerJobID != "" {
		b.scheduler.Cancel(post.SchedulerJobID)
	}

	b.client.AnswerCallback(cb.ID, "Публикация отменена", false)
	b.showPostView(ctx, cb.Message.Chat.ID, cb.Message.MessageID, postID)
}

func (b *Bot) deletePost(ctx context.Context, cb *tgbotapi.CallbackQuery, postID uint) {
	post, err := b.store.GetPost(ctx, postID)
	if err != nil {
		b.client.AnswerCallback(cb.ID, "Пост не найден", true)
		return
	}

	if err := b.store.DeletePost(ctx, postID); err != nil {
		if errors.Is(err, service.ErrPublishedImmutable) {
			b.client.AnswerCallback(cb.ID, "Опубликованные посты удалить нельзя", true)
			return
		}
		b.logger.Error("Failed to delete post", zap.Uint("post_id", postID), zap.Error(err))
		b.client.AnswerCallback(cb.ID, "Не удалось удалить пост", true)
		return
	}

	// A timer outliving the delete is harmless; its fire finds no post.
	if post.SchedulerJobID != "" {
		b.scheduler.Cancel(post.SchedulerJobID)
	}

	b.client.AnswerCallback(cb.ID, "Пост удалён", false)
	_ = b.client.EditHTML(cb.Message.Chat.ID, cb.Message.MessageID,
		fmt.Sprintf("🗑 Пост #%d удалён.", postID), nil)
}

func (b *Bot) retryPost(ctx context.Context, cb *tgbotapi.CallbackQuery, postID uint) {
	if err := b.store.ResetToDraft(ctx, postID); err != nil {
		b.logger.Error("Failed to reset post", zap.Uint("post_id", postID), zap.Error(err))
		b.client.AnswerCallback(cb.ID, "Не удалось вернуть пост в черновики", true)
		return
	}

	b.client.AnswerCallback(cb.ID, "Пост возвращён в черновики", false)
	b.showPostView(ctx, cb.Message.Chat.ID, cb.Message.MessageID, postID)
}

func parsePostID(data, prefix string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(data, prefix), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
