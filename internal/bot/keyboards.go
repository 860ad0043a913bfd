package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
	"github.com/egorkrivoshey335-create/bot-posts/pkg/util"
)

const postsPerPage = 5

var statusEmoji = map[models.PostStatus]string{
	models.StatusDraft:     "📝",
	models.StatusScheduled: "⏰",
	models.StatusPublished: "✅",
	models.StatusFailed:    "❌",
}

var statusTitle = map[models.PostStatus]string{
	models.StatusDraft:     "📝 Черновик",
	models.StatusScheduled: "⏰ Запланирован",
	models.StatusPublished: "✅ Опубликован",
	models.StatusFailed:    "❌ Ошибка публикации",
}

func postsListKeyboard(posts []models.Post, page, totalPages int, filter string, showAuthor bool) *tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton

	for _, post := range posts {
		emoji, ok := statusEmoji[post.Status]
		if !ok {
			emoji = "❓"
		}

		preview := "—"
		if post.Text != "" {
			preview = util.Truncate(post.Text, 23)
		}

		author := ""
		if showAuthor && post.AuthorUsername != "" {
			author = "@" + util.Truncate(post.AuthorUsername, 8) + " "
		}

		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%s #%d %s%s", emoji, post.ID, author, preview),
				fmt.Sprintf("post_view_%d", post.ID),
			),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("◀️", fmt.Sprintf("posts_page_%d_%s", page-1, filter)))
	}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d/%d", page+1, totalPages), "posts_noop"))
	if page < totalPages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("▶️", fmt.Sprintf("posts_page_%d_%s", page+1, filter)))
	}
	kb = append(kb, nav)

	check := func(f string) string {
		if f == filter {
			return " ✓"
		}
		return ""
	}
	kb = append(kb, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📝 Черновики"+check("draft"), "posts_filter_draft"),
		tgbotapi.NewInlineKeyboardButtonData("⏰ Запланированные"+check("scheduled"), "posts_filter_scheduled"),
	))
	kb = append(kb, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Опубликованные"+check("published"), "posts_filter_published"),
		tgbotapi.NewInlineKeyboardButtonData("📋 Все"+check("all"), "posts_filter_all"),
	))

	markup := tgbotapi.NewInlineKeyboardMarkup(kb...)
	return &markup
}

func postViewKeyboard(post *models.Post) *tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton

	switch post.Status {
	case models.StatusDraft:
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📤 Опубликовать", fmt.Sprintf("post_publish_%d", post.ID)),
			tgbotapi.NewInlineKeyboardButtonData("⏰ Запланировать", fmt.Sprintf("post_schedule_%d", post.ID)),
		))
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Редактировать", fmt.Sprintf("post_edit_%d", post.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", fmt.Sprintf("post_delete_%d", post.ID)),
		))
	case models.StatusScheduled:
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📤 Опубликовать сейчас", fmt.Sprintf("post_publish_%d", post.ID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отменить", fmt.Sprintf("post_unschedule_%d", post.ID)),
		))
	case models.StatusPublished:
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Редактировать", fmt.Sprintf("post_edit_%d", post.ID)),
		))
	case models.StatusFailed:
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔁 Вернуть в черновики", fmt.Sprintf("post_retry_%d", post.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", fmt.Sprintf("post_delete_%d", post.ID)),
		))
	}

	kb = append(kb, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад к списку", "posts_back"),
	))

	markup := tgbotapi.NewInlineKeyboardMarkup(kb...)
	return &markup
}

func wizardConfirmKeyboard(scheduled bool) *tgbotapi.InlineKeyboardMarkup {
	saveLabel := "💾 Сохранить черновик"
	if scheduled {
		saveLabel = "⏰ Запланировать"
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📤 Опубликовать сейчас", "wizard_publish"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(saveLabel, "wizard_save"),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", "wizard_cancel"),
		),
	)
	return &markup
}

func editKeyboard(postID uint) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Изменить текст", fmt.Sprintf("edit_text_%d", postID)),
			tgbotapi.NewInlineKeyboardButtonData("🔗 Изменить кнопки", fmt.Sprintf("edit_buttons_%d", postID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Готово", "edit_done"),
		),
	)
	return &markup
}
