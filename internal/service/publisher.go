package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
	"github.com/egorkrivoshey335-create/bot-posts/internal/telegram"
)

// Album deliveries cannot carry an inline keyboard, so the keyboard goes into
// a trailing message pointing at the album above.
const (
	albumKeyboardNote        = "👆"
	albumKeyboardPreviewNote = "👆 <i>Кнопки будут под постом</i>"
)

// Publisher renders posts into outbound channel deliveries. The preview path
// and the publish path share one renderer so previews are exact.
type Publisher struct {
	tg        telegram.Sender
	store     *Store
	logger    *zap.Logger
	channelID int64
}

func NewPublisher(tg telegram.Sender, store *Store, channelID int64, logger *zap.Logger) *Publisher {
	return &Publisher{
		tg:        tg,
		store:     store,
		logger:    logger,
		channelID: channelID,
	}
}

// BuildKeyboard assembles the inline keyboard from a post's button set:
// buttons sharing a row on one line in position order, rows top to bottom.
// Returns nil for an empty set.
func BuildKeyboard(buttons []models.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rowNums := make([]int, 0)
	rows := make(map[int][]models.Button)
	for _, b := range buttons {
		if _, ok := rows[b.Row]; !ok {
			rowNums = append(rowNums, b.Row)
		}
		rows[b.Row] = append(rows[b.Row], b)
	}
	sort.Ints(rowNums)

	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rowNums))
	for _, rowNum := range rowNums {
		row := rows[rowNum]
		sort.Slice(row, func(i, j int) bool { return row[i].Position < row[j].Position })

		line := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			line = append(line, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
		}
		keyboard = append(keyboard, line)
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	return &markup
}

// Publish sends a post to the channel and returns the primary message id
// (for an album, the first message). Transport failures are returned to the
// caller; this method never retries.
func (p *Publisher) Publish(ctx context.Context, post *models.Post) (int, error) {
	return p.render(ctx, p.channelID, post, false)
}

// Preview renders a post into the author's own chat using the exact
// publication renderer.
func (p *Publisher) Preview(ctx context.Context, chatID int64, post *models.Post) error {
	_, err := p.render(ctx, chatID, post, true)
	return err
}

func (p *Publisher) render(ctx context.Context, chatID int64, post *models.Post, preview bool) (int, error) {
	keyboard := BuildKeyboard(post.Buttons)
	opts := telegram.SendOptions{
		DisableLinkPreview:  post.DisableLinkPreview,
		DisableNotification: post.DisableNotification,
	}

	// Text-only post.
	if len(post.Media) == 0 {
		return p.tg.SendText(ctx, chatID, post.Text, post.Entities, keyboard, opts)
	}

	// Single media item: text is the caption, keyboard attaches directly.
	if len(post.Media) == 1 {
		m := post.Media[0]
		return p.tg.SendMedia(ctx, chatID, m.Kind, m.FileID, post.Text, post.Entities, keyboard, opts)
	}

	// Album: text and entities ride on the first item's caption. Keyboards
	// cannot attach to a media group, so a non-empty one goes in a trailing
	// message.
	items := make([]telegram.GroupItem, 0, len(post.Media))
	for i, m := range post.Media {
		item := telegram.GroupItem{Kind: m.Kind, FileID: m.FileID}
		if i == 0 {
			item.Caption = post.Text
			item.Entities = post.Entities
		}
		items = append(items, item)
	}

	ids, err := p.tg.SendMediaGroup(ctx, chatID, items, opts)
	if err != nil {
		return 0, err
	}

	if keyboard != nil {
		note := albumKeyboardNote
		noteOpts := opts
		if preview {
			note = albumKeyboardPreviewNote
			noteOpts.HTML = true
		}
		if _, err := p.tg.SendText(ctx, chatID, note, nil, keyboard, noteOpts); err != nil {
			return 0, err
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// PublishAndMark publishes a post and records the outcome: published with the
// channel message id on success, failed on a delivery error. The error is
// returned for the caller's user-visible report; no automatic retry happens.
func (p *Publisher) PublishAndMark(ctx context.Context, post *models.Post) (int, error) {
	// Refuse before sending: a post whose status cannot reach published would
	// end up live in the channel with no record of it.
	if post.Status != models.StatusDraft && post.Status != models.StatusScheduled {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, post.Status, models.StatusPublished)
	}

	messageID, err := p.Publish(ctx, post)
	if err != nil {
		p.logger.Error("Failed to publish post",
			zap.Uint("post_id", post.ID),
			zap.Error(err))
		if markErr := p.store.MarkFailed(ctx, post.ID); markErr != nil {
			p.logger.Error("Failed to mark post as failed",
				zap.Uint("post_id", post.ID),
				zap.Error(markErr))
		}
		return 0, err
	}

	if err := p.store.MarkPublished(ctx, post.ID, messageID, time.Now().UTC()); err != nil {
		p.logger.Error("Post sent but status update failed",
			zap.Uint("post_id", post.ID),
			zap.Error(err))
		return messageID, err
	}

	p.logger.Info("Post published",
		zap.Uint("post_id", post.ID),
		zap.Int("message_id", messageID))
	return messageID, nil
}

// PublishScheduled is the scheduler's fire callback. It reads the current
// stored state of the post, so edits made between scheduling and firing are
// honored.
func (p *Publisher) PublishScheduled(ctx context.Context, postID uint) {
	p.logger.Info("Publishing scheduled post", zap.Uint("post_id", postID))

	post, err := p.store.GetPost(ctx, postID)
	if err != nil {
		p.logger.Error("Scheduled post not found", zap.Uint("post_id", postID), zap.Error(err))
		return
	}
	if post.Status != models.StatusScheduled {
		p.logger.Warn("Post is no longer scheduled, skipping",
			zap.Uint("post_id", postID),
			zap.String("status", string(post.Status)))
		return
	}

	// Outcome bookkeeping happens inside; a delivery failure ends as
	// status=failed with no retry.
	_, _ = p.PublishAndMark(ctx, post)
}

// EditPublishedText pushes new text to the published channel message: a text
// edit when the post has no media, a caption edit otherwise. Re-applying the
// same edit succeeds with no effect.
func (p *Publisher) EditPublishedText(ctx context.Context, post *models.Post, text string, entities []models.TextEntity) error {
	if post.PublishedMessageID == nil {
		return ErrNotFound
	}

	keyboard := keyboardForEdit(post)
	opts := telegram.SendOptions{DisableLinkPreview: post.DisableLinkPreview}

	var err error
	if len(post.Media) == 0 {
		err = p.tg.EditText(ctx, p.channelID, *post.PublishedMessageID, text, entities, keyboard, opts)
	} else {
		err = p.tg.EditCaption(ctx, p.channelID, *post.PublishedMessageID, text, entities, keyboard)
	}
	if err != nil && !isNotModified(err) {
		return err
	}
	return nil
}

// EditPublishedButtons rebuilds the keyboard from the post's current button
// set and pushes a keyboard-only update to the published message.
func (p *Publisher) EditPublishedButtons(ctx context.Context, post *models.Post) error {
	if post.PublishedMessageID == nil {
		return ErrNotFound
	}

	err := p.tg.EditKeyboard(ctx, p.channelID, *post.PublishedMessageID, BuildKeyboard(post.Buttons))
	if err != nil && !isNotModified(err) {
		return err
	}
	return nil
}

// Albums never carry an attached keyboard, so caption edits on them must not
// try to set one.
func keyboardForEdit(post *models.Post) *tgbotapi.InlineKeyboardMarkup {
	if len(post.Media) > 1 {
		return nil
	}
	return BuildKeyboard(post.Buttons)
}

// Telegram rejects edits that change nothing; for idempotency that counts as
// success.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
