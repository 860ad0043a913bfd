package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
	"github.com/egorkrivoshey335-create/bot-posts/internal/service"
	"github.com/egorkrivoshey335-create/bot-posts/internal/telegram"
	"github.com/egorkrivoshey335-create/bot-posts/pkg/timeparse"
	"github.com/egorkrivoshey335-create/bot-posts/pkg/util"
)

const maxAlbumSize = 10

type wizardState int

const (
	stateAwaitingContent wizardState = iota
	stateAwaitingMoreMedia
	stateAwaitingButtons
	stateAwaitingSchedule
	stateConfirmation
)

// wizardSession is the in-memory accumulator of one author's post-in-
// progress. Losing it on restart is acceptable; persisted posts are not
// created until confirmation.
type wizardSession struct {
	state    wizardState
	authorID int64
	username string

	text     string
	entities []models.TextEntity
	media    []service.MediaItem
	buttons  []models.Button
	nextRow  int

	schedule *timeparse.Result
}

func (s *wizardSession) buildPost() *models.Post {
	post := &models.Post{
		AuthorID:           s.authorID,
		AuthorUsername:     s.username,
		Text:               s.text,
		Entities:           s.entities,
		Status:             models.StatusDraft,
		DisableLinkPreview: true,
	}

	for i, item := range s.media {
		m := models.Media{
			FileID:       item.FileID,
			FileUniqueID: item.FileUniqueID,
			Kind:         item.Kind,
			Position:     i,
		}
		if len(s.media) == 1 {
			m.Caption = item.Caption
		}
		post.Media = append(post.Media, m)
	}

	post.Buttons = append(post.Buttons, s.buttons...)
	return post
}

// Wizard drives the multi-step post composition flow, one independent
// session per author.
type Wizard struct {
	client     *telegram.Client
	store      *service.Store
	publisher  *service.Publisher
	scheduler  *service.Scheduler
	aggregator *service.Aggregator
	logger     *zap.Logger
	loc        *time.Location

	mu       sync.Mutex
	sessions map[int64]*wizardSession
}

func NewWizard(
	client *telegram.Client,
	store *service.Store,
	publisher *service.Publisher,
	scheduler *service.Scheduler,
	aggregator *service.Aggregator,
	loc *time.Location,
	logger *zap.Logger,
) *Wizard {
	return &Wizard{
		client:     client,
		store:      store,
		publisher:  publisher,
		scheduler:  scheduler,
		aggregator: aggregator,
		logger:     logger,
		loc:        loc,
		sessions:   make(map[int64]*wizardSession),
	}
}

// Start begins a fresh flow for the author, discarding any flow already in
// progress.
func (w *Wizard) Start(msg *tgbotapi.Message) {
	user := msg.From
	if user == nil {
		return
	}

	w.mu.Lock()
	w.sessions[user.ID] = &wizardSession{
		state:    stateAwaitingContent,
		authorID: user.ID,
		username: user.UserName,
	}
	w.mu.Unlock()

	w.logger.Info("Wizard started", zap.Int64("author_id", user.ID))
	w.reply(msg.Chat.ID,
		"📝 <b>Создание нового поста</b>\n\n"+
			"Отправьте текст поста или медиафайл.\n"+
			"Для отмены используйте /cancel")
}

// Cancel discards the author's in-progress flow. Nothing is persisted.
func (w *Wizard) Cancel(chatID, userID int64) {
	w.mu.Lock()
	_, active := w.sessions[userID]
	delete(w.sessions, userID)
	w.mu.Unlock()

	if active {
		w.logger.Info("Wizard cancelled", zap.Int64("author_id", userID))
		w.reply(chatID, "❌ Создание поста отменено.")
	} else {
		w.reply(chatID, "Нечего отменять — активного мастера нет.")
	}
}

// Active reports whether the author has a flow in progress.
func (w *Wizard) Active(userID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.sessions[userID]
	return ok
}

// HandleMessage routes a non-command message into the author's current
// wizard step. Messages that don't fit the step are ignored in place.
func (w *Wizard) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	w.mu.Lock()
	sess, ok := w.sessions[msg.From.ID]
	var state wizardState
	if ok {
		state = sess.state
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	switch state {
	case stateAwaitingContent:
		w.handleContent(ctx, sess, msg)
	case stateAwaitingMoreMedia:
		w.handleMoreMedia(ctx, sess, msg)
	case stateAwaitingButtons:
		w.handleButtons(ctx, sess, msg)
	case stateAwaitingSchedule:
		w.handleSchedule(ctx, sess, msg)
	case stateConfirmation:
		w.reply(msg.Chat.ID, "Используйте кнопки под предпросмотром или /cancel.")
	}
}

func (w *Wizard) handleContent(ctx context.Context, sess *wizardSession, msg *tgbotapi.Message) {
	if msg.Text != "" {
		w.mu.Lock()
		sess.text = msg.Text
		sess.entities = telegram.FromMessageEntities(msg.Entities)
		sess.state = stateAwaitingButtons
		w.mu.Unlock()

		w.sendPreview(ctx, sess, msg.Chat.ID)
		w.promptButtons(msg.Chat.ID)
		return
	}

	item, ok := extractMediaItem(msg)
	if !ok {
		return
	}

	items, final := w.aggregator.Observe(ctx, msg.MediaGroupID, item)
	if !final {
		return
	}

	w.mu.Lock()
	if w.sessions[sess.authorID] != sess || sess.state != stateAwaitingContent {
		w.mu.Unlock()
		return
	}
	if len(items) > maxAlbumSize {
		items = items[:maxAlbumSize]
	}
	sess.media = items
	if first := items[0]; first.Caption != "" {
		sess.text = first.Caption
		sess.entities = first.Entities
	}

	// Albums grow only from photo/video; other kinds go straight to buttons.
	if items[0].Kind.SupportsAlbum() && len(items) < maxAlbumSize {
		sess.state = stateAwaitingMoreMedia
	} else {
		sess.state = stateAwaitingButtons
	}
	state := sess.state
	count := len(sess.media)
	w.mu.Unlock()

	w.sendPreview(ctx, sess, msg.Chat.ID)
	if state == stateAwaitingMoreMedia {
		w.reply(msg.Chat.ID, fmt.Sprintf(
			"🖼 Медиа добавлено (%d/%d).\n\nОтправьте ещё фото/видео или «готово», чтобы продолжить.",
			count, maxAlbumSize))
	} else {
		w.promptButtons(msg.Chat.ID)
	}
}

func (w *Wizard) handleMoreMedia(ctx context.Context, sess *wizardSession, msg *tgbotapi.Message) {
	if isDoneWord(msg.Text) {
		w.mu.Lock()
		sess.state = stateAwaitingButtons
		w.mu.Unlock()
		w.promptButtons(msg.Chat.ID)
		return
	}

	item, ok := extractMediaItem(msg)
	if !ok || !item.Kind.SupportsAlbum() {
		return
	}

	items, final := w.aggregator.Observe(ctx, msg.MediaGroupID, item)
	if !final {
		return
	}

	w.mu.Lock()
	if w.sessions[sess.authorID] != sess || sess.state != stateAwaitingMoreMedia {
		w.mu.Unlock()
		return
	}
	for _, it := range items {
		if len(sess.media) >= maxAlbumSize {
			break
		}
		sess.media = append(sess.media, it)
	}
	count := len(sess.media)
	capped := count >= maxAlbumSize
	if capped {
		sess.state = stateAwaitingButtons
	}
	w.mu.Unlock()

	if capped {
		w.reply(msg.Chat.ID, fmt.Sprintf("🖼 Достигнут предел %d медиафайлов.", maxAlbumSize))
		w.promptButtons(msg.Chat.ID)
		return
	}
	w.reply(msg.Chat.ID, fmt.Sprintf(
		"🖼 Медиа добавлено (%d/%d).\n\nОтправьте ещё фото/видео или «готово», чтобы продолжить.",
		count, maxAlbumSize))
}

func (w *Wizard) handleButtons(ctx context.Context, sess *wizardSession, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}
	if isDoneWord(msg.Text) || isSkipWord(msg.Text) {
		w.mu.Lock()
		sess.state = stateAwaitingSchedule
		w.mu.Unlock()
		w.promptSchedule(msg.Chat.ID)
		return
	}

	specs := util.ParseButtons(msg.Text)
	if len(specs) == 0 {
		w.reply(msg.Chat.ID,
			"❌ Не удалось распознать ни одной кнопки.\n\n"+
				"Формат: <code>Текст - https://example.com</code>, по одной кнопке на строку.")
		return
	}

	w.mu.Lock()
	for _, spec := range specs {
		sess.buttons = append(sess.buttons, models.Button{
			Text: spec.Label,
			URL:  spec.URL,
			Row:  sess.nextRow,
		})
		sess.nextRow++
	}
	total := len(sess.buttons)
	w.mu.Unlock()

	w.sendPreview(ctx, sess, msg.Chat.ID)
	w.reply(msg.Chat.ID, fmt.Sprintf(
		"🔗 Кнопок добавлено: %d.\n\nОтправьте ещё строки или «готово», чтобы продолжить.", total))
}

func (w *Wizard) handleSchedule(ctx context.Context, sess *wizardSession, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}

	res, err := timeparse.Resolve(msg.Text, time.Now(), w.loc)
	if err != nil {
		w.reply(msg.Chat.ID, timeparse.Hint)
		return
	}

	w.mu.Lock()
	sess.schedule = &res
	sess.state = stateConfirmation
	w.mu.Unlock()

	w.sendPreview(ctx, sess, msg.Chat.ID)

	when := "немедленно после подтверждения"
	if !res.Immediate {
		when = timeparse.Format(res.At, time.Now(), w.loc)
	}
	w.replyKeyboard(msg.Chat.ID,
		fmt.Sprintf("👆 Предпросмотр поста выше.\n\n<b>Публикация:</b> %s", when),
		wizardConfirmKeyboard(!res.Immediate))
}

// HandleCallback processes the confirmation step buttons. Returns false when
// the callback is not a wizard action.
func (w *Wizard) HandleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) bool {
	if !strings.HasPrefix(cb.Data, "wizard_") {
		return false
	}

	userID := cb.From.ID
	chatID := cb.Message.Chat.ID

	w.mu.Lock()
	sess, ok := w.sessions[userID]
	if ok && sess.state != stateConfirmation {
		ok = false
	}
	if ok {
		delete(w.sessions, userID)
	}
	w.mu.Unlock()

	if !ok {
		w.client.AnswerCallback(cb.ID, "Нет активного мастера", true)
		return true
	}

	switch cb.Data {
	case "wizard_cancel":
		w.client.AnswerCallback(cb.ID, "Отменено", false)
		_ = w.client.EditHTML(chatID, cb.Message.MessageID, "❌ Создание поста отменено.", nil)
		w.logger.Info("Wizard discarded at confirmation", zap.Int64("author_id", userID))

	case "wizard_publish":
		w.client.AnswerCallback(cb.ID, "⏳ Публикую...", false)
		w.finishPublish(ctx, sess, chatID, cb.Message.MessageID)

	case "wizard_save":
		w.client.AnswerCallback(cb.ID, "Сохраняю...", false)
		w.finishSave(ctx, sess, chatID, cb.Message.MessageID)

	default:
		w.client.AnswerCallback(cb.ID, "", false)
	}
	return true
}

func (w *Wizard) finishPublish(ctx context.Context, sess *wizardSession, chatID int64, messageID int) {
	post := sess.buildPost()
	if err := w.store.CreatePost(ctx, post); err != nil {
		w.logger.Error("Failed to persist post", zap.Error(err))
		_ = w.client.EditHTML(chatID, messageID, "❌ Не удалось сохранить пост.", nil)
		return
	}

	msgID, err := w.publisher.PublishAndMark(ctx, post)
	if err != nil {
		_ = w.client.EditHTML(chatID, messageID, fmt.Sprintf(
			"❌ <b>Ошибка публикации поста #%d</b>\n\n"+
				"Проверьте, что бот является администратором канала. "+
				"Пост сохранён со статусом «ошибка».", post.ID), nil)
		return
	}

	_ = w.client.EditHTML(chatID, messageID, fmt.Sprintf(
		"✅ <b>Пост #%d опубликован!</b>\n\nID сообщения: <code>%d</code>", post.ID, msgID), nil)
}

func (w *Wizard) finishSave(ctx context.Context, sess *wizardSession, chatID int64, messageID int) {
	post := sess.buildPost()
	if err := w.store.CreatePost(ctx, post); err != nil {
		w.logger.Error("Failed to persist post", zap.Error(err))
		_ = w.client.EditHTML(chatID, messageID, "❌ Не удалось сохранить пост.", nil)
		return
	}

	if sess.schedule == nil || sess.schedule.Immediate {
		_ = w.client.EditHTML(chatID, messageID, fmt.Sprintf(
			"💾 Пост #%d сохранён как черновик.\nСписок черновиков: /drafts", post.ID), nil)
		return
	}

	at := sess.schedule.At
	if err := w.store.Schedule(ctx, post.ID, at, service.JobID(post.ID)); err != nil {
		w.logger.Error("Failed to schedule post", zap.Uint("post_id", post.ID), zap.Error(err))
		_ = w.client.EditHTML(chatID, messageID, fmt.Sprintf(
			"⚠️ Пост #%d сохранён как черновик, но запланировать не удалось.", post.ID), nil)
		return
	}
	w.scheduler.Schedule(post.ID, at)

	_ = w.client.EditHTML(chatID, messageID, fmt.Sprintf(
		"⏰ Пост #%d запланирован на %s.", post.ID, timeparse.Format(at, time.Now(), w.loc)), nil)
}

func (w *Wizard) sendPreview(ctx context.Context, sess *wizardSession, chatID int64) {
	w.mu.Lock()
	post := sess.buildPost()
	w.mu.Unlock()

	if err := w.publisher.Preview(ctx, chatID, post); err != nil {
		w.logger.Warn("Failed to send preview",
			zap.Int64("author_id", sess.authorID),
			zap.Error(err))
	}
}

func (w *Wizard) promptButtons(chatID int64) {
	w.reply(chatID,
		"🔗 <b>Кнопки-ссылки</b>\n\n"+
			"Отправьте строки вида <code>Текст - https://example.com</code>, "+
			"каждая строка станет отдельной кнопкой.\n\n"+
			"«пропустить» — продолжить без кнопок.")
}

func (w *Wizard) promptSchedule(chatID int64) {
	w.reply(chatID,
		"⏰ <b>Когда опубликовать пост?</b>\n\n"+
			"• <code>15:30</code> — сегодня\n"+
			"• <code>завтра 15:30</code>\n"+
			"• <code>25.01 15:30</code>\n"+
			"• <code>сейчас</code> — опубликовать немедленно")
}

func (w *Wizard) reply(chatID int64, text string) {
	if _, err := w.client.ReplyHTML(chatID, text, nil); err != nil {
		w.logger.Warn("Failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (w *Wizard) replyKeyboard(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	if _, err := w.client.ReplyHTML(chatID, text, kb); err != nil {
		w.logger.Warn("Failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func isDoneWord(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "готово", "done":
		return true
	}
	return false
}

func isSkipWord(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "пропустить", "skip", "нет":
		return true
	}
	return false
}

func extractMediaItem(msg *tgbotapi.Message) (service.MediaItem, bool) {
	item := service.MediaItem{
		Caption:  msg.Caption,
		Entities: telegram.FromMessageEntities(msg.CaptionEntities),
		Seq:      msg.MessageID,
	}

	switch {
	case len(msg.Photo) > 0:
		// Highest resolution size is last.
		p := msg.Photo[len(msg.Photo)-1]
		item.Kind = models.MediaPhoto
		item.FileID = p.FileID
		item.FileUniqueID = p.FileUniqueID
	case msg.Video != nil:
		item.Kind = models.MediaVideo
		item.FileID = msg.Video.FileID
		item.FileUniqueID = msg.Video.FileUniqueID
	case msg.Document != nil:
		item.Kind = models.MediaDocument
		item.FileID = msg.Document.FileID
		item.FileUniqueID = msg.Document.FileUniqueID
	case msg.Audio != nil:
		item.Kind = models.MediaAudio
		item.FileID = msg.Audio.FileID
		item.FileUniqueID = msg.Audio.FileUniqueID
	case msg.Animation != nil:
		item.Kind = models.MediaAnimation
		item.FileID = msg.Animation.FileID
		item.FileUniqueID = msg.Animation.FileUniqueID
	default:
		return service.MediaItem{}, false
	}

	return item, true
}
