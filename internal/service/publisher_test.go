package service

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
	"github.com/egorkrivoshey335-create/bot-posts/internal/telegram"
)

type sentText struct {
	chatID   int64
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
	opts     telegram.SendOptions
}

type sentMedia struct {
	kind     models.MediaKind
	caption  string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

type sentGroup struct {
	items []telegram.GroupItem
}

// fakeSender records outbound calls instead of hitting the Bot API.
type fakeSender struct {
	texts  []sentText
	medias []sentMedia
	groups []sentGroup

	editTexts    int
	editCaptions int
	editKbs      int

	nextMessageID int
	failSend      error
	failEdit      error
}

func newFakeSender() *fakeSender {
	return &fakeSender{nextMessageID: 1000}
}

func (f *fakeSender) SendText(ctx context.Context, chatID int64, text string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts telegram.SendOptions) (int, error) {
	if f.failSend != nil {
		return 0, f.failSend
	}
	f.texts = append(f.texts, sentText{chatID: chatID, text: text, keyboard: keyboard, opts: opts})
	f.nextMessageID++
	return f.nextMessageID, nil
}

func (f *fakeSender) SendMedia(ctx context.Context, chatID int64, kind models.MediaKind, fileID, caption string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts telegram.SendOptions) (int, error) {
	if f.failSend != nil {
		return 0, f.failSend
	}
	f.medias = append(f.medias, sentMedia{kind: kind, caption: caption, keyboard: keyboard})
	f.nextMessageID++
	return f.nextMessageID, nil
}

func (f *fakeSender) SendMediaGroup(ctx context.Context, chatID int64, items []telegram.GroupItem, opts telegram.SendOptions) ([]int, error) {
	if f.failSend != nil {
		return nil, f.failSend
	}
	f.groups = append(f.groups, sentGroup{items: items})
	ids := make([]int, len(items))
	for i := range items {
		f.nextMessageID++
		ids[i] = f.nextMessageID
	}
	return ids, nil
}

func (f *fakeSender) EditText(ctx context.Context, chatID int64, messageID int, text string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup, opts telegram.SendOptions) error {
	f.editTexts++
	return f.failEdit
}

func (f *fakeSender) EditCaption(ctx context.Context, chatID int64, messageID int, caption string, entities []models.TextEntity, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	f.editCaptions++
	return f.failEdit
}

func (f *fakeSender) EditKeyboard(ctx context.Context, chatID int64, messageID int, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	f.editKbs++
	return f.failEdit
}

func newTestPublisher(t *testing.T, tg telegram.Sender) (*Publisher, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewPublisher(tg, store, -100123, zap.NewNop()), store
}

func TestPublishTextOnly(t *testing.T) {
	tg := newFakeSender()
	p, _ := newTestPublisher(t, tg)

	post := &models.Post{
		Text: "plain text",
		Buttons: []models.Button{
			{Text: "Go", URL: "https://example.com", Row: 0},
		},
	}
	if _, err := p.Publish(context.Background(), post); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(tg.texts) != 1 || len(tg.medias) != 0 || len(tg.groups) != 0 {
		t.Fatalf("expected a single text send, got texts=%d medias=%d groups=%d",
			len(tg.texts), len(tg.medias), len(tg.groups))
	}
	if tg.texts[0].keyboard == nil {
		t.Fatalf("keyboard must attach to the text message")
	}
	if tg.texts[0].chatID != -100123 {
		t.Fatalf("publish went to wrong chat: %d", tg.texts[0].chatID)
	}
}

func TestPublishSingleMedia(t *testing.T) {
	tg := newFakeSender()
	p, _ := newTestPublisher(t, tg)

	post := &models.Post{
		Text:  "caption text",
		Media: []models.Media{{FileID: "f1", Kind: models.MediaPhoto}},
		Buttons: []models.Button{
			{Text: "Go", URL: "https://example.com", Row: 0},
		},
	}
	if _, err := p.Publish(context.Background(), post); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(tg.medias) != 1 || len(tg.texts) != 0 || len(tg.groups) != 0 {
		t.Fatalf("expected a single media send, got texts=%d medias=%d groups=%d",
			len(tg.texts), len(tg.medias), len(tg.groups))
	}
	if tg.medias[0].caption != "caption text" {
		t.Fatalf("post text must become the caption, got %q", tg.medias[0].caption)
	}
	if tg.medias[0].keyboard == nil {
		t.Fatalf("keyboard must attach to the media message")
	}
}

func TestPublishAlbumWithButtons(t *testing.T) {
	tg := newFakeSender()
	p, _ := newTestPublisher(t, tg)

	post := &models.Post{
		Text: "album caption",
		Media: []models.Media{
			{FileID: "f1", Kind: models.MediaPhoto, Position: 0},
			{FileID: "f2", Kind: models.MediaVideo, Position: 1},
		},
		Buttons: []models.Button{
			{Text: "Go", URL: "https://example.com", Row: 0},
		},
	}
	if _, err := p.Publish(context.Background(), post); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(tg.groups) != 1 {
		t.Fatalf("expected exactly 1 media group, got %d", len(tg.groups))
	}
	group := tg.groups[0]
	if len(group.items) != 2 {
		t.Fatalf("expected 2 album items, got %d", len(group.items))
	}
	if group.items[0].Caption != "album caption" {
		t.Fatalf("caption must ride on the first item, got %q", group.items[0].Caption)
	}
	if group.items[1].Caption != "" {
		t.Fatalf("only the first item carries the caption")
	}

	// The keyboard cannot attach to an album; it goes in a trailing message.
	if len(tg.texts) != 1 {
		t.Fatalf("expected 1 trailing keyboard message, got %d", len(tg.texts))
	}
	if tg.texts[0].keyboard == nil {
		t.Fatalf("trailing message must carry the keyboard")
	}
}

func TestPublishAlbumWithoutButtons(t *testing.T) {
	tg := newFakeSender()
	p, _ := newTestPublisher(t, tg)

	post := &models.Post{
		Text: "no buttons",
		Media: []models.Media{
			{FileID: "f1", Kind: models.MediaPhoto},
			{FileID: "f2", Kind: models.MediaPhoto},
		},
	}
	if _, err := p.Publish(context.Background(), post); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(tg.groups) != 1 || len(tg.texts) != 0 {
		t.Fatalf("album without buttons must send no trailing message, got texts=%d", len(tg.texts))
	}
}

func TestBuildKeyboardLayout(t *testing.T) {
	buttons := []models.Button{
		{Text: "B", URL: "https://b.example.com", Row: 1, Position: 0},
		{Text: "A2", URL: "https://a2.example.com", Row: 0, Position: 1},
		{Text: "A1", URL: "https://a1.example.com", Row: 0, Position: 0},
	}

	kb := BuildKeyboard(buttons)
	if kb == nil {
		t.Fatalf("expected a keyboard")
	}
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(kb.InlineKeyboard))
	}
	if kb.InlineKeyboard[0][0].Text != "A1" || kb.InlineKeyboard[0][1].Text != "A2" {
		t.Fatalf("first row out of order: %+v", kb.InlineKeyboard[0])
	}
	if kb.InlineKeyboard[1][0].Text != "B" {
		t.Fatalf("second row wrong: %+v", kb.InlineKeyboard[1])
	}

	if BuildKeyboard(nil) != nil {
		t.Fatalf("empty button set must produce nil keyboard")
	}
}

func TestPublishAndMarkSuccess(t *testing.T) {
	tg := newFakeSender()
	p, store := newTestPublisher(t, tg)
	ctx := context.Background()

	post := makePost(700, "to the channel")
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	loaded, _ := store.GetPost(ctx, post.ID)

	msgID, err := p.PublishAndMark(ctx, loaded)
	if err != nil {
		t.Fatalf("PublishAndMark failed: %v", err)
	}
	if msgID == 0 {
		t.Fatalf("expected a message id")
	}

	got, _ := store.GetPost(ctx, post.ID)
	if got.Status != models.StatusPublished {
		t.Fatalf("expected published, got %s", got.Status)
	}
	if got.PublishedMessageID == nil || *got.PublishedMessageID != msgID {
		t.Fatalf("message id not recorded: %v", got.PublishedMessageID)
	}
}

func TestPublishAndMarkFailure(t *testing.T) {
	tg := newFakeSender()
	tg.failSend = errors.New("bot was kicked from the channel")
	p, store := newTestPublisher(t, tg)
	ctx := context.Background()

	post := makePost(700, "doomed")
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	loaded, _ := store.GetPost(ctx, post.ID)

	if _, err := p.PublishAndMark(ctx, loaded); err == nil {
		t.Fatalf("expected publish error")
	}

	got, _ := store.GetPost(ctx, post.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestPublishAndMarkRefusesFailed(t *testing.T) {
	tg := newFakeSender()
	p, store := newTestPublisher(t, tg)
	ctx := context.Background()

	post := makePost(700, "failed earlier")
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if err := store.MarkFailed(ctx, post.ID); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	loaded, _ := store.GetPost(ctx, post.ID)

	// A failed post cannot reach published, so nothing may go to the channel.
	if _, err := p.PublishAndMark(ctx, loaded); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if total := len(tg.texts) + len(tg.medias) + len(tg.groups); total != 0 {
		t.Fatalf("failed post reached the channel: %d sends", total)
	}

	got, _ := store.GetPost(ctx, post.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status must stay failed, got %s", got.Status)
	}
}

func TestPreviewAlbumNoteUsesHTML(t *testing.T) {
	tg := newFakeSender()
	p, _ := newTestPublisher(t, tg)

	post := &models.Post{
		Text: "album",
		Media: []models.Media{
			{FileID: "f1", Kind: models.MediaPhoto},
			{FileID: "f2", Kind: models.MediaPhoto},
		},
		Buttons: []models.Button{
			{Text: "Go", URL: "https://example.com", Row: 0},
		},
	}
	if err := p.Preview(context.Background(), 55, post); err != nil {
		t.Fatalf("Preview failed: %v", err)
	}

	if len(tg.texts) != 1 {
		t.Fatalf("expected 1 trailing note, got %d", len(tg.texts))
	}
	// The note carries markup and must go out in HTML parse mode.
	if !tg.texts[0].opts.HTML {
		t.Fatalf("preview note sent without HTML parse mode")
	}

	// The publish-path note is plain and stays out of HTML mode.
	tg.texts = nil
	if _, err := p.Publish(context.Background(), post); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(tg.texts) != 1 || tg.texts[0].opts.HTML {
		t.Fatalf("publish note must be plain, got %+v", tg.texts)
	}
}

func TestPublishScheduledSkipsNonScheduled(t *testing.T) {
	tg := newFakeSender()
	p, store := newTestPublisher(t, tg)
	ctx := context.Background()

	post := makePost(700, "still a draft")
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	p.PublishScheduled(ctx, post.ID)

	if len(tg.texts)+len(tg.medias)+len(tg.groups) != 0 {
		t.Fatalf("non-scheduled post must not publish")
	}
	got, _ := store.GetPost(ctx, post.ID)
	if got.Status != models.StatusDraft {
		t.Fatalf("status must be untouched, got %s", got.Status)
	}
}

func TestPublishScheduledHappyPath(t *testing.T) {
	tg := newFakeSender()
	p, store := newTestPublisher(t, tg)
	ctx := context.Background()

	post := makePost(700, "on time")
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if err := store.Schedule(ctx, post.ID, time.Now(), JobID(post.ID)); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	p.PublishScheduled(ctx, post.ID)

	got, _ := store.GetPost(ctx, post.ID)
	if got.Status != models.StatusPublished {
		t.Fatalf("expected published, got %s", got.Status)
	}
}

func TestEditPublishedText(t *testing.T) {
	tg := newFakeSender()
	p, _ := newTestPublisher(t, tg)
	ctx := context.Background()

	msgID := 42

	// Text post: plain edit.
	textPost := &models.Post{Text: "old", PublishedMessageID: &msgID}
	if err := p.EditPublishedText(ctx, textPost, "new", nil); err != nil {
		t.Fatalf("EditPublishedText failed: %v", err)
	}
	if tg.editTexts != 1 || tg.editCaptions != 0 {
		t.Fatalf("expected text edit, got texts=%d captions=%d", tg.editTexts, tg.editCaptions)
	}

	// Media post: caption edit.
	mediaPost := &models.Post{
		Text:               "old",
		PublishedMessageID: &msgID,
		Media:              []models.Media{{FileID: "f1", Kind: models.MediaPhoto}},
	}
	if err := p.EditPublishedText(ctx, mediaPost, "new", nil); err != nil {
		t.Fatalf("EditPublishedText failed: %v", err)
	}
	if tg.editCaptions != 1 {
		t.Fatalf("expected caption edit, got %d", tg.editCaptions)
	}

	// Never-published post: no message to edit.
	if err := p.EditPublishedText(ctx, &models.Post{}, "new", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEditNotModifiedIsSuccess(t *testing.T) {
	tg := newFakeSender()
	tg.failEdit = errors.New("Bad Request: message is not modified")
	p, _ := newTestPublisher(t, tg)

	msgID := 42
	post := &models.Post{Text: "same", PublishedMessageID: &msgID}
	if err := p.EditPublishedText(context.Background(), post, "same", nil); err != nil {
		t.Fatalf("identical edit must succeed, got %v", err)
	}
	if err := p.EditPublishedButtons(context.Background(), post); err != nil {
		t.Fatalf("identical keyboard edit must succeed, got %v", err)
	}
}
