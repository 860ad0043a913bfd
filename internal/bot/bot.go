// Package bot hosts the Telegram-facing layer: the update loop, command
// dispatch, the composition wizard and the list/edit UI.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/egorkrivoshey335-create/bot-posts/internal/config"
	"github.com/egorkrivoshey335-create/bot-posts/internal/service"
	"github.com/egorkrivoshey335-create/bot-posts/internal/telegram"
)

const helpText = `<b>Бот для публикации постов в канал</b>

/new — создать пост (текст, медиа, кнопки, время)
/cancel — отменить текущее действие
/drafts — черновики
/scheduled — запланированные посты
/posts — все ваши посты
/allposts — посты всех авторов
/edit &lt;id&gt; — редактировать пост

Каждый пост можно опубликовать сразу, сохранить черновиком
или запланировать на точное время.`

// Bot wires the Telegram transport to the services and routes every inbound
// update.
type Bot struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	client     *telegram.Client
	store      *service.Store
	publisher  *service.Publisher
	scheduler  *service.Scheduler
	aggregator *service.Aggregator
	wizard     *Wizard
	editor     *Editor
	loc        *time.Location

	handler Handler

	listMu    sync.Mutex
	listState map[int64]listView

	scheduleMu      sync.Mutex
	schedulePending map[int64]uint

	wg sync.WaitGroup
}

func New(cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	loc, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Bot.Timezone, err)
	}

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}

	client, err := telegram.NewClient(cfg.Bot.Token, logger)
	if err != nil {
		return nil, err
	}

	store := service.NewStore(db, logger)
	publisher := service.NewPublisher(client, store, cfg.Bot.ChannelID, logger)
	scheduler := service.NewScheduler(&cfg.Scheduler, store, publisher, logger)

	window, err := time.ParseDuration(cfg.Aggregator.DebounceWindow)
	if err != nil || window <= 0 {
		window = 500 * time.Millisecond
	}
	aggregator := service.NewAggregator(window, logger)

	b := &Bot{
		cfg:             cfg,
		logger:          logger,
		db:              db,
		client:          client,
		store:           store,
		publisher:       publisher,
		scheduler:       scheduler,
		aggregator:      aggregator,
		loc:             loc,
		listState:       make(map[int64]listView),
		schedulePending: make(map[int64]uint),
	}
	b.wizard = NewWizard(client, store, publisher, scheduler, aggregator, loc, logger)
	b.editor = NewEditor(client, store, publisher, logger)

	b.handler = Chain(
		DebugLogging(logger),
		AdminOnly(cfg.Bot.AdminIDs, client, logger),
	)(b.dispatch)

	return b, nil
}

// Store exposes the post store for the status server.
func (b *Bot) Store() *service.Store {
	return b.store
}

// Run performs startup checks, restores scheduled jobs and consumes updates
// until the context is cancelled. Each update runs in its own goroutine so a
// slow flow never stalls the others.
func (b *Bot) Run(ctx context.Context) error {
	ok, reason, err := b.client.CheckChannelPermissions(ctx, b.cfg.Bot.ChannelID)
	if err != nil {
		b.logger.Warn("Channel permission check failed", zap.Error(err))
	} else if !ok {
		b.logger.Warn("Insufficient channel permissions", zap.String("reason", reason))
	}

	if err := b.scheduler.RestoreOnStartup(ctx); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.client.API().GetUpdatesChan(u)

	b.logger.Info("Bot started",
		zap.Int64("channel_id", b.cfg.Bot.ChannelID),
		zap.Int("admins", len(b.cfg.Bot.AdminIDs)))

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.shutdown()
				return nil
			}

			b.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer b.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("Panic while handling update",
							zap.Int("update_id", update.UpdateID),
							zap.Any("panic", r))
					}
				}()
				b.handler(ctx, update)
			}(update)
		}
	}
}

func (b *Bot) shutdown() {
	b.client.API().StopReceivingUpdates()
	b.scheduler.Stop()
	b.wg.Wait()
	b.logger.Info("Bot shutdown completed")
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Pending text inputs take priority over the wizard so an /edit or a
	// schedule request started from a post card is never swallowed.
	if b.editor.HandleMessage(ctx, msg) {
		return
	}
	if b.handleScheduleInput(ctx, msg) {
		return
	}
	b.wizard.HandleMessage(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText)

	case "new":
		b.wizard.Start(msg)

	case "cancel":
		b.editor.Close(userID)
		b.scheduleMu.Lock()
		delete(b.schedulePending, userID)
		b.scheduleMu.Unlock()
		b.wizard.Cancel(chatID, userID)

	case "drafts":
		b.showPostsList(ctx, chatID, userID, listView{filter: "draft"}, 0)

	case "scheduled":
		b.showPostsList(ctx, chatID, userID, listView{filter: "scheduled"}, 0)

	case "posts":
		b.showPostsList(ctx, chatID, userID, listView{filter: "all"}, 0)

	case "allposts":
		b.showPostsList(ctx, chatID, userID, listView{filter: "all", allUsers: true}, 0)

	case "edit":
		arg := strings.TrimSpace(msg.CommandArguments())
		id, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			b.reply(chatID, "Использование: /edit &lt;id поста&gt;")
			return
		}
		b.editor.Open(ctx, chatID, userID, uint(id))

	default:
		b.reply(chatID, "Неизвестная команда. Список команд: /help")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		b.client.AnswerCallback(cb.ID, "", false)
		return
	}

	if b.wizard.HandleCallback(ctx, cb) {
		return
	}
	if b.editor.HandleCallback(ctx, cb) {
		return
	}
	if b.handlePostsCallback(ctx, cb) {
		return
	}

	b.logger.Warn("Unhandled callback", zap.String("data", cb.Data))
	b.client.AnswerCallback(cb.ID, "", false)
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.client.ReplyHTML(chatID, text, nil); err != nil {
		b.logger.Warn("Failed to send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
