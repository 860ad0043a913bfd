package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/telegram"
)

// Handler processes one inbound update.
type Handler func(ctx context.Context, update tgbotapi.Update)

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes middlewares so the first one listed runs first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// DebugLogging logs every inbound update before it is dispatched.
func DebugLogging(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, update tgbotapi.Update) {
			fields := []zap.Field{zap.Int("update_id", update.UpdateID)}
			if user := update.SentFrom(); user != nil {
				fields = append(fields,
					zap.Int64("user_id", user.ID),
					zap.String("username", user.UserName))
			}
			switch {
			case update.CallbackQuery != nil:
				fields = append(fields, zap.String("callback", update.CallbackQuery.Data))
			case update.Message != nil && update.Message.IsCommand():
				fields = append(fields, zap.String("command", update.Message.Command()))
			}
			logger.Debug("Update received", fields...)

			next(ctx, update)
		}
	}
}

// AdminOnly drops updates from users outside the allow-list before any
// handler runs.
func AdminOnly(adminIDs []int64, client *telegram.Client, logger *zap.Logger) Middleware {
	allowed := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		allowed[id] = struct{}{}
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, update tgbotapi.Update) {
			user := update.SentFrom()
			if user == nil {
				next(ctx, update)
				return
			}

			if _, ok := allowed[user.ID]; !ok {
				logger.Warn("Unauthorized access attempt",
					zap.Int64("user_id", user.ID),
					zap.String("username", user.UserName))

				switch {
				case update.CallbackQuery != nil:
					client.AnswerCallback(update.CallbackQuery.ID, "⛔ У вас нет доступа", true)
				case update.Message != nil:
					_, _ = client.ReplyHTML(update.Message.Chat.ID,
						"⛔ У вас нет доступа к этому боту.\nОбратитесь к администратору.", nil)
				}
				return
			}

			next(ctx, update)
		}
	}
}
