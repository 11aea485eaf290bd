package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/crystalbot/pkg/utils"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления в один чат
type Telegram struct {
	api    sender
	chatID int64
	logger *utils.Logger
}

// NewTelegram авторизует бота по токену
func NewTelegram(token string, chatID int64, logger *utils.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("Telegram bot authorized: @%s", bot.Self.UserName)
	return newTelegram(bot, chatID, logger), nil
}

func newTelegram(api sender, chatID int64, logger *utils.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, logger: logger}
}

func (t *Telegram) Notify(ctx context.Context, e Event) error {
	for _, part := range splitMessage(FormatEvent(e), maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		message := tgbotapi.NewMessage(t.chatID, part)
		message.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.api.Send(message); err != nil {
			t.logger.Error("Failed to send telegram message: %v", err)
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}
