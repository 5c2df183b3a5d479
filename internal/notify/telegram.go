package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"appointly/internal/config"
	"appointly/internal/domain"
	"appointly/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramDispatcher posts reminders to the staff chat.
type TelegramDispatcher struct {
	bot    domain.TelegramSender
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramDispatcher(cfg config.NotifyConfig, logger *zerolog.Logger) (*TelegramDispatcher, error) {
	if cfg.Telegram.BotToken == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Telegram.Debug
	return NewTelegramDispatcherWithSender(bot, cfg.Telegram.ChatID, logger), nil
}

func NewTelegramDispatcherWithSender(bot domain.TelegramSender, chatID int64, logger *zerolog.Logger) *TelegramDispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramDispatcher{bot: bot, chatID: chatID, logger: logger}
}

func (d *TelegramDispatcher) SendReminder(ctx context.Context, b *models.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := reminderText(b, nil)
	if b.ClientPhone != "" {
		text += "Client phone: " + b.ClientPhone + "\n"
	}

	msg := tgbotapi.NewMessage(d.chatID, text)
	if _, err := d.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	d.logger.Info().Str("booking_id", b.ID).Int64("chat_id", d.chatID).Msg("reminder sent to telegram")
	return nil
}
