// Package delivery sends digest messages to users over their configured
// channels. Each channel attempts independently; the dispatcher decides what
// a partial failure means.
package delivery

import (
	"context"
	"fmt"
	"strconv"

	"briefcast/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// TelegramMaxLength is Telegram's hard message size limit.
const TelegramMaxLength = 4096

// BotSender is the part of tgbotapi.BotAPI the deliverer uses. It can be
// mocked for testing.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramDeliverer struct {
	bot BotSender
	// Paces chunked sends so long digests don't trip Telegram's flood limits.
	limiter *rate.Limiter
}

func NewTelegramDeliverer(bot BotSender) *TelegramDeliverer {
	return &TelegramDeliverer{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(2), 1),
	}
}

func (d *TelegramDeliverer) Name() string { return "telegram" }

func (d *TelegramDeliverer) CanDeliver(user models.User) bool {
	return user.TelegramChatID != nil && *user.TelegramChatID != ""
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, user models.User, message string) error {
	if !d.CanDeliver(user) {
		return fmt.Errorf("user %d has no telegram chat id", user.ID)
	}

	chatID, err := strconv.ParseInt(*user.TelegramChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", *user.TelegramChatID, err)
	}

	for _, chunk := range SplitMessage(message, TelegramMaxLength) {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := d.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
	}
	return nil
}
