package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/goccy/go-json"

	"tickerpulse/internal/models"
	"tickerpulse/internal/utils"
)

// telegramConfig holds bot token and chat ID for a Telegram contact point.
type telegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// sendTelegram delivers via the go-telegram/bot library, throttled by the
// dispatcher's global limiter.
func (d *Dispatcher) sendTelegram(ctx context.Context, cp models.ContactPoint, subject, body string) error {
	if err := d.telegramLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	var tCfg telegramConfig
	configBytes, err := json.Marshal(cp.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for user %d: %w", cp.UserID, err)
	}
	if err := json.Unmarshal(configBytes, &tCfg); err != nil {
		return fmt.Errorf("invalid Telegram configuration for user %d: %w", cp.UserID, err)
	}
	if tCfg.BotToken == "" {
		tCfg.BotToken = d.cfg.Telegram.BotToken
	}
	if tCfg.BotToken == "" {
		return fmt.Errorf("missing bot_token in Telegram configuration for user %d", cp.UserID)
	}
	if tCfg.ChatID == 0 {
		return fmt.Errorf("missing chat_id in Telegram configuration for user %d", cp.UserID)
	}

	text := fmt.Sprintf("*%s*\n%s", subject, body)

	return utils.Retry(d.logger, 3, time.Second, func() error {
		b, err := bot.New(tCfg.BotToken)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram bot for user %d: %w", cp.UserID, err)
		}
		params := &bot.SendMessageParams{
			ChatID:    tCfg.ChatID,
			Text:      text,
			ParseMode: "Markdown",
		}
		if _, err := b.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", tCfg.ChatID, err)
		}
		return nil
	})
}
