package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/legionruntime/legion/internal/retry"
)

// telegramAPI is the slice of the bot client the sender uses. *bot.Bot
// satisfies it; tests inject a fake.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramSender delivers notifications through a Telegram bot. The address
// is the master contact's numeric chat ID.
type TelegramSender struct {
	api    telegramAPI
	logger *slog.Logger
}

// NewTelegramSender builds a sender from a bot token.
func NewTelegramSender(token string, logger *slog.Logger) (*TelegramSender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegramSender(b, logger), nil
}

func newTelegramSender(api telegramAPI, logger *slog.Logger) *TelegramSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramSender{api: api, logger: logger.With("sender", "telegram")}
}

// Channel implements Sender.
func (t *TelegramSender) Channel() string { return "telegram" }

// Send delivers text to the chat in address. Address and authorization
// problems are permanent; everything else is left to the retry loop.
func (t *TelegramSender) Send(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return retry.Permanent(fmt.Errorf("telegram: bad chat id %q: %w", address, err))
	}

	_, err = t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		if isPermanentTelegramError(err) {
			return retry.Permanent(fmt.Errorf("telegram: send: %w", err))
		}
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// isPermanentTelegramError matches Bot API failures that no retry fixes.
func isPermanentTelegramError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"unauthorized", "bot was blocked", "chat not found", "user is deactivated"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
