package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

// ErrNotConfigured is returned by notifiers missing a token or destination.
var ErrNotConfigured = errors.New("notify: notifier not configured")

// telegramAPI is the subset of *bot.Bot the notifier uses.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetMe(ctx context.Context) (*models.User, error)
}

// TelegramConfig holds the bot credentials and destination chat.
type TelegramConfig struct {
	Token  string
	ChatID string
	// ServerURL overrides https://api.telegram.org, for tests and proxies.
	ServerURL string
}

// BotIdentity describes the bot account behind the token.
type BotIdentity struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	IsBot     bool   `json:"is_bot"`
}

// TelegramNotifier posts HTML messages to a single chat via the Bot API.
type TelegramNotifier struct {
	api    telegramAPI
	chatID string
	logger *logging.Logger
}

// NewTelegramNotifier creates a notifier. The token is not checked until the first call.
func NewTelegramNotifier(cfg TelegramConfig, logger *logging.Logger) (*TelegramNotifier, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil, ErrNotConfigured
	}
	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(strings.TrimRight(cfg.ServerURL, "/")))
	}
	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}
	return newTelegramNotifier(b, cfg.ChatID, logger), nil
}

func newTelegramNotifier(api telegramAPI, chatID string, logger *logging.Logger) *TelegramNotifier {
	if api == nil {
		panic("notify: telegram api cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TelegramNotifier{api: api, chatID: chatID, logger: logger}
}

// Send delivers text with HTML parse mode. Any non-ok Bot API reply is an error.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	msg, err := t.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		t.logger.Error("telegram send failed", "error", err, "chat_id", t.chatID)
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	t.logger.Debug("telegram message sent", "chat_id", t.chatID, "message_id", msg.ID)
	return nil
}

// Identity calls getMe, which doubles as a token check.
func (t *TelegramNotifier) Identity(ctx context.Context) (BotIdentity, error) {
	u, err := t.api.GetMe(ctx)
	if err != nil {
		return BotIdentity{}, fmt.Errorf("notify: telegram getMe: %w", err)
	}
	return BotIdentity{ID: u.ID, Username: u.Username, FirstName: u.FirstName, IsBot: u.IsBot}, nil
}
