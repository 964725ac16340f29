package notifier

import (
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"veriback/internal/domain"
)

// Telegram pushes pipeline events to a chat. Emit never returns an
// error to the caller: delivery failures are logged and swallowed so
// notification trouble can never fail a backup.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger Logger
}

type Logger interface {
	Warnf(template string, args ...interface{})
}

func NewTelegram(botToken, chatID string, logger Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	var id int64
	if _, err := fmt.Sscanf(chatID, "%d", &id); err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	return &Telegram{bot: bot, chatID: id, logger: logger}, nil
}

func (t *Telegram) Emit(severity domain.Severity, message string, fields map[string]any) {
	icon := map[domain.Severity]string{
		domain.SeverityInfo:    "✅",
		domain.SeverityWarning: "⚠️",
		domain.SeverityError:   "❌",
	}[severity]

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", icon, message)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(&b, "%s: %v\n", k, fields[k])
	}

	msg := tgbotapi.NewMessage(t.chatID, b.String())
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warnf("telegram notification failed: %v", err)
	}
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
