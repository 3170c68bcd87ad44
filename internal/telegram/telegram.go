// Package telegram delivers digests, urgent alerts, and connection
// notifications to users' Telegram channels.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Notifier defines the outbound Telegram operations used by the service.
// Send methods report delivery success; failures are logged and never
// propagated, a broken channel must not fail ingestion or digest sweeps.
type Notifier interface {
	// SendNotification delivers a short status notification.
	SendNotification(ctx context.Context, channelID, text string) bool

	// SendDigest delivers a composed digest with header and footer.
	SendDigest(ctx context.Context, channelID, digest string, messageCount, intervalHours int) bool

	// SendUrgentAlert delivers an immediate alert for a high-importance message.
	SendUrgentAlert(ctx context.Context, channelID, chatName, sender, content string, ts time.Time) bool
}

type notifier struct {
	bot *bot.Bot
	log *slog.Logger
}

// NewBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	log.Info("Telegram bot instance created successfully", "token_prefix", prefix+"...")
	return b, nil
}

// NewNotifier creates a Notifier on top of an existing bot instance.
func NewNotifier(b *bot.Bot, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &notifier{
		bot: b,
		log: logger.With("component", "telegram_notifier"),
	}
}

func (n *notifier) send(ctx context.Context, channelID, text string) bool {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    channelID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		n.log.ErrorContext(ctx, "Failed to send Telegram message",
			"channel_id", channelID, "error", err)
		return false
	}
	return true
}

func (n *notifier) SendNotification(ctx context.Context, channelID, text string) bool {
	ok := n.send(ctx, channelID, "🔔 "+text)
	if ok {
		n.log.DebugContext(ctx, "Notification sent", "channel_id", channelID)
	}
	return ok
}

func (n *notifier) SendDigest(ctx context.Context, channelID, digest string, messageCount, intervalHours int) bool {
	var sb strings.Builder
	sb.WriteString("📱 *WhatsApp Дайджест*\n")
	fmt.Fprintf(&sb, "🕐 %s\n", time.Now().Format("15:04 02.01.2006"))
	fmt.Fprintf(&sb, "📊 Сообщений: %d\n\n", messageCount)
	sb.WriteString(digest)
	fmt.Fprintf(&sb, "\n\n⏰ Следующий дайджест через %d ч.", intervalHours)

	ok := n.send(ctx, channelID, sb.String())
	if ok {
		n.log.InfoContext(ctx, "Digest sent", "channel_id", channelID, "message_count", messageCount)
	}
	return ok
}

func (n *notifier) SendUrgentAlert(ctx context.Context, channelID, chatName, sender, content string, ts time.Time) bool {
	var sb strings.Builder
	sb.WriteString("🚨 *Срочное сообщение*\n\n")
	fmt.Fprintf(&sb, "💬 Чат: %s\n", EscapeMarkdown(chatName))
	fmt.Fprintf(&sb, "👤 От: %s\n\n", EscapeMarkdown(sender))
	sb.WriteString(EscapeMarkdown(content))
	fmt.Fprintf(&sb, "\n\n🕐 %s", ts.Local().Format("15:04 02.01.2006"))

	ok := n.send(ctx, channelID, sb.String())
	if ok {
		n.log.InfoContext(ctx, "Urgent alert sent", "channel_id", channelID, "chat", chatName)
	}
	return ok
}

// EscapeMarkdown escapes the characters Telegram's legacy Markdown parse
// mode treats as markup. It makes a single left-to-right pass, so applying
// it to already escaped text escapes the backslashes again.
func EscapeMarkdown(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch r {
		case '_', '*', '`', '[':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
