// Package pipeline implements the message intake flow: validation,
// monitoring checks, background importance analysis, and urgent alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"wadigest/internal/ai"
	"wadigest/internal/database"
	"wadigest/internal/sanitize"
	"wadigest/internal/telegram"
)

var (
	// ErrUserNotFound indicates the webhook names an unknown user.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidPayload indicates the webhook payload is malformed.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Intake statuses returned to the bridge.
const (
	StatusQueued    = "queued"
	StatusIgnored   = "ignored"
	StatusDuplicate = "duplicate"
)

const (
	maxContentLength  = 5000
	maxUrgentLength   = 2000
	maxMetadataLength = 100
)

// MessageIn is an incoming message event from the WhatsApp bridge.
type MessageIn struct {
	UserID     string
	ChatID     string
	ChatName   string
	ChatType   string
	MessageID  string
	Sender     string
	Content    string
	Timestamp  string
	HasMedia   bool
	Importance int // bridge-side heuristic hint
}

// IntakeResult describes how an incoming message was handled.
type IntakeResult struct {
	Status  string
	Message string
}

// Pipeline routes incoming bridge events into storage and notifications.
type Pipeline struct {
	store           database.Store
	ai              ai.Client
	notifier        telegram.Notifier
	log             *slog.Logger
	urgentThreshold int
	bgTimeout       time.Duration

	bg sync.WaitGroup
}

// New creates a Pipeline. urgentThreshold is the minimum importance score
// that triggers an immediate alert.
func New(store database.Store, aiClient ai.Client, notifier telegram.Notifier, urgentThreshold int, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:           store,
		ai:              aiClient,
		notifier:        notifier,
		log:             logger.With("component", "pipeline"),
		urgentThreshold: urgentThreshold,
		bgTimeout:       2 * time.Minute,
	}
}

// Wait blocks until all background analysis tasks have finished. Called
// during shutdown so queued messages are not lost.
func (p *Pipeline) Wait() {
	p.bg.Wait()
}

// Intake validates an incoming message and, if it passes all checks,
// schedules background analysis. The caller gets an answer before the AI
// call happens; analysis failures never surface to the bridge.
func (p *Pipeline) Intake(ctx context.Context, msg MessageIn) (*IntakeResult, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(msg.UserID), 10, 64)
	if err != nil {
		p.log.WarnContext(ctx, "Invalid user ID in webhook", "user_id", msg.UserID)
		return nil, fmt.Errorf("%w: invalid user ID format", ErrInvalidPayload)
	}
	if msg.ChatID == "" || msg.MessageID == "" {
		return nil, fmt.Errorf("%w: chat ID and message ID are required", ErrInvalidPayload)
	}
	// A chat name that sanitizes away entirely means the payload was all
	// markup, treat it as malformed rather than storing a blank name.
	if msg.ChatName != "" && sanitize.Clean(msg.ChatName, maxMetadataLength) == "" {
		return nil, fmt.Errorf("%w: chat name is invalid", ErrInvalidPayload)
	}

	user, err := p.store.GetUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		p.log.WarnContext(ctx, "Webhook for unknown user", "user_id", userID)
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	if !user.IsActive {
		p.log.InfoContext(ctx, "User is suspended, skipping message",
			"user_id", userID, "username", user.Username)
		return &IntakeResult{Status: StatusIgnored, Message: "user is suspended"}, nil
	}

	chat, err := p.store.GetMonitoredChat(ctx, userID, msg.ChatID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && !chat.IsActive) {
		p.log.InfoContext(ctx, "Chat is not monitored, skipping message",
			"user_id", userID, "chat_id", msg.ChatID)
		return &IntakeResult{Status: StatusIgnored, Message: "chat is not being monitored"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat lookup failed: %w", err)
	}

	if _, err := p.store.GetMessageByExternalID(ctx, msg.MessageID); err == nil {
		p.log.InfoContext(ctx, "Message already processed", "message_id", msg.MessageID)
		return &IntakeResult{Status: StatusDuplicate, Message: "message already processed"}, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}

	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		p.analyzeAndSave(msg, chat.ID, userID)
	}()

	return &IntakeResult{Status: StatusQueued, Message: "message queued for analysis"}, nil
}

// analyzeAndSave runs detached from the request: it scores the message,
// persists it, and fires an urgent alert when warranted. It uses its own
// context so a closed webhook connection cannot cancel the work.
func (p *Pipeline) analyzeAndSave(msg MessageIn, chatDBID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), p.bgTimeout)
	defer cancel()

	content := sanitize.Clean(msg.Content, maxContentLength)
	if content == "" {
		p.log.Warn("Message content is empty after sanitization, dropping",
			"message_id", msg.MessageID)
		return
	}

	// The bridge hint is trusted as-is; the stored score is the maximum of
	// the hint and the AI score, even when the hint is off the 1-5 scale.
	final := msg.Importance

	chatName := sanitize.Clean(msg.ChatName, maxMetadataLength)
	sender := sanitize.Clean(msg.Sender, maxMetadataLength)

	aiScore, err := p.ai.AnalyzeImportance(ctx, content, chatName, sender, msg.HasMedia)
	if err != nil {
		// Persist with the bridge hint alone rather than dropping the message.
		p.log.Warn("Importance analysis failed, keeping bridge hint",
			"message_id", msg.MessageID, "hint", final, "error", err)
	} else if aiScore > final {
		final = aiScore
	}

	ts, parsed := parseTimestamp(msg.Timestamp)
	if !parsed {
		p.log.Warn("Unknown timestamp format, using current time",
			"message_id", msg.MessageID, "timestamp", msg.Timestamp)
	}

	record := &database.WhatsAppMessage{
		ChatID:          chatDBID,
		MessageID:       msg.MessageID,
		Sender:          sender,
		Content:         content,
		Timestamp:       ts,
		ImportanceScore: final,
		HasMedia:        msg.HasMedia,
	}
	if err := p.store.SaveMessage(ctx, record); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			p.log.Debug("Message raced with a duplicate insert", "message_id", msg.MessageID)
		} else {
			p.log.Error("Failed to save message", "message_id", msg.MessageID, "error", err)
		}
		return
	}

	p.log.Info("Message saved", "message_id", msg.MessageID, "importance", final)

	if final >= p.urgentThreshold {
		p.sendUrgentNotification(ctx, msg, userID, chatName, sender)
	}
}

func (p *Pipeline) sendUrgentNotification(ctx context.Context, msg MessageIn, userID int64, chatName, sender string) {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		p.log.Warn("User lookup failed for urgent alert", "user_id", userID, "error", err)
		return
	}
	if !user.IsActive || !user.TelegramChannelID.Valid {
		return
	}

	content := sanitize.Clean(msg.Content, maxUrgentLength)
	if content == "" {
		return
	}

	// A custom Russian name on the subscription wins over whatever name the
	// bridge reported.
	if chat, err := p.store.GetMonitoredChat(ctx, userID, msg.ChatID); err == nil && chat.CustomName.Valid {
		if custom := sanitize.Clean(chat.CustomName.String, maxMetadataLength); custom != "" {
			chatName = custom
		}
	}

	translated, err := p.ai.Translate(ctx, content)
	if err != nil || translated == "" {
		translated = content
	}

	p.notifier.SendUrgentAlert(ctx, user.TelegramChannelID.String, chatName, sender, translated, time.Now())
}

// parseTimestamp handles the formats the bridge is known to emit: RFC 3339
// with "Z" or a numeric offset, bare ISO timestamps, and timestamps with a
// trailing "UTC". Anything else falls back to the current time.
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, true
		}

		bare := strings.TrimSpace(strings.TrimSuffix(raw, "UTC"))
		for _, layout := range []string{
			"2006-01-02T15:04:05.999999999",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
		} {
			if t, err := time.Parse(layout, bare); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Now().UTC(), false
}
