// Package digest implements the periodic digest sweep and data retention
// cleanup jobs.
package digest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wadigest/internal/ai"
	"wadigest/internal/database"
	"wadigest/internal/telegram"
)

// Service runs digest sweeps over all users and the daily retention cleanup.
// Job entry points never return errors, per-user failures are logged and the
// sweep moves on to the next user.
type Service struct {
	store    database.Store
	ai       ai.Client
	notifier telegram.Notifier
	log      *slog.Logger

	importanceThreshold int
	retentionDays       int

	now func() time.Time
}

// NewService creates a digest Service. importanceThreshold is the minimum
// score a message needs to enter a digest, retentionDays bounds how long
// messages and digest logs are kept.
func NewService(store database.Store, aiClient ai.Client, notifier telegram.Notifier, importanceThreshold, retentionDays int, logger *slog.Logger) *Service {
	return &Service{
		store:               store,
		ai:                  aiClient,
		notifier:            notifier,
		log:                 logger.With("component", "digest"),
		importanceThreshold: importanceThreshold,
		retentionDays:       retentionDays,
		now:                 time.Now,
	}
}

// RunSweep checks every active user with a Telegram channel and sends a
// digest to those whose interval has elapsed.
func (s *Service) RunSweep(ctx context.Context) {
	users, err := s.store.ListActiveUsersWithTelegram(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Digest sweep aborted, cannot list users", "error", err)
		return
	}

	s.log.DebugContext(ctx, "Digest sweep started", "user_count", len(users))

	for i := range users {
		user := &users[i]

		due, err := s.digestDue(ctx, user)
		if err != nil {
			s.log.ErrorContext(ctx, "Failed to check digest schedule",
				"user_id", user.ID, "error", err)
			continue
		}
		if !due {
			continue
		}

		if err := s.processUser(ctx, user); err != nil {
			s.log.ErrorContext(ctx, "Failed to process user digest",
				"user_id", user.ID, "username", user.Username, "error", err)
		}
	}
}

// digestDue reports whether the user's digest interval has elapsed since
// their last digest. A user with no digest history is due immediately.
func (s *Service) digestDue(ctx context.Context, user *database.User) (bool, error) {
	last, err := s.store.GetLastDigestLog(ctx, user.ID)
	if errors.Is(err, database.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	interval := time.Duration(user.DigestIntervalHours) * time.Hour
	return s.now().UTC().Sub(last.CreatedAt) >= interval, nil
}

func (s *Service) processUser(ctx context.Context, user *database.User) error {
	chats, err := s.store.ListActiveChatsForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}
	if len(chats) == 0 {
		s.log.DebugContext(ctx, "No monitored chats for user", "user_id", user.ID)
		return nil
	}

	since := s.now().UTC().Add(-time.Duration(user.DigestIntervalHours) * time.Hour)

	var sections []ai.ChatDigest
	var processedIDs []int64
	total := 0

	for _, chat := range chats {
		messages, err := s.store.ListDigestMessages(ctx, chat.ID, since, s.importanceThreshold)
		if err != nil {
			return fmt.Errorf("failed to collect messages for chat %d: %w", chat.ID, err)
		}
		if len(messages) == 0 {
			continue
		}

		sections = append(sections, ai.ChatDigest{ChatName: chat.ChatName, Messages: messages})
		for _, m := range messages {
			processedIDs = append(processedIDs, m.ID)
		}
		total += len(messages)
	}

	// Mark messages before composing so a failed send cannot replay them
	// into the next digest.
	if err := s.store.MarkMessagesProcessed(ctx, processedIDs); err != nil {
		return fmt.Errorf("failed to mark messages processed: %w", err)
	}

	if len(sections) == 0 {
		s.log.DebugContext(ctx, "No important messages for user", "user_id", user.ID)
		return nil
	}

	content, err := s.ai.CreateDigest(ctx, sections)
	if err != nil {
		return fmt.Errorf("failed to compose digest: %w", err)
	}

	sent := s.notifier.SendDigest(ctx, user.TelegramChannelID.String, content, total, user.DigestIntervalHours)

	logEntry := &database.DigestLog{
		UserID:        user.ID,
		DigestContent: content,
		MessageCount:  total,
		TelegramSent:  sent,
	}
	if !sent {
		logEntry.TelegramError = sql.NullString{String: "telegram delivery failed", Valid: true}
	}
	if err := s.store.CreateDigestLog(ctx, logEntry); err != nil {
		return fmt.Errorf("failed to record digest log: %w", err)
	}

	s.log.InfoContext(ctx, "Digest processed",
		"user_id", user.ID, "username", user.Username,
		"message_count", total, "chat_count", len(sections), "sent", sent)
	return nil
}

// RunCleanup deletes messages and digest logs older than the retention
// window and notifies users about the result.
func (s *Service) RunCleanup(ctx context.Context) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)

	messagesDeleted, err := s.store.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "Cleanup failed deleting messages", "error", err)
		return
	}

	digestsDeleted, err := s.store.DeleteDigestLogsBefore(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "Cleanup failed deleting digest logs", "error", err)
		return
	}

	s.log.InfoContext(ctx, "Daily cleanup completed",
		"messages_deleted", messagesDeleted, "digests_deleted", digestsDeleted, "cutoff", cutoff)

	if messagesDeleted == 0 && digestsDeleted == 0 {
		return
	}

	text := fmt.Sprintf(
		"🧹 Ежедневная очистка данных завершена\nСообщений удалено: %d\nДайджестов удалено: %d",
		messagesDeleted, digestsDeleted)

	users, err := s.store.ListActiveUsersWithTelegram(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Cannot list users for cleanup notification", "error", err)
		return
	}
	for _, user := range users {
		s.notifier.SendNotification(ctx, user.TelegramChannelID.String, text)
	}
}
