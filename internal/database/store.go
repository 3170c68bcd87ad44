package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the data access interface for the digest service.
// Methods accept context.Context for cancellation and timeouts. Lookups
// return ErrNotFound when no row matches; inserts return ErrDuplicate when
// a uniqueness constraint is violated.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CreateUser inserts a new user and fills in its generated ID.
	CreateUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by primary key.
	GetUser(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUser persists mutable user fields (email, telegram channel,
	// digest interval, active flag) and bumps updated_at.
	UpdateUser(ctx context.Context, user *User) error

	// SetUserActive flips the suspend/resume flag.
	SetUserActive(ctx context.Context, id int64, active bool) error

	// MarkWhatsAppConnected records a bridge connect event: connected flag,
	// last-seen timestamp, and the assigned session identifier.
	MarkWhatsAppConnected(ctx context.Context, id int64, sessionID string) error

	// MarkWhatsAppDisconnected records a bridge disconnect event.
	MarkWhatsAppDisconnected(ctx context.Context, id int64) error

	// ListUsers retrieves users with pagination, ordered by ID.
	ListUsers(ctx context.Context, limit, offset int) ([]User, error)

	// ListActiveUsersWithTelegram retrieves active users that have a
	// Telegram channel configured, the digest sweep population.
	ListActiveUsersWithTelegram(ctx context.Context) ([]User, error)

	// ListActiveUsersWithWhatsApp retrieves active users with a live
	// WhatsApp connection, used by the bridge for session restoration.
	ListActiveUsersWithWhatsApp(ctx context.Context) ([]User, error)

	// CreateMonitoredChat inserts a chat subscription and fills in its
	// generated ID.
	CreateMonitoredChat(ctx context.Context, chat *MonitoredChat) error

	// GetMonitoredChat retrieves a subscription by owner and external chat ID.
	GetMonitoredChat(ctx context.Context, userID int64, chatID string) (*MonitoredChat, error)

	// ListActiveChatsForUser retrieves a user's active subscriptions.
	ListActiveChatsForUser(ctx context.Context, userID int64) ([]MonitoredChat, error)

	// SetMonitoredChatActive toggles a subscription owned by userID.
	SetMonitoredChatActive(ctx context.Context, id, userID int64, active bool) error

	// DeleteMonitoredChat removes a subscription owned by userID.
	DeleteMonitoredChat(ctx context.Context, id, userID int64) error

	// SaveMessage inserts an ingested message and fills in its generated ID.
	SaveMessage(ctx context.Context, message *WhatsAppMessage) error

	// GetMessageByExternalID retrieves a message by its WhatsApp message ID.
	GetMessageByExternalID(ctx context.Context, messageID string) (*WhatsAppMessage, error)

	// ListDigestMessages retrieves unprocessed messages for a chat with at
	// least minImportance, newer than since, in chronological order.
	ListDigestMessages(ctx context.Context, chatID int64, since time.Time, minImportance int) ([]WhatsAppMessage, error)

	// MarkMessagesProcessed marks the given messages as included in a digest.
	MarkMessagesProcessed(ctx context.Context, ids []int64) error

	// DeleteMessagesBefore removes messages older than cutoff, returning the
	// number deleted.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CreateDigestLog records a digest delivery attempt.
	CreateDigestLog(ctx context.Context, log *DigestLog) error

	// GetLastDigestLog retrieves the most recent digest log for a user.
	GetLastDigestLog(ctx context.Context, userID int64) (*DigestLog, error)

	// ListDigestLogs retrieves recent digest logs for a user, newest first.
	ListDigestLogs(ctx context.Context, userID int64, limit int) ([]DigestLog, error)

	// DeleteDigestLogsBefore removes digest logs older than cutoff,
	// returning the number deleted.
	DeleteDigestLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) CreateUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot create nil user")
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
        INSERT INTO users (username, email, hashed_password, whatsapp_connected,
                           whatsapp_session_id, whatsapp_last_seen, telegram_channel_id,
                           digest_interval_hours, is_active, created_at, updated_at)
        VALUES (:username, :email, :hashed_password, :whatsapp_connected,
                :whatsapp_session_id, :whatsapp_last_seen, :telegram_channel_id,
                :digest_interval_hours, :is_active, :created_at, :updated_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, user)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.DebugContext(ctx, "User already exists", "username", user.Username)
			return ErrDuplicate
		}
		s.logger.ErrorContext(ctx, "Error creating user", "username", user.Username, "error", err)
		return fmt.Errorf("failed to create user %q: %w", user.Username, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		user.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after creating user",
			"username", user.Username, "error", err)
	}

	s.logger.DebugContext(ctx, "User created", "user_id", user.ID, "username", user.Username)
	return nil
}

func (s *sqlxStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id)
	return s.userResult(ctx, &user, err, "user_id", id)
}

func (s *sqlxStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE username = ?`, username)
	return s.userResult(ctx, &user, err, "username", username)
}

func (s *sqlxStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = ?`, email)
	return s.userResult(ctx, &user, err, "email", email)
}

// userResult maps lookup errors to the store's error taxonomy.
func (s *sqlxStore) userResult(ctx context.Context, user *User, err error, key string, value any) (*User, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", key, value, "error", err)
		return nil, fmt.Errorf("failed to get user by %s: %w", key, err)
	}
	return user, nil
}

func (s *sqlxStore) UpdateUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot update nil user")
	}

	user.UpdatedAt = time.Now().UTC()

	query := `
        UPDATE users SET
            email = :email,
            telegram_channel_id = :telegram_channel_id,
            digest_interval_hours = :digest_interval_hours,
            is_active = :is_active,
            updated_at = :updated_at
        WHERE id = :id;
    `

	result, err := s.db.NamedExecContext(ctx, query, user)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		s.logger.ErrorContext(ctx, "Error updating user", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to update user %d: %w", user.ID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) SetUserActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting user active flag", "user_id", id, "error", err)
		return fmt.Errorf("failed to set active flag for user %d: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}

	s.logger.InfoContext(ctx, "User active flag updated", "user_id", id, "active", active)
	return nil
}

func (s *sqlxStore) MarkWhatsAppConnected(ctx context.Context, id int64, sessionID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET whatsapp_connected = 1, whatsapp_last_seen = ?,
		        whatsapp_session_id = ?, updated_at = ? WHERE id = ?`,
		now, sessionID, now, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking WhatsApp connected", "user_id", id, "error", err)
		return fmt.Errorf("failed to mark user %d connected: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) MarkWhatsAppDisconnected(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET whatsapp_connected = 0, whatsapp_last_seen = ?, updated_at = ? WHERE id = ?`,
		now, now, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking WhatsApp disconnected", "user_id", id, "error", err)
		return fmt.Errorf("failed to mark user %d disconnected: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var users []User
	err := s.db.SelectContext(ctx, &users,
		`SELECT * FROM users ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing users", "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *sqlxStore) ListActiveUsersWithTelegram(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.SelectContext(ctx, &users,
		`SELECT * FROM users WHERE is_active = 1 AND telegram_channel_id IS NOT NULL ORDER BY id`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing users with Telegram channels", "error", err)
		return nil, fmt.Errorf("failed to list users with telegram channels: %w", err)
	}
	return users, nil
}

func (s *sqlxStore) ListActiveUsersWithWhatsApp(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.SelectContext(ctx, &users,
		`SELECT * FROM users WHERE is_active = 1 AND whatsapp_connected = 1 ORDER BY id`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing users with WhatsApp connections", "error", err)
		return nil, fmt.Errorf("failed to list users with whatsapp connections: %w", err)
	}
	return users, nil
}

func (s *sqlxStore) CreateMonitoredChat(ctx context.Context, chat *MonitoredChat) error {
	if chat == nil {
		return fmt.Errorf("cannot create nil monitored chat")
	}

	chat.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO monitored_chats (user_id, chat_id, chat_name, custom_name, chat_type, is_active, created_at)
        VALUES (:user_id, :chat_id, :chat_name, :custom_name, :chat_type, :is_active, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, chat)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.DebugContext(ctx, "Monitored chat already exists",
				"user_id", chat.UserID, "chat_id", chat.ChatID)
			return ErrDuplicate
		}
		s.logger.ErrorContext(ctx, "Error creating monitored chat",
			"user_id", chat.UserID, "chat_id", chat.ChatID, "error", err)
		return fmt.Errorf("failed to create monitored chat (user %d, chat %s): %w",
			chat.UserID, chat.ChatID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		chat.ID = id
	}

	s.logger.DebugContext(ctx, "Monitored chat created",
		"id", chat.ID, "user_id", chat.UserID, "chat_id", chat.ChatID)
	return nil
}

func (s *sqlxStore) GetMonitoredChat(ctx context.Context, userID int64, chatID string) (*MonitoredChat, error) {
	var chat MonitoredChat
	err := s.db.GetContext(ctx, &chat,
		`SELECT * FROM monitored_chats WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting monitored chat",
			"user_id", userID, "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get monitored chat (user %d, chat %s): %w", userID, chatID, err)
	}
	return &chat, nil
}

func (s *sqlxStore) ListActiveChatsForUser(ctx context.Context, userID int64) ([]MonitoredChat, error) {
	var chats []MonitoredChat
	err := s.db.SelectContext(ctx, &chats,
		`SELECT * FROM monitored_chats WHERE user_id = ? AND is_active = 1 ORDER BY id`, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing chats for user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list chats for user %d: %w", userID, err)
	}
	return chats, nil
}

func (s *sqlxStore) SetMonitoredChatActive(ctx context.Context, id, userID int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE monitored_chats SET is_active = ? WHERE id = ? AND user_id = ?`,
		active, id, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error toggling monitored chat",
			"id", id, "user_id", userID, "error", err)
		return fmt.Errorf("failed to toggle monitored chat %d: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlxStore) DeleteMonitoredChat(ctx context.Context, id, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM monitored_chats WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting monitored chat",
			"id", id, "user_id", userID, "error", err)
		return fmt.Errorf("failed to delete monitored chat %d: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}

	s.logger.InfoContext(ctx, "Monitored chat deleted", "id", id, "user_id", userID)
	return nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *WhatsAppMessage) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if message.MessageID == "" {
		return fmt.Errorf("message must have a non-empty message_id")
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}

	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO whatsapp_messages (chat_id, message_id, sender, content, timestamp,
                                       importance_score, has_media, is_processed, created_at)
        VALUES (:chat_id, :message_id, :sender, :content, :timestamp,
                :importance_score, :has_media, :is_processed, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.DebugContext(ctx, "Message already stored", "message_id", message.MessageID)
			return ErrDuplicate
		}
		s.logger.ErrorContext(ctx, "Error saving message",
			"chat_id", message.ChatID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to save message %s: %w", message.MessageID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		message.ID = id
	}

	s.logger.DebugContext(ctx, "Message saved",
		"chat_id", message.ChatID, "message_id", message.MessageID,
		"importance", message.ImportanceScore)
	return nil
}

func (s *sqlxStore) GetMessageByExternalID(ctx context.Context, messageID string) (*WhatsAppMessage, error) {
	var message WhatsAppMessage
	err := s.db.GetContext(ctx, &message,
		`SELECT * FROM whatsapp_messages WHERE message_id = ?`, messageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message", "message_id", messageID, "error", err)
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return &message, nil
}

func (s *sqlxStore) ListDigestMessages(ctx context.Context, chatID int64, since time.Time, minImportance int) ([]WhatsAppMessage, error) {
	var messages []WhatsAppMessage
	query := `
        SELECT * FROM whatsapp_messages
        WHERE chat_id = ? AND is_processed = 0 AND timestamp >= ? AND importance_score >= ?
        ORDER BY timestamp ASC;
    `
	err := s.db.SelectContext(ctx, &messages, query, chatID, since, minImportance)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing digest messages",
			"chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to list digest messages for chat %d: %w", chatID, err)
	}
	return messages, nil
}

func (s *sqlxStore) MarkMessagesProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE whatsapp_messages SET is_processed = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build query for marking messages: %w", err)
	}

	query = s.db.Rebind(query)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking messages as processed", "error", err)
		return fmt.Errorf("failed to mark messages as processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && int(affected) != len(ids) {
		s.logger.WarnContext(ctx, "Not all messages were marked as processed",
			"requested", len(ids), "affected", affected)
	}
	return nil
}

func (s *sqlxStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM whatsapp_messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting old messages", "error", err)
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted old messages", "count", count, "cutoff", cutoff)
	return count, nil
}

func (s *sqlxStore) CreateDigestLog(ctx context.Context, log *DigestLog) error {
	if log == nil {
		return fmt.Errorf("cannot create nil digest log")
	}

	log.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO digest_logs (user_id, digest_content, message_count, telegram_sent, telegram_error, created_at)
        VALUES (:user_id, :digest_content, :message_count, :telegram_sent, :telegram_error, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, log)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating digest log", "user_id", log.UserID, "error", err)
		return fmt.Errorf("failed to create digest log for user %d: %w", log.UserID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		log.ID = id
	}
	return nil
}

func (s *sqlxStore) GetLastDigestLog(ctx context.Context, userID int64) (*DigestLog, error) {
	var log DigestLog
	err := s.db.GetContext(ctx, &log,
		`SELECT * FROM digest_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting last digest log", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get last digest log for user %d: %w", userID, err)
	}
	return &log, nil
}

func (s *sqlxStore) ListDigestLogs(ctx context.Context, userID int64, limit int) ([]DigestLog, error) {
	if limit <= 0 {
		limit = 20
	} else if limit > 100 {
		limit = 100
	}

	var logs []DigestLog
	err := s.db.SelectContext(ctx, &logs,
		`SELECT * FROM digest_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing digest logs", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list digest logs for user %d: %w", userID, err)
	}
	return logs, nil
}

func (s *sqlxStore) DeleteDigestLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM digest_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting old digest logs", "error", err)
		return 0, fmt.Errorf("failed to delete old digest logs: %w", err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted old digest logs", "count", count, "cutoff", cutoff)
	return count, nil
}
