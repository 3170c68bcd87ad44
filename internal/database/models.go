package database

import (
	"database/sql"
	"time"
)

// User represents a registered account with its WhatsApp bridge state and
// Telegram digest settings.
type User struct {
	ID             int64  `db:"id"`
	Username       string `db:"username"`
	Email          string `db:"email"`
	HashedPassword string `db:"hashed_password"`

	WhatsAppConnected bool           `db:"whatsapp_connected"`
	WhatsAppSessionID sql.NullString `db:"whatsapp_session_id"`
	WhatsAppLastSeen  sql.NullTime   `db:"whatsapp_last_seen"`

	TelegramChannelID   sql.NullString `db:"telegram_channel_id"`
	DigestIntervalHours int            `db:"digest_interval_hours"`

	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// MonitoredChat is a WhatsApp chat a user has subscribed for tracking.
// At most one row exists per (user_id, chat_id) pair, enforced by a unique
// constraint in the schema.
type MonitoredChat struct {
	ID       int64  `db:"id"`
	UserID   int64  `db:"user_id"`
	ChatID   string `db:"chat_id"`
	ChatName string `db:"chat_name"`
	ChatType string `db:"chat_type"`

	// CustomName is an optional user-chosen display name (typically Russian)
	// preferred over ChatName in notifications.
	CustomName sql.NullString `db:"custom_name"`

	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

// WhatsAppMessage is one ingested message. MessageID carries the external
// WhatsApp message identifier and is unique across all chats.
type WhatsAppMessage struct {
	ID        int64  `db:"id"`
	ChatID    int64  `db:"chat_id"`
	MessageID string `db:"message_id"`
	Sender    string `db:"sender"`
	Content   string `db:"content"`

	Timestamp       time.Time `db:"timestamp"`
	ImportanceScore int       `db:"importance_score"`
	HasMedia        bool      `db:"has_media"`
	IsProcessed     bool      `db:"is_processed"`

	CreatedAt time.Time `db:"created_at"`
}

// DigestLog records one digest delivery attempt for a user.
type DigestLog struct {
	ID            int64          `db:"id"`
	UserID        int64          `db:"user_id"`
	DigestContent string         `db:"digest_content"`
	MessageCount  int            `db:"message_count"`
	TelegramSent  bool           `db:"telegram_sent"`
	TelegramError sql.NullString `db:"telegram_error"`

	CreatedAt time.Time `db:"created_at"`
}
