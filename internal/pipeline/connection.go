package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"wadigest/internal/database"
)

// Connected records a WhatsApp bridge connect event for a user and notifies
// their Telegram channel in the background. An unknown user is logged and
// treated as a no-op so bridge retries stay idempotent.
func (p *Pipeline) Connected(ctx context.Context, rawUserID string) error {
	userID, err := parseUserID(rawUserID)
	if err != nil {
		return err
	}

	sessionID := fmt.Sprintf("session_%d", userID)
	if err := p.store.MarkWhatsAppConnected(ctx, userID, sessionID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			p.log.WarnContext(ctx, "Connect event for unknown user", "user_id", userID)
			return nil
		}
		return fmt.Errorf("failed to record connect event: %w", err)
	}

	p.log.InfoContext(ctx, "WhatsApp client connected", "user_id", userID)

	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		p.notifyConnection(userID, connectedNotification)
	}()
	return nil
}

// Disconnected records a WhatsApp bridge disconnect event and notifies the
// user's Telegram channel in the background.
func (p *Pipeline) Disconnected(ctx context.Context, rawUserID string) error {
	userID, err := parseUserID(rawUserID)
	if err != nil {
		return err
	}

	if err := p.store.MarkWhatsAppDisconnected(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			p.log.WarnContext(ctx, "Disconnect event for unknown user", "user_id", userID)
			return nil
		}
		return fmt.Errorf("failed to record disconnect event: %w", err)
	}

	p.log.InfoContext(ctx, "WhatsApp client disconnected", "user_id", userID)

	// Unlike connects, the farewell notification goes out before the
	// response: the bridge will not call back for this session again.
	p.notifyConnection(userID, disconnectedNotification)
	return nil
}

const (
	connectedNotification    = "✅ WhatsApp подключение восстановлено для пользователя %s"
	disconnectedNotification = "❌ WhatsApp отключен для пользователя %s"
)

func (p *Pipeline) notifyConnection(userID int64, format string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.bgTimeout)
	defer cancel()

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		p.log.Warn("User lookup failed for connection notification", "user_id", userID, "error", err)
		return
	}
	if !user.TelegramChannelID.Valid {
		return
	}

	p.notifier.SendNotification(ctx, user.TelegramChannelID.String, fmt.Sprintf(format, user.Username))
}

func parseUserID(raw string) (int64, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid user ID format", ErrInvalidPayload)
	}
	return userID, nil
}
