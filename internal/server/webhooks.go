package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wadigest/internal/pipeline"
)

// messageWebhook mirrors the payload the Node.js bridge sends for every
// incoming WhatsApp message.
type messageWebhook struct {
	UserID     string `json:"userId" binding:"required"`
	ChatID     string `json:"chatId" binding:"required"`
	ChatName   string `json:"chatName"`
	ChatType   string `json:"chatType"`
	MessageID  string `json:"messageId" binding:"required"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	HasMedia   bool   `json:"hasMedia"`
	Importance int    `json:"importance"`
}

type connectionWebhook struct {
	UserID string `json:"userId" binding:"required"`
}

func (s *Server) handleWebhookMessage(c *gin.Context) {
	var payload messageWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "userId, chatId, and messageId are required"})
		return
	}

	result, err := s.pipeline.Intake(c.Request.Context(), pipeline.MessageIn{
		UserID:     payload.UserID,
		ChatID:     payload.ChatID,
		ChatName:   payload.ChatName,
		ChatType:   payload.ChatType,
		MessageID:  payload.MessageID,
		Sender:     payload.Sender,
		Content:    payload.Content,
		Timestamp:  payload.Timestamp,
		HasMedia:   payload.HasMedia,
		Importance: payload.Importance,
	})
	switch {
	case errors.Is(err, pipeline.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, pipeline.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "user not found"})
	case err != nil:
		s.log.ErrorContext(c.Request.Context(), "Message intake failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "error processing message"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": result.Status, "message": result.Message})
	}
}

func (s *Server) handleWebhookConnected(c *gin.Context) {
	var payload connectionWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "userId is required"})
		return
	}

	if err := s.pipeline.Connected(c.Request.Context(), payload.UserID); err != nil {
		s.connectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "connection status updated"})
}

func (s *Server) handleWebhookDisconnected(c *gin.Context) {
	var payload connectionWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "userId is required"})
		return
	}

	if err := s.pipeline.Disconnected(c.Request.Context(), payload.UserID); err != nil {
		s.connectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "disconnection status updated"})
}

func (s *Server) connectionError(c *gin.Context, err error) {
	if errors.Is(err, pipeline.ErrInvalidPayload) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	s.log.ErrorContext(c.Request.Context(), "Connection event failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "error updating connection status"})
}

type activeUserEntry struct {
	ID                int64  `json:"id"`
	Username          string `json:"username"`
	WhatsAppConnected bool   `json:"whatsapp_connected"`
	IsActive          bool   `json:"is_active"`
}

// handleActiveUsers serves the bridge's session restoration query.
func (s *Server) handleActiveUsers(c *gin.Context) {
	users, err := s.store.ListActiveUsersWithWhatsApp(c.Request.Context())
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "Active user listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "error getting active users"})
		return
	}

	entries := make([]activeUserEntry, 0, len(users))
	for _, user := range users {
		entries = append(entries, activeUserEntry{
			ID:                user.ID,
			Username:          user.Username,
			WhatsAppConnected: user.WhatsAppConnected,
			IsActive:          user.IsActive,
		})
	}
	c.JSON(http.StatusOK, gin.H{"active_users": entries})
}

func (s *Server) handleWebhookHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "whatsapp-webhooks"})
}
