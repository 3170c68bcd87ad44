package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wadigest/internal/database"
	"wadigest/internal/sanitize"
)

type chatResponse struct {
	ID         int64  `json:"id"`
	ChatID     string `json:"chat_id"`
	ChatName   string `json:"chat_name"`
	CustomName string `json:"custom_name,omitempty"`
	ChatType   string `json:"chat_type"`
	IsActive   bool   `json:"is_active"`
}

func newChatResponse(chat *database.MonitoredChat) chatResponse {
	return chatResponse{
		ID:         chat.ID,
		ChatID:     chat.ChatID,
		ChatName:   chat.ChatName,
		CustomName: chat.CustomName.String,
		ChatType:   chat.ChatType,
		IsActive:   chat.IsActive,
	}
}

type subscribeChatRequest struct {
	ChatID     string `json:"chat_id" binding:"required"`
	ChatName   string `json:"chat_name"`
	CustomName string `json:"custom_name"`
	ChatType   string `json:"chat_type"`
}

func (s *Server) handleSubscribeChat(c *gin.Context) {
	user := currentUser(c)

	var req subscribeChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}

	chatType := req.ChatType
	if chatType == "" {
		chatType = "group"
	}

	chat := &database.MonitoredChat{
		UserID:   user.ID,
		ChatID:   sanitize.Clean(req.ChatID, 100),
		ChatName: sanitize.Clean(req.ChatName, 100),
		ChatType: sanitize.Clean(chatType, 20),
		IsActive: true,
	}
	if custom := sanitize.Clean(req.CustomName, 100); custom != "" {
		chat.CustomName = sql.NullString{String: custom, Valid: true}
	}
	if chat.ChatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}

	if err := s.store.CreateMonitoredChat(c.Request.Context(), chat); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "chat is already monitored"})
			return
		}
		s.log.ErrorContext(c.Request.Context(), "Chat subscription failed",
			"user_id", user.ID, "chat_id", req.ChatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription failed"})
		return
	}

	c.JSON(http.StatusCreated, newChatResponse(chat))
}

func (s *Server) handleListChats(c *gin.Context) {
	user := currentUser(c)

	chats, err := s.store.ListActiveChatsForUser(c.Request.Context(), user.ID)
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "Chat listing failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	resp := make([]chatResponse, 0, len(chats))
	for i := range chats {
		resp = append(resp, newChatResponse(&chats[i]))
	}
	c.JSON(http.StatusOK, gin.H{"chats": resp})
}

func (s *Server) handleUnsubscribeChat(c *gin.Context) {
	user := currentUser(c)

	chatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat ID"})
		return
	}

	if err := s.store.DeleteMonitoredChat(c.Request.Context(), chatID, user.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		s.log.ErrorContext(c.Request.Context(), "Chat unsubscribe failed",
			"user_id", user.ID, "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
