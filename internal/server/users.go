package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wadigest/internal/database"
	"wadigest/internal/sanitize"
)

// Digest interval bounds in hours, one hour to one week.
const (
	minDigestInterval = 1
	maxDigestInterval = 168
)

type userResponse struct {
	ID                  int64  `json:"id"`
	Username            string `json:"username"`
	Email               string `json:"email"`
	WhatsAppConnected   bool   `json:"whatsapp_connected"`
	TelegramChannelID   string `json:"telegram_channel_id,omitempty"`
	DigestIntervalHours int    `json:"digest_interval_hours"`
	IsActive            bool   `json:"is_active"`
}

func newUserResponse(u *database.User) userResponse {
	resp := userResponse{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		WhatsAppConnected:   u.WhatsAppConnected,
		DigestIntervalHours: u.DigestIntervalHours,
		IsActive:            u.IsActive,
	}
	if u.TelegramChannelID.Valid {
		resp.TelegramChannelID = u.TelegramChannelID.String
	}
	return resp
}

func (s *Server) handleGetMe(c *gin.Context) {
	c.JSON(http.StatusOK, newUserResponse(currentUser(c)))
}

type updateMeRequest struct {
	Email               *string `json:"email"`
	TelegramChannelID   *string `json:"telegram_channel_id"`
	DigestIntervalHours *int    `json:"digest_interval_hours"`
}

func (s *Server) handleUpdateMe(c *gin.Context) {
	user := currentUser(c)

	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Email != nil {
		if !sanitize.ValidEmail(*req.Email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
			return
		}
		user.Email = *req.Email
	}
	if req.TelegramChannelID != nil {
		user.TelegramChannelID.String = *req.TelegramChannelID
		user.TelegramChannelID.Valid = *req.TelegramChannelID != ""
	}
	if req.DigestIntervalHours != nil {
		if *req.DigestIntervalHours < minDigestInterval || *req.DigestIntervalHours > maxDigestInterval {
			c.JSON(http.StatusBadRequest, gin.H{"error": "digest interval must be between 1 and 168 hours"})
			return
		}
		user.DigestIntervalHours = *req.DigestIntervalHours
	}

	if err := s.store.UpdateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		s.log.ErrorContext(c.Request.Context(), "User update failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}

func (s *Server) handleListUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	users, err := s.store.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "User listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, newUserResponse(&users[i]))
	}
	c.JSON(http.StatusOK, gin.H{"users": resp})
}

func (s *Server) handleSuspendUser(c *gin.Context) {
	s.setUserActive(c, false)
}

func (s *Server) handleResumeUser(c *gin.Context) {
	s.setUserActive(c, true)
}

func (s *Server) setUserActive(c *gin.Context, active bool) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}

	if err := s.store.SetUserActive(c.Request.Context(), userID, active); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		s.log.ErrorContext(c.Request.Context(), "Failed to change user active flag",
			"user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "is_active": active})
}
