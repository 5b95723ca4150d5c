package http

import (
	"net/http"
	"strings"
	"time"

	"rehearsal/internal/core/services"
	apperrors "rehearsal/pkg/errors"
	"rehearsal/pkg/validation"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	router.POST("/auth/token", h.IssueToken)
}

type TokenRequest struct {
	Username string `json:"username" binding:"required,max=50"`
	Password string `json:"password" binding:"required,max=128"`
}

// IssueToken exchanges the conductor password for a bearer token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := validation.ValidateUsername(req.Username); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	token, claims, err := h.authService.IssueConductorToken(req.Username, req.Password)
	if err != nil {
		c.Error(toAppError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      claims.UserID,
		"username":     claims.Username,
		"role":         claims.Role,
		"access_token": token,
		"expires_in":   int(time.Until(claims.ExpiresAt.Time) / time.Second),
	})
}
