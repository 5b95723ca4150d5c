package middleware

import (
	"errors"
	"strings"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/services"
	apperrors "rehearsal/pkg/errors"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// AuthMiddleware requires a valid bearer token and stores its claims.
func AuthMiddleware(auth services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, services.ErrExpiredToken) {
				msg = "token expired"
			}
			abortWith(c, apperrors.NewUnauthorizedError(msg))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects requests whose claims do not carry role. It must run
// after AuthMiddleware.
func RequireRole(role domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abortWith(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}
		if !claims.HasRole(role) {
			abortWith(c, apperrors.NewForbiddenError("requires role "+string(role)))
			return
		}
		c.Next()
	}
}

func ClaimsFrom(c *gin.Context) (*services.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}
