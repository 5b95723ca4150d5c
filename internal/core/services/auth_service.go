package services

import (
	"crypto/subtle"
	"errors"
	"time"

	"rehearsal/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("conductor login disabled")
	ErrForbidden          = errors.New("insufficient role")
)

type AuthService interface {
	// IssueConductorToken exchanges the configured conductor password for a
	// token carrying RoleConductor.
	IssueConductorToken(username, password string) (string, *Claims, error)
	GenerateToken(userID domain.UserID, username string, role domain.UserRole) (string, *Claims, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	UserID   domain.UserID   `json:"user_id"`
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims satisfy role. Conductors may do
// everything musicians may.
func (c *Claims) HasRole(role domain.UserRole) bool {
	if c.Role == domain.RoleConductor {
		return true
	}
	return c.Role == role
}

type authService struct {
	jwtSecret         []byte
	tokenTTL          time.Duration
	conductorPassword []byte
	now               func() time.Time
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration, conductorPassword string) AuthService {
	return &authService{
		jwtSecret:         []byte(jwtSecret),
		tokenTTL:          tokenTTL,
		conductorPassword: []byte(conductorPassword),
		now:               time.Now,
	}
}

func (s *authService) IssueConductorToken(username, password string) (string, *Claims, error) {
	if len(s.conductorPassword) == 0 {
		return "", nil, ErrAuthDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), s.conductorPassword) != 1 {
		return "", nil, ErrInvalidCredentials
	}
	return s.GenerateToken(domain.UserID(uuid.NewString()), username, domain.RoleConductor)
}

func (s *authService) GenerateToken(userID domain.UserID, username string, role domain.UserRole) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
