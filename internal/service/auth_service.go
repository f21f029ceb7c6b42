package service

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-lifecycle/internal/config"
)

// TokenType distinguishes examinee vs admin tokens. Only admin tokens are
// accepted by this service.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      int       `json:"user_id"`
	RoleID      int       `json:"role_id,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// HasPermission reports whether the token carries code.
func (c *Claims) HasPermission(code string) bool {
	return slices.Contains(c.Permissions, code)
}

// Actor identifies the token holder in lifecycle logs.
func (c *Claims) Actor() string {
	return fmt.Sprintf("admin:%d", c.UserID)
}

// AuthService validates admin tokens issued by the main backend.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
