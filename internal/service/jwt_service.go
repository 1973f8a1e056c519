package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oems/oems/internal/config"
	"github.com/oems/oems/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
	now           func() time.Time
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Claims is the payload of both token types. Refresh tokens carry only the
// user id; access tokens also carry the display identity.
type Claims struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// UserInfo returns the identity carried by the claims.
func (c *Claims) UserInfo() *models.UserInfo {
	return &models.UserInfo{
		UserID: c.UserID,
		Phone:  c.Phone,
		Email:  c.Email,
		Name:   c.Name,
	}
}

// IssuePair signs a fresh access and refresh token for user. Every token gets
// its own jti, so two pairs minted within the same second still differ.
func (s *JWTService) IssuePair(user *models.User) (*models.TokenPair, error) {
	now := s.now()
	accessExpiresAt := now.Add(s.accessExpiry)
	refreshExpiresAt := now.Add(s.refreshExpiry)

	accessToken, err := s.sign(&Claims{
		UserID: user.ID,
		Phone:  user.PhoneNumber,
		Email:  user.Email,
		Name:   user.FullName,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.sign(&Claims{
		UserID: user.ID,
		Type:   TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiresAt),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessExpiry.Seconds()),
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// Parse verifies signature and expiry and checks that the token has the
// expected type.
func (s *JWTService) Parse(tokenString, expectedType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.Type != expectedType {
		return nil, fmt.Errorf("token is not a %s token", expectedType)
	}

	if claims.UserID == "" {
		return nil, errors.New("token has no user id")
	}

	return claims, nil
}
