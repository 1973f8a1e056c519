package service

import (
	"context"
	"crypto/subtle"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oems/oems/internal/apperrors"
	"github.com/oems/oems/internal/models"
	"github.com/oems/oems/internal/repository"
	"github.com/sirupsen/logrus"
)

const sessionLockStripes = 64

var errInvalidToken = apperrors.Unauthorized("invalid or expired token")

// SessionService binds signed token pairs to the session store. A token is
// accepted only while it is the one stored for its user, so issuing a new
// pair revokes every earlier one.
type SessionService struct {
	jwt      *JWTService
	sessions repository.SessionStore
	users    repository.UserDirectory
	logger   *logrus.Logger
	now      func() time.Time

	locks [sessionLockStripes]sync.Mutex
}

func NewSessionService(
	jwtService *JWTService,
	sessions repository.SessionStore,
	users repository.UserDirectory,
	logger *logrus.Logger,
) *SessionService {
	return &SessionService{
		jwt:      jwtService,
		sessions: sessions,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SessionService) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%sessionLockStripes]
}

// Issue signs a new pair for user and makes it the user's only session.
func (s *SessionService) Issue(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	mu := s.lockFor(user.ID)
	mu.Lock()
	defer mu.Unlock()
	return s.issueLocked(ctx, user)
}

func (s *SessionService) issueLocked(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	pair, err := s.jwt.IssuePair(user)
	if err != nil {
		return nil, apperrors.Internal("failed to issue tokens", err)
	}

	now := s.now()
	session := &models.AuthSession{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
		TokenExpiry:   pair.AccessExpiresAt,
		RefreshExpiry: pair.RefreshExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.sessions.Replace(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to store session", err)
	}

	s.logger.WithField("user_id", user.ID).Debug("Session issued")
	return pair, nil
}

func (s *SessionService) ValidateAccess(ctx context.Context, token string) (*Claims, error) {
	return s.validate(ctx, token, TokenTypeAccess)
}

func (s *SessionService) ValidateRefresh(ctx context.Context, token string) (*Claims, error) {
	return s.validate(ctx, token, TokenTypeRefresh)
}

func (s *SessionService) validate(ctx context.Context, token, tokenType string) (*Claims, error) {
	if token == "" {
		return nil, errInvalidToken
	}

	claims, err := s.jwt.Parse(token, tokenType)
	if err != nil {
		s.logger.WithError(err).Debug("Token rejected")
		return nil, errInvalidToken
	}

	session, err := s.sessions.GetByUserID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.Internal("failed to load session", err)
	}
	if session == nil {
		return nil, errInvalidToken
	}

	stored, expiry := session.AccessToken, session.TokenExpiry
	if tokenType == TokenTypeRefresh {
		stored, expiry = session.RefreshToken, session.RefreshExpiry
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return nil, errInvalidToken
	}
	if !s.now().Before(expiry) {
		return nil, errInvalidToken
	}

	return claims, nil
}

// Refresh rotates the pair behind refreshToken. The presented token stops
// working once the new pair is stored.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*models.User, *models.TokenPair, error) {
	claims, err := s.jwt.Parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, nil, errInvalidToken
	}

	mu := s.lockFor(claims.UserID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.validate(ctx, refreshToken, TokenTypeRefresh); err != nil {
		return nil, nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, apperrors.Internal("failed to load user", err)
	}
	if user == nil {
		return nil, nil, apperrors.Unauthorized("user not found")
	}

	pair, err := s.issueLocked(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Revoke drops the user's session. Revoking a missing session is not an error.
func (s *SessionService) Revoke(ctx context.Context, userID string) error {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()
	if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
		return apperrors.Internal("failed to delete session", err)
	}
	return nil
}

func (s *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}

// Subject returns the user id of a correctly signed access token without
// consulting the session store.
func (s *SessionService) Subject(accessToken string) (string, error) {
	claims, err := s.jwt.Parse(accessToken, TokenTypeAccess)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
