// Package repository persists OTP codes, auth sessions and users. Every store
// has memory, SQLite, DynamoDB and Redis implementations. Lookups that find
// nothing return a nil record and a nil error.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oems/oems/internal/models"
)

// ErrUserExists is returned when a phone number or email is already bound to
// another user.
var ErrUserExists = errors.New("user already exists")

type OTPStore interface {
	// Create persists code and assigns its ID, which increases with every
	// insert and orders codes by creation.
	Create(ctx context.Context, code *models.OTPCode) error
	// LatestValid returns the most recently created code for phone that has
	// not expired at now.
	LatestValid(ctx context.Context, phone string, now time.Time) (*models.OTPCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type SessionStore interface {
	// Replace stores session as the only session of session.UserID.
	Replace(ctx context.Context, session *models.AuthSession) error
	GetByUserID(ctx context.Context, userID string) (*models.AuthSession, error)
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired removes sessions whose refresh token expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhoneNumber(ctx context.Context, phoneNumber string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}
