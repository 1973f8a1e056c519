package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/oems/oems/internal/config"
	"github.com/oems/oems/internal/models"
	"github.com/oems/oems/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// OTPService issues six-digit codes and checks them against the newest
// unexpired code of a phone. Codes stay valid until they expire or a newer
// code is issued; verification does not consume them.
type OTPService struct {
	store    repository.OTPStore
	expiry   time.Duration
	hashCost int
	logger   *logrus.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewOTPService(store repository.OTPStore, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	cost := cfg.HashCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &OTPService{
		store:    store,
		expiry:   cfg.Expiry,
		hashCost: cost,
		logger:   logger,
		now:      time.Now,
		generate: generateRandomOTP,
	}
}

// Issue generates and persists a new code for phone and returns it in plain text.
func (s *OTPService) Issue(ctx context.Context, phone string) (string, error) {
	otp, err := s.generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	// Hash OTP before storing
	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(otp), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	code := &models.OTPCode{
		Phone:     phone,
		CodeHash:  string(hashedOTP),
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}
	if err := s.store.Create(ctx, code); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP")
		return "", err
	}

	return otp, nil
}

// Verify reports whether otp matches the newest unexpired code for phone.
func (s *OTPService) Verify(ctx context.Context, phone, otp string) (bool, error) {
	code, err := s.store.LatestValid(ctx, phone, s.now())
	if err != nil {
		return false, err
	}
	if code == nil {
		return false, nil
	}

	err = bcrypt.CompareHashAndPassword([]byte(code.CodeHash), []byte(otp))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare OTP: %w", err)
	}
	return true, nil
}

func (s *OTPService) DeleteExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// generateRandomOTP draws uniformly from [100000, 999999].
func generateRandomOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
