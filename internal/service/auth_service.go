package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oems/oems/internal/apperrors"
	"github.com/oems/oems/internal/models"
	"github.com/oems/oems/internal/ratelimit"
	"github.com/oems/oems/internal/repository"
	"github.com/sirupsen/logrus"
)

var (
	otpPattern   = regexp.MustCompile(`^\d{6}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// AuthService implements the OTP sign-in flow on top of the OTP, session and
// user stores.
type AuthService struct {
	otps     *OTPService
	sessions *SessionService
	users    repository.UserDirectory
	limiter  ratelimit.Limiter
	sms      SMSSender
	identity IdentityVerifier
	logger   *logrus.Logger
}

func NewAuthService(
	otps *OTPService,
	sessions *SessionService,
	users repository.UserDirectory,
	limiter ratelimit.Limiter,
	sms SMSSender,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		otps:     otps,
		sessions: sessions,
		users:    users,
		limiter:  limiter,
		sms:      sms,
		logger:   logger,
	}
}

// SetIdentityVerifier enables GoogleLogin.
func (s *AuthService) SetIdentityVerifier(v IdentityVerifier) {
	s.identity = v
}

type SendOTPResult struct {
	Phone string
	Code  string
}

// AuthResult is the outcome of a sign-in. Tokens is nil when IsNewUser is set.
type AuthResult struct {
	IsNewUser bool
	User      *models.User
	Tokens    *models.TokenPair
}

type ProfileInput struct {
	Phone string
	OTP   string
	Name  string
	Email string
}

func (s *AuthService) SendOTP(ctx context.Context, rawPhone string) (*SendOTPResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithField("phone", MaskPhone(phone))

	allowed, err := s.limiter.Allow(ctx, phone)
	if err != nil {
		return nil, apperrors.Internal("failed to check rate limit", err)
	}
	if !allowed {
		log.Warn("OTP rate limit exceeded")
		return nil, apperrors.RateLimited("too many OTP requests, please try again later", s.limiter.RetryAfter())
	}

	code, err := s.otps.Issue(ctx, phone)
	if err != nil {
		return nil, apperrors.Internal("failed to issue OTP", err)
	}

	if err := s.sms.Send(ctx, phone, code); err != nil {
		return nil, apperrors.Internal("failed to deliver OTP", err)
	}

	log.Info("OTP issued")
	return &SendOTPResult{Phone: phone, Code: code}, nil
}

func (s *AuthService) VerifyOTP(ctx context.Context, rawPhone, otp string) (*AuthResult, error) {
	phone, err := s.checkOTP(ctx, rawPhone, otp)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhoneNumber(ctx, phone)
	if err != nil {
		return nil, apperrors.Internal("failed to load user", err)
	}
	if user == nil {
		return &AuthResult{IsNewUser: true}, nil
	}

	tokens, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("User signed in with OTP")
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// checkOTP validates the input shape and the code, returning the normalized phone.
func (s *AuthService) checkOTP(ctx context.Context, rawPhone, otp string) (string, error) {
	otp = strings.TrimSpace(otp)
	if strings.TrimSpace(rawPhone) == "" || otp == "" {
		return "", apperrors.InvalidInput("phone and otp are required")
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}
	if !otpPattern.MatchString(otp) {
		return "", apperrors.InvalidInput("otp must be 6 digits")
	}

	ok, err := s.otps.Verify(ctx, phone, otp)
	if err != nil {
		return "", apperrors.Internal("failed to verify OTP", err)
	}
	if !ok {
		s.logger.WithField("phone", MaskPhone(phone)).Info("OTP verification failed")
		return "", apperrors.Unauthorized("invalid or expired OTP")
	}
	return phone, nil
}

// CompleteProfile registers or updates the user behind a phone. The phone's
// current OTP is required again as proof of possession.
func (s *AuthService) CompleteProfile(ctx context.Context, in ProfileInput) (*AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if n := utf8.RuneCountInString(name); n < 2 || n > 100 {
		return nil, apperrors.InvalidInput("name must be between 2 and 100 characters")
	}
	if !emailPattern.MatchString(email) {
		return nil, apperrors.InvalidInput("invalid email format")
	}

	phone, err := s.checkOTP(ctx, in.Phone, in.OTP)
	if err != nil {
		return nil, err
	}

	owner, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Internal("failed to load user", err)
	}
	if owner != nil && owner.PhoneNumber != phone {
		return nil, apperrors.InvalidInput("email is already registered")
	}

	user, err := s.users.GetByPhoneNumber(ctx, phone)
	if err != nil {
		return nil, apperrors.Internal("failed to load user", err)
	}

	if user == nil {
		user = &models.User{
			ID:          uuid.NewString(),
			PhoneNumber: phone,
			Email:       email,
			FullName:    name,
			Status:      models.UserStatusActive,
		}
		err = s.users.Create(ctx, user)
	} else {
		user.Email = email
		user.FullName = name
		err = s.users.Update(ctx, user)
	}
	if errors.Is(err, repository.ErrUserExists) {
		return nil, apperrors.InvalidInput("email is already registered")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to save user", err)
	}

	tokens, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("Profile completed")
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// GoogleLogin signs in the account behind a verified Google ID token,
// creating the user on first sight.
func (s *AuthService) GoogleLogin(ctx context.Context, idToken string) (*AuthResult, error) {
	if s.identity == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "google sign-in is not enabled")
	}
	if strings.TrimSpace(idToken) == "" {
		return nil, apperrors.InvalidInput("idToken is required")
	}

	identity, err := s.identity.Verify(ctx, idToken)
	if err != nil {
		s.logger.WithError(err).Info("Google token rejected")
		return nil, apperrors.Unauthorized("invalid google token")
	}

	user, err := s.users.GetByEmail(ctx, identity.Email)
	if err != nil {
		return nil, apperrors.Internal("failed to load user", err)
	}
	if user == nil {
		user = &models.User{
			ID:       uuid.NewString(),
			Email:    identity.Email,
			FullName: identity.Name,
			Status:   models.UserStatusActive,
		}
		err := s.users.Create(ctx, user)
		if errors.Is(err, repository.ErrUserExists) {
			user, err = s.users.GetByEmail(ctx, identity.Email)
			if err == nil && user == nil {
				err = repository.ErrUserExists
			}
		}
		if err != nil {
			return nil, apperrors.Internal("failed to save user", err)
		}
	}

	tokens, err := s.sessions.Issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("User signed in with Google")
	return &AuthResult{User: user, Tokens: tokens}, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, apperrors.Unauthorized("refresh token is missing")
	}
	user, tokens, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Logout revokes the session of the access token's owner. It never fails:
// unreadable tokens and store errors are only logged.
func (s *AuthService) Logout(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	userID, err := s.sessions.Subject(accessToken)
	if err != nil {
		s.logger.WithError(err).Debug("Logout with unreadable token")
		return
	}
	if err := s.sessions.Revoke(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to revoke session")
		return
	}
	s.logger.WithField("user_id", userID).Info("User logged out")
}

// Authenticate validates an access token for protected routes.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	return s.sessions.ValidateAccess(ctx, accessToken)
}
