package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oems/oems/internal/config"
	"github.com/oems/oems/internal/ratelimit"
	"github.com/oems/oems/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureSMS records the last code sent to each phone.
type captureSMS struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *captureSMS) Send(_ context.Context, phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = make(map[string]string)
	}
	c.codes[phone] = code
	return nil
}

func (c *captureSMS) last(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

// sequenceCodes returns 100001, 100002, ... so tests can tell codes apart.
func sequenceCodes() func() (string, error) {
	var mu sync.Mutex
	n := 100000
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%06d", n), nil
	}
}

type fixture struct {
	clock    *fakeClock
	logger   *logrus.Logger
	logs     *test.Hook
	otpStore *repository.MemoryOTPStore
	sessions *repository.MemorySessionStore
	users    *repository.MemoryUserDirectory
	jwt      *JWTService
	otp      *OTPService
	session  *SessionService
	sms      *captureSMS
	auth     *AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clock := newFakeClock()

	f := &fixture{
		clock:    clock,
		logger:   logger,
		logs:     hook,
		otpStore: repository.NewMemoryOTPStore(),
		sessions: repository.NewMemorySessionStore(),
		users:    repository.NewMemoryUserDirectory(),
		sms:      &captureSMS{},
	}

	var err error
	f.jwt, err = NewJWTService(&config.JWTConfig{
		SecretKey:     testSecret,
		AccessExpiry:  24 * time.Hour,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, logger)
	require.NoError(t, err)
	f.jwt.now = clock.Now

	f.otp = NewOTPService(f.otpStore, &config.OTPConfig{Expiry: 180 * time.Second, HashCost: bcrypt.MinCost}, logger)
	f.otp.now = clock.Now
	f.otp.generate = sequenceCodes()

	f.session = NewSessionService(f.jwt, f.sessions, f.users, logger)
	f.session.now = clock.Now

	f.auth = NewAuthService(f.otp, f.session, f.users, ratelimit.NewMemoryLimiter(3, time.Hour), f.sms, logger)
	return f
}
