package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWT.AccessExpiry)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
	assert.Equal(t, 180*time.Second, cfg.OTP.Expiry)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "/api/auth", cfg.Cookie.RefreshPath)
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.SecureCookies())
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_DevelopmentDefaultsToInsecureCookies(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("APP_ENV", "DEV")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.SecureCookies())

	t.Setenv("COOKIE_SECURE", "true")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.SecureCookies())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("OTP_RATE_LIMIT_MAX", "5")
	t.Setenv("OTP_RATE_LIMIT_WINDOW", "30m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 30*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET_KEY environment variable is required"},
		{"short secret", map[string]string{"JWT_SECRET_KEY": "short"}, "at least 32 bytes"},
		{"bad backend", map[string]string{"JWT_SECRET_KEY": testSecret, "STORE_BACKEND": "postgres"}, "STORE_BACKEND"},
		{"bad limiter", map[string]string{"JWT_SECRET_KEY": testSecret, "RATE_LIMIT_BACKEND": "sqlite"}, "RATE_LIMIT_BACKEND"},
		{"zero window", map[string]string{"JWT_SECRET_KEY": testSecret, "OTP_RATE_LIMIT_WINDOW": "0s"}, "OTP_RATE_LIMIT_WINDOW"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), err.Error())
		})
	}
}
