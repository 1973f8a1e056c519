package cookies

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oems/oems/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestManager_SetTokens(t *testing.T) {
	m := NewManager(true, "example.com", "/api/auth", 24*time.Hour, 7*24*time.Hour)
	rec := httptest.NewRecorder()

	m.SetTokens(rec, &models.TokenPair{AccessToken: "a", RefreshToken: "r"})

	got := cookiesByName(rec)
	require.Len(t, got, 2)

	access := got[AccessTokenName]
	assert.Equal(t, "a", access.Value)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, 86400, access.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, "example.com", access.Domain)

	refresh := got[RefreshTokenName]
	assert.Equal(t, "r", refresh.Value)
	assert.Equal(t, "/api/auth", refresh.Path)
	assert.Equal(t, 604800, refresh.MaxAge)
	assert.True(t, refresh.HttpOnly)
}

func TestManager_Clear(t *testing.T) {
	m := NewManager(false, "", "/api/auth", time.Hour, time.Hour)
	rec := httptest.NewRecorder()

	m.Clear(rec)

	headers := rec.Header().Values("Set-Cookie")
	require.Len(t, headers, 2)
	for _, h := range headers {
		assert.Contains(t, h, "Max-Age=0")
		assert.Contains(t, h, "HttpOnly")
		assert.Contains(t, h, "SameSite=Strict")
		assert.NotContains(t, h, "Secure")
	}
	got := cookiesByName(rec)
	assert.Empty(t, got[AccessTokenName].Value)
	assert.Equal(t, "/api/auth", got[RefreshTokenName].Path)
}

func TestAccessToken_CookieThenBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	assert.Empty(t, AccessToken(r))

	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", AccessToken(r))

	r.AddCookie(&http.Cookie{Name: AccessTokenName, Value: "cookie-token"})
	assert.Equal(t, "cookie-token", AccessToken(r))

	r = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, AccessToken(r))
}

func TestRefreshToken_CookieOnly(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	assert.Empty(t, RefreshToken(r))

	r.AddCookie(&http.Cookie{Name: RefreshTokenName, Value: "refresh"})
	assert.Equal(t, "refresh", RefreshToken(r))
}
