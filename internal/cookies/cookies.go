// Package cookies carries session tokens in HttpOnly cookies.
package cookies

import (
	"net/http"
	"strings"
	"time"

	"github.com/oems/oems/internal/models"
)

const (
	AccessTokenName  = "access_token"
	RefreshTokenName = "refresh_token"
)

// Manager writes and clears the token cookies. The refresh cookie is scoped
// to the auth route group so it is only sent where it can be used.
type Manager struct {
	secure      bool
	domain      string
	refreshPath string
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewManager(secure bool, domain, refreshPath string, accessTTL, refreshTTL time.Duration) *Manager {
	if refreshPath == "" {
		refreshPath = "/"
	}
	return &Manager{
		secure:      secure,
		domain:      domain,
		refreshPath: refreshPath,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

func (m *Manager) SetTokens(w http.ResponseWriter, pair *models.TokenPair) {
	http.SetCookie(w, m.cookie(AccessTokenName, pair.AccessToken, "/", int(m.accessTTL.Seconds())))
	http.SetCookie(w, m.cookie(RefreshTokenName, pair.RefreshToken, m.refreshPath, int(m.refreshTTL.Seconds())))
}

// Clear expires both cookies on the client.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(AccessTokenName, "", "/", -1))
	http.SetCookie(w, m.cookie(RefreshTokenName, "", m.refreshPath, -1))
}

func (m *Manager) cookie(name, value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   m.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// AccessToken reads the access cookie, falling back to a Bearer header.
func AccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenName); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func RefreshToken(r *http.Request) string {
	if c, err := r.Cookie(RefreshTokenName); err == nil {
		return c.Value
	}
	return ""
}
