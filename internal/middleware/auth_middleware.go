package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oems/oems/internal/apperrors"
	"github.com/oems/oems/internal/cookies"
	"github.com/oems/oems/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticator validates access tokens against the active session.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*service.Claims, error)
}

type AuthMiddleware struct {
	auth    Authenticator
	cookies *cookies.Manager
	logger  *logrus.Logger
}

func NewAuthMiddleware(auth Authenticator, cookieManager *cookies.Manager, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		auth:    auth,
		cookies: cookieManager,
		logger:  logger,
	}
}

// RequireAuth admits requests carrying a valid access token in the cookie or
// a Bearer header. Rejected requests get their session cookies cleared.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookies.AccessToken(r)
		if token == "" {
			m.cookies.Clear(w)
			m.respondError(w, apperrors.Unauthorized("authentication required"))
			return
		}

		claims, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			appErr := apperrors.As(err)
			if appErr.Kind == apperrors.KindInternal {
				m.logger.WithError(err).Error("Token verification failed")
			} else {
				m.logger.WithError(err).Debug("Token verification failed")
				m.cookies.Clear(w)
			}
			m.respondError(w, appErr)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, appErr *apperrors.Error) {
	message := appErr.Message
	if appErr.Kind == apperrors.KindInternal {
		message = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": string(appErr.Kind), "message": message},
	})
}
