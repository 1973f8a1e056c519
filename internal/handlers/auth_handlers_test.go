package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oems/oems/internal/config"
	"github.com/oems/oems/internal/cookies"
	"github.com/oems/oems/internal/middleware"
	"github.com/oems/oems/internal/models"
	"github.com/oems/oems/internal/ratelimit"
	"github.com/oems/oems/internal/repository"
	"github.com/oems/oems/internal/service"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPhone = "+919876543210"

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, idToken string) (*service.Identity, error) {
	return &service.Identity{Email: idToken + "@example.com", Name: "Google User"}, nil
}

type testServer struct {
	t      *testing.T
	router http.Handler
	users  *repository.MemoryUserDirectory
}

func newTestServer(t *testing.T, devMode bool, opts RouterOptions) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()

	users := repository.NewMemoryUserDirectory()
	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  24 * time.Hour,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, logger)
	require.NoError(t, err)

	otpService := service.NewOTPService(repository.NewMemoryOTPStore(), &config.OTPConfig{
		Expiry:   180 * time.Second,
		HashCost: bcrypt.MinCost,
	}, logger)
	sessionService := service.NewSessionService(jwtService, repository.NewMemorySessionStore(), users, logger)
	authService := service.NewAuthService(
		otpService,
		sessionService,
		users,
		ratelimit.NewMemoryLimiter(3, time.Hour),
		service.NewLogSMSSender(logger, devMode),
		logger,
	)
	if opts.EnableGoogle {
		authService.SetIdentityVerifier(stubVerifier{})
	}

	cookieManager := cookies.NewManager(false, "", "/api/auth", 24*time.Hour, 7*24*time.Hour)
	router := NewRouter(
		NewAuthHandlers(authService, cookieManager, devMode, logger),
		middleware.NewAuthMiddleware(authService, cookieManager, logger),
		opts,
		logger,
	)
	return &testServer{t: t, router: router, users: users}
}

func (s *testServer) do(method, path string, body interface{}, cookies []*http.Cookie, header http.Header) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func responseCookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func assertCookiesCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	got := responseCookies(rec)
	for _, name := range []string{cookies.AccessTokenName, cookies.RefreshTokenName} {
		c, ok := got[name]
		require.True(t, ok, "missing %s cookie", name)
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	detail, ok := body["error"].(map[string]interface{})
	require.True(t, ok, rec.Body.String())
	return detail["code"].(string)
}

func (s *testServer) seedUser() *models.User {
	user := &models.User{ID: "user-1", PhoneNumber: testPhone, Email: "asha@example.com", FullName: "Asha Rao", Status: models.UserStatusActive}
	require.NoError(s.t, s.users.Create(context.Background(), user))
	return user
}

func (s *testServer) login() []*http.Cookie {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: testPhone}, nil, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	otp := decodeBody(s.t, rec)["otp"].(string)

	rec = s.do(http.MethodPost, "/api/auth/verify-otp", VerifyOTPRequest{Phone: testPhone, OTP: otp}, nil, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return rec.Result().Cookies()
}

func TestSendAndVerifyOTP_ExistingUser(t *testing.T) {
	s := newTestServer(t, true, RouterOptions{})
	s.seedUser()

	rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: testPhone}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	otp, ok := body["otp"].(string)
	require.True(t, ok, "dev mode echoes the code")
	assert.Len(t, otp, 6)

	rec = s.do(http.MethodPost, "/api/auth/verify-otp", VerifyOTPRequest{Phone: testPhone, OTP: otp}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body = decodeBody(t, rec)
	assert.Equal(t, false, body["isNewUser"])
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["refreshToken"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, testPhone, user["phoneNumber"])
	assert.Equal(t, "Asha Rao", user["fullName"])

	got := responseCookies(rec)
	access := got[cookies.AccessTokenName]
	require.NotNil(t, access)
	assert.Equal(t, body["token"], access.Value)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, 86400, access.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)

	refresh := got[cookies.RefreshTokenName]
	require.NotNil(t, refresh)
	assert.Equal(t, "/api/auth", refresh.Path)
	assert.Equal(t, 604800, refresh.MaxAge)
}

func TestSendOTP_ProductionHidesCode(t *testing.T) {
	s := newTestServer(t, false, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: testPhone}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotContains(t, body, "otp")
	assert.Equal(t, "OTP sent", body["message"])
}

func TestSendOTP_RateLimited(t *testing.T) {
	s := newTestServer(t, false, RouterOptions{})

	for i := 0; i < 3; i++ {
		rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: testPhone}, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: testPhone}, nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	detail := decodeBody(t, rec)["error"].(map[string]interface{})
	assert.Equal(t, "RATE_LIMITED", detail["code"])
	assert.Equal(t, float64(3600), detail["retryAfter"])
}

func TestSendOTP_BadRequests(t *testing.T) {
	s := newTestServer(t, false, RouterOptions{})

	for _, phone := range []string{"0123", "+0123", "1"} {
		rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: phone}, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, phone)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec), phone)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyOTP_Outcomes(t *testing.T) {
	s := newTestServer(t, true, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: testPhone}, nil, nil)
	otp := decodeBody(t, rec)["otp"].(string)

	rec = s.do(http.MethodPost, "/api/auth/verify-otp", VerifyOTPRequest{Phone: testPhone, OTP: otp}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["isNewUser"])
	assert.NotContains(t, body, "token")
	assert.Empty(t, rec.Result().Cookies())

	rec = s.do(http.MethodPost, "/api/auth/verify-otp", VerifyOTPRequest{Phone: testPhone}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	wrong := "100000"
	if otp == wrong {
		wrong = "999999"
	}
	rec = s.do(http.MethodPost, "/api/auth/verify-otp", VerifyOTPRequest{Phone: testPhone, OTP: wrong}, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestCompleteProfile(t *testing.T) {
	s := newTestServer(t, true, RouterOptions{})

	rec := s.do(http.MethodPost, "/api/auth/send-otp", SendOTPRequest{Phone: testPhone}, nil, nil)
	otp := decodeBody(t, rec)["otp"].(string)

	rec = s.do(http.MethodPost, "/api/auth/complete-profile", CompleteProfileRequest{
		Phone: testPhone, OTP: otp, Name: "Asha Rao", Email: "asha@example.com",
	}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "ACTIVE", body["user"].(map[string]interface{})["status"])
	assert.Contains(t, responseCookies(rec), cookies.AccessTokenName)

	rec = s.do(http.MethodPost, "/api/auth/complete-profile", CompleteProfileRequest{
		Phone: testPhone, OTP: otp, Name: "A", Email: "asha@example.com",
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe(t *testing.T) {
	s := newTestServer(t, true, RouterOptions{})
	s.seedUser()
	session := s.login()

	rec := s.do(http.MethodGet, "/api/auth/me", nil, session, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "user-1", user["id"])
	assert.Equal(t, "asha@example.com", user["email"])
	assert.Equal(t, "Asha Rao", user["fullName"])
	assert.Equal(t, testPhone, user["phoneNumber"])

	var access string
	for _, c := range session {
		if c.Name == cookies.AccessTokenName {
			access = c.Value
		}
	}
	rec = s.do(http.MethodGet, "/api/auth/me", nil, nil, http.Header{"Authorization": {"Bearer " + access}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/auth/me", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertCookiesCleared(t, rec)

	rec = s.do(http.MethodGet, "/api/auth/me", nil, []*http.Cookie{{Name: cookies.AccessTokenName, Value: "garbage"}}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertCookiesCleared(t, rec)
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t, true, RouterOptions{})
	s.seedUser()
	session := s.login()

	rec := s.do(http.MethodPost, "/api/auth/refresh", nil, session, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	rotated := rec.Result().Cookies()
	require.Len(t, rotated, 2)

	// The old pair is gone.
	rec = s.do(http.MethodPost, "/api/auth/refresh", nil, session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertCookiesCleared(t, rec)

	rec = s.do(http.MethodGet, "/api/auth/me", nil, session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/auth/me", nil, rotated, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Body fallback for clients without cookies.
	rec = s.do(http.MethodPost, "/api/auth/refresh", RefreshRequest{RefreshToken: body["refreshToken"].(string)}, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/auth/refresh", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assertCookiesCleared(t, rec)
}

func TestLogout_Idempotent(t *testing.T) {
	s := newTestServer(t, true, RouterOptions{})
	s.seedUser()
	session := s.login()

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/api/auth/logout", nil, session, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assertCookiesCleared(t, rec)
	}

	rec := s.do(http.MethodGet, "/api/auth/me", nil, session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/logout", nil, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGoogleRoute(t *testing.T) {
	s := newTestServer(t, false, RouterOptions{})
	rec := s.do(http.MethodPost, "/api/auth/google", GoogleLoginRequest{IDToken: "g"}, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s = newTestServer(t, false, RouterOptions{EnableGoogle: true})
	rec = s.do(http.MethodPost, "/api/auth/google", GoogleLoginRequest{IDToken: "g"}, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "g@example.com", decodeBody(t, rec)["user"].(map[string]interface{})["email"])
	assert.Contains(t, responseCookies(rec), cookies.RefreshTokenName)
}

func TestHealthAndCORS(t *testing.T) {
	s := newTestServer(t, false, RouterOptions{AllowedOrigins: []string{"https://app.example"}})

	rec := s.do(http.MethodGet, "/health", nil, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(http.MethodOptions, "/api/auth/send-otp", nil, nil, http.Header{"Origin": {"https://app.example"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = s.do(http.MethodOptions, "/api/auth/send-otp", nil, nil, http.Header{"Origin": {"https://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
