package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/oems/oems/internal/apperrors"
	"github.com/oems/oems/internal/cookies"
	"github.com/oems/oems/internal/middleware"
	"github.com/oems/oems/internal/models"
	"github.com/oems/oems/internal/service"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type AuthHandlers struct {
	authService *service.AuthService
	cookies     *cookies.Manager
	devMode     bool
	logger      *logrus.Logger
}

func NewAuthHandlers(
	authService *service.AuthService,
	cookieManager *cookies.Manager,
	devMode bool,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		cookies:     cookieManager,
		devMode:     devMode,
		logger:      logger,
	}
}

type SendOTPRequest struct {
	Phone string `json:"phone"`
}

type SendOTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"`
}

type VerifyOTPRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

type CompleteProfileRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"idToken"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UserResponse struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	FullName    string            `json:"fullName"`
	PhoneNumber string            `json:"phoneNumber"`
	Status      models.UserStatus `json:"status"`
}

// SessionResponse echoes the issued tokens for clients that do not use cookies.
type SessionResponse struct {
	Success      bool          `json:"success"`
	IsNewUser    *bool         `json:"isNewUser,omitempty"`
	Message      string        `json:"message"`
	ID           string        `json:"id,omitempty"`
	User         *UserResponse `json:"user,omitempty"`
	Token        string        `json:"token,omitempty"`
	RefreshToken string        `json:"refreshToken,omitempty"`
	TokenType    string        `json:"tokenType,omitempty"`
	ExpiresIn    int64         `json:"expiresIn,omitempty"`
}

type MeResponse struct {
	Success bool             `json:"success"`
	User    *models.UserInfo `json:"user"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.authService.SendOTP(r.Context(), req.Phone)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	resp := SendOTPResponse{Success: true, Message: "OTP sent"}
	if h.devMode {
		resp.OTP = result.Code
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.authService.VerifyOTP(r.Context(), req.Phone, req.OTP)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	if result.IsNewUser {
		isNew := true
		h.respondWithJSON(w, http.StatusOK, SessionResponse{
			Success:   true,
			IsNewUser: &isNew,
			Message:   "User not found. Please complete your profile.",
		})
		return
	}

	resp := h.startSession(w, result, "Login successful")
	isNew := false
	resp.IsNewUser = &isNew
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	var req CompleteProfileRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.authService.CompleteProfile(r.Context(), service.ProfileInput{
		Phone: req.Phone,
		OTP:   req.OTP,
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	resp := h.startSession(w, result, "Profile completed successfully")
	resp.ID = result.User.ID
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandlers) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.authService.GoogleLogin(r.Context(), req.IDToken)
	if err != nil {
		h.respondWithAppError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.startSession(w, result, "Login successful"))
}

// RefreshToken rotates the session. The refresh cookie is preferred; a body
// token is accepted for clients that do not keep cookies.
func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := cookies.RefreshToken(r)
	if token == "" {
		var req RefreshRequest
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err == nil {
			token = req.RefreshToken
		}
	}

	result, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnauthorized {
			h.cookies.Clear(w)
		}
		h.respondWithAppError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.startSession(w, result, "Token refreshed successfully"))
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.authService.Logout(r.Context(), cookies.AccessToken(r))
	h.cookies.Clear(w)
	h.respondWithJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

// Me must run behind middleware.RequireAuth.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.cookies.Clear(w)
		h.respondWithAppError(w, apperrors.Unauthorized("authentication required"))
		return
	}
	h.respondWithJSON(w, http.StatusOK, MeResponse{Success: true, User: claims.UserInfo()})
}

func (h *AuthHandlers) startSession(w http.ResponseWriter, result *service.AuthResult, message string) SessionResponse {
	h.cookies.SetTokens(w, result.Tokens)
	return SessionResponse{
		Success:      true,
		Message:      message,
		User:         newUserResponse(result.User),
		Token:        result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    result.Tokens.TokenType,
		ExpiresIn:    result.Tokens.ExpiresIn,
	}
}

func newUserResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		PhoneNumber: user.PhoneNumber,
		Status:      user.Status,
	}
}

func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) {
			h.logger.WithError(err).Debug("Invalid request body")
		}
		h.respondWithAppError(w, apperrors.InvalidInput("Invalid request body"))
		return false
	}
	return true
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("Failed to write response")
	}
}

// respondWithAppError converts a service error into the error body. Internal
// causes are logged and never sent to the client.
func (h *AuthHandlers) respondWithAppError(w http.ResponseWriter, err error) {
	appErr := apperrors.As(err)
	detail := ErrorDetail{Code: string(appErr.Kind), Message: appErr.Message}

	switch appErr.Kind {
	case apperrors.KindInternal:
		h.logger.WithError(err).Error("Request failed")
		detail.Message = "internal server error"
	case apperrors.KindRateLimited:
		seconds := int64(math.Ceil(appErr.RetryAfter.Seconds()))
		detail.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}

	h.respondWithJSON(w, appErr.Kind.HTTPStatus(), ErrorResponse{Error: detail})
}
