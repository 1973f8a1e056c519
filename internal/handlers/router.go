package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/oems/oems/internal/middleware"
	"github.com/sirupsen/logrus"
)

type RouterOptions struct {
	AllowedOrigins []string
	EnableGoogle   bool
}

// NewRouter mounts the auth endpoints under /api/auth.
func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	opts RouterOptions,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware(opts.AllowedOrigins))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	auth := router.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/send-otp", authHandlers.SendOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	auth.HandleFunc("/complete-profile", authHandlers.CompleteProfile).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST", "OPTIONS")
	auth.HandleFunc("/logout", authHandlers.Logout).Methods("POST", "OPTIONS")
	if opts.EnableGoogle {
		auth.HandleFunc("/google", authHandlers.GoogleLogin).Methods("POST", "OPTIONS")
	}

	auth.Handle("/me", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Me))).Methods("GET", "OPTIONS")

	return router
}
