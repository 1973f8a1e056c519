package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Janitor periodically purges expired OTP codes and sessions. Backends with
// native TTL report zero deletions.
type Janitor struct {
	otps     *OTPService
	sessions *SessionService
	interval time.Duration
	logger   *logrus.Logger
}

func NewJanitor(otps *OTPService, sessions *SessionService, interval time.Duration, logger *logrus.Logger) *Janitor {
	return &Janitor{
		otps:     otps,
		sessions: sessions,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps every interval until ctx is done. A non-positive interval
// disables it.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) {
	otps, err := j.otps.DeleteExpired(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Failed to delete expired OTPs")
	}
	sessions, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Failed to delete expired sessions")
	}
	if otps > 0 || sessions > 0 {
		j.logger.WithFields(logrus.Fields{
			"otps":     otps,
			"sessions": sessions,
		}).Info("Expired auth records removed")
	}
}
