// Package ratelimit counts OTP requests per phone number in fixed windows.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more request for key fits in the current window.
// Allow both checks and consumes a slot, atomically per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	RetryAfter() time.Duration
}
