package models

import "time"

// OTPCode is one issued one-time password. Rows are append-only: a phone may
// have many, and only the newest unexpired one is eligible for verification.
type OTPCode struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the code is no longer usable at now.
func (o *OTPCode) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// RateLimitEntry is the fixed-window counter kept per phone number.
type RateLimitEntry struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}
