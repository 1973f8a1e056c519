package service

import (
	"regexp"
	"strings"

	"github.com/oems/oems/internal/apperrors"
)

var (
	phoneStripPattern = regexp.MustCompile(`[^+\d]`)
	phonePattern      = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// NormalizePhone strips formatting from raw and validates the E.164 shape.
// Numbers longer than ten digits without a leading plus get one.
func NormalizePhone(raw string) (string, error) {
	phone := phoneStripPattern.ReplaceAllString(raw, "")
	if phone == "" {
		return "", apperrors.InvalidInput("phone number is required")
	}
	if !strings.HasPrefix(phone, "+") && len(phone) > 10 {
		phone = "+" + phone
	}
	if !phonePattern.MatchString(phone) {
		return "", apperrors.InvalidInput("invalid phone number format")
	}
	return phone, nil
}

// MaskPhone hides all but the last four digits for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
