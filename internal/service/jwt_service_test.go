package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oems/oems/internal/config"
	"github.com/oems/oems/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = &models.User{
	ID:          "user-1",
	PhoneNumber: "+919876543210",
	Email:       "asha@example.com",
	FullName:    "Asha Rao",
	Status:      models.UserStatusActive,
}

func TestNewJWTService_RejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(&config.JWTConfig{SecretKey: "short"}, newFixture(t).logger)
	assert.Error(t, err)
}

func TestJWTService_IssueAndParse(t *testing.T) {
	f := newFixture(t)

	pair, err := f.jwt.IssuePair(testUser)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(86400), pair.ExpiresIn)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), pair.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), pair.RefreshExpiresAt)

	claims, err := f.jwt.Parse(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "+919876543210", claims.Phone)
	assert.Equal(t, "asha@example.com", claims.Email)
	assert.Equal(t, "Asha Rao", claims.Name)
	assert.NotEmpty(t, claims.ID)

	refresh, err := f.jwt.Parse(pair.RefreshToken, TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", refresh.UserID)
	assert.Empty(t, refresh.Phone)
}

func TestJWTService_TypeIsEnforced(t *testing.T) {
	f := newFixture(t)
	pair, err := f.jwt.IssuePair(testUser)
	require.NoError(t, err)

	_, err = f.jwt.Parse(pair.AccessToken, TokenTypeRefresh)
	assert.Error(t, err)
	_, err = f.jwt.Parse(pair.RefreshToken, TokenTypeAccess)
	assert.Error(t, err)
}

func TestJWTService_Expiry(t *testing.T) {
	f := newFixture(t)
	pair, err := f.jwt.IssuePair(testUser)
	require.NoError(t, err)

	f.clock.Advance(24*time.Hour - time.Second)
	_, err = f.jwt.Parse(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	_, err = f.jwt.Parse(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = f.jwt.Parse(pair.RefreshToken, TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestJWTService_RejectsForeignTokens(t *testing.T) {
	f := newFixture(t)

	other, err := NewJWTService(&config.JWTConfig{
		SecretKey:     "ffffffffffffffffffffffffffffffff",
		AccessExpiry:  time.Hour,
		RefreshExpiry: time.Hour,
	}, f.logger)
	require.NoError(t, err)
	other.now = f.clock.Now
	foreign, err := other.IssuePair(testUser)
	require.NoError(t, err)

	_, err = f.jwt.Parse(foreign.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: "user-1",
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = f.jwt.Parse(unsigned, TokenTypeAccess)
	assert.Error(t, err)

	_, err = f.jwt.Parse("not-a-token", TokenTypeAccess)
	assert.Error(t, err)
}

func TestJWTService_PairsInSameSecondDiffer(t *testing.T) {
	f := newFixture(t)
	first, err := f.jwt.IssuePair(testUser)
	require.NoError(t, err)
	second, err := f.jwt.IssuePair(testUser)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}
