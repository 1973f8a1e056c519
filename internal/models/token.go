package models

import "time"

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// AuthSession is the single active token pair of a user. Issuing a new pair
// replaces the row, which makes every earlier token unverifiable.
type AuthSession struct {
	ID            string    `json:"id" dynamodbav:"ID"`
	UserID        string    `json:"user_id" dynamodbav:"UserID"`
	AccessToken   string    `json:"access_token" dynamodbav:"AccessToken"`
	RefreshToken  string    `json:"refresh_token" dynamodbav:"RefreshToken"`
	TokenExpiry   time.Time `json:"token_expiry" dynamodbav:"TokenExpiry"`
	RefreshExpiry time.Time `json:"refresh_expiry" dynamodbav:"RefreshExpiry"`
	CreatedAt     time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	UpdatedAt     time.Time `json:"updated_at" dynamodbav:"UpdatedAt"`
}

// UserInfo is the display identity carried inside an access token.
type UserInfo struct {
	UserID string `json:"id"`
	Phone  string `json:"phoneNumber"`
	Email  string `json:"email"`
	Name   string `json:"fullName"`
}
