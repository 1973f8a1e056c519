package models

import (
	"time"
)

type UserStatus string

const (
	UserStatusPendingVerification UserStatus = "PENDING_VERIFICATION"
	UserStatusActive              UserStatus = "ACTIVE"
	UserStatusSuspended           UserStatus = "SUSPENDED"
	UserStatusDeleted             UserStatus = "DELETED"
)

type User struct {
	ID          string     `json:"id" dynamodbav:"id"`
	PhoneNumber string     `json:"phone_number" dynamodbav:"phone_number,omitempty"`
	Email       string     `json:"email,omitempty" dynamodbav:"email,omitempty"`
	FullName    string     `json:"full_name,omitempty" dynamodbav:"full_name,omitempty"`
	Status      UserStatus `json:"status" dynamodbav:"status"`
	CreatedAt   time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER!" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}
