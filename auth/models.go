package auth

import (
	"time"

	"contractflow/kyc"
)

// User is the domain representation of an authenticated user.
// It carries no JSON annotations so presentation layers shape their own views.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	AccountType  kyc.AccountType
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email       string          `json:"email"`
	Password    string          `json:"password"`
	FullName    string          `json:"full_name"`
	AccountType kyc.AccountType `json:"account_type"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Claims is what a verified token says about its bearer.
type Claims struct {
	UserID      string
	AccountType kyc.AccountType
}
