// Package model defines the data structures used throughout the application.
package model

import "time"

// User is an account created by the Google OAuth flow.
// Google's email is the natural key; ID is our own row id.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OAuthToken is one issued Google access token. Tokens are never deleted:
// replacing a user's token revokes every earlier row.
type OAuthToken struct {
	ID           int64
	UserID       int64
	AccessToken  string
	RefreshToken string // empty when Google did not issue one
	ExpiresAt    time.Time
	Scope        string
	TokenType    string
	IsRevoked    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
