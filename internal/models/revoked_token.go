package models

import "time"

// RevokedToken is a blacklisted token id. It is kept until the token would
// have expired on its own.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}
