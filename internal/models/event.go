package models

import "time"

// Event represents an entry in the authentication audit trail.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`  // e.g., "auth.login", "auth.logout"
	Level     string    `json:"level"` // e.g., "info", "warn"
	Message   string    `json:"message"`
	UserID    *string   `json:"user_id,omitempty"` // Nullable for attempts against unknown accounts
	CreatedAt time.Time `json:"created_at"`
}
