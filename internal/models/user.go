package models

import (
	"time"
)

// User is the public profile stored in PostgreSQL. Presence is never stored
// here; it is derived from the live session set at read time.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	AvatarColor string    `json:"avatar_color,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserWithPresence is a profile joined with derived presence for the
// online-users listing.
type UserWithPresence struct {
	User
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
