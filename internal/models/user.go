package models

import "time"

// User is the subset of the user record this service reads and maintains.
// Online state and last-seen are only written on connect and disconnect.
type User struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	ProfilePicture *string   `db:"profile_picture" json:"profilePicture"`
	IsOnline       bool      `db:"is_online" json:"isOnline"`
	LastSeen       time.Time `db:"last_seen" json:"lastSeen"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// UserSummary is the public view of a user embedded in messages.
type UserSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
}

// Summary returns the public view of u.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
	}
}
