package model

import "time"

// User is the identity anchor for guides.
//
// WHY IS EMAIL THE JOIN KEY FOR SHARING?
// Access grants store an email, not a user id, so a guide can be shared with
// someone before they sign up. Comparisons are exact (case-sensitive).
//
// PasswordHash is empty for accounts created through GitHub login, and
// GitHubID is zero for accounts created with a password.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GitHubID     int64     `json:"githubId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
