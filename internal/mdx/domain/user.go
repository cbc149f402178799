package domain

import "time"

// User is the public profile projection of an identity.
type User struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
}
