package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	Email          string
	HashedPassword string
	IsAdmin        bool
}

// Principal is the identity derived from a verified access or refresh token.
// It carries everything the authorization layer needs and nothing else.
type Principal struct {
	UserID  uuid.UUID
	IsAdmin bool
}
