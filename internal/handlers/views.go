package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/dkosyrev/authgate/internal/models"
)

// userView is the only shape a user record leaves the service in.
// The password hash has no field here, so it can't leak by accident.
type userView struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"admin"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserView(u models.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}
