package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/dkosyrev/authgate/internal/apperrors"
	"github.com/dkosyrev/authgate/internal/handlers/principalctx"
	"github.com/dkosyrev/authgate/internal/handlers/render"
	"github.com/dkosyrev/authgate/internal/models"
)

type userService interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (models.User, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

type UserHandler struct {
	userService userService
}

func NewUser(users userService) *UserHandler {
	return &UserHandler{userService: users}
}

func (h *UserHandler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context())
	if err != nil {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(u))
	}

	render.JSON(w, views)
}

func (h *UserHandler) me(w http.ResponseWriter, r *http.Request) {
	// Middleware guarantees the principal is set
	principal, _ := principalctx.FromContext(r.Context())

	user, err := h.userService.GetUser(r.Context(), principal.UserID)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, newUserView(user))
}

func (h *UserHandler) delete(w http.ResponseWriter, r *http.Request) {
	type DeleteSuccessResponse struct {
		Message string `json:"message"`
	}

	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.ServiceError(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	err = h.userService.DeleteUser(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, DeleteSuccessResponse{Message: "User deleted"})
}
