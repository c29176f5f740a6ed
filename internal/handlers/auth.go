package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkosyrev/authgate/internal/apperrors"
	"github.com/dkosyrev/authgate/internal/handlers/render"
	"github.com/dkosyrev/authgate/internal/models"
)

type authService interface {
	// Register user with username, email and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, email string, password string) (models.User, error)

	// Login user with username and password
	// Has to return apperrors.ErrUserNotFound or apperrors.ErrInvalidPassword
	Login(ctx context.Context, username string, password string) (models.User, models.TokenPair, error)

	// Rotate tokens using refresh token
	// Has to return apperrors.ErrRefreshTokenNotFound if the token is not
	// registered and apperrors.ErrTokenInvalid if the signature or expiry
	// doesn't hold up
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token. Idempotent
	Logout(ctx context.Context, refresh string) error

	// Refresh cookie transport
	GetRefreshString(r *http.Request) (string, error)
	SetRefreshCookie(w http.ResponseWriter, refresh models.IssuedToken)
	ClearRefreshCookie(w http.ResponseWriter)
}

type AuthHandler struct {
	authService authService
}

func NewAuth(auth authService) *AuthHandler {
	return &AuthHandler{authService: auth}
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username string `json:"username" validate:"required,min=2,max=50"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		// Consider to log errors here
		return
	}

	user, err := h.authService.Register(r.Context(), data.Username, data.Email, data.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, newUserView(user))
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type LoginSuccessResponse struct {
		userView
		AccessToken string `json:"accessToken"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		// Consider to log errors here
		return
	}

	user, pair, err := h.authService.Login(r.Context(), data.Username, data.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrInvalidPassword):
			render.ServiceError(w, "Invalid password", http.StatusNotFound)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	// Refresh token travels only as the cookie, never in the body
	h.authService.SetRefreshCookie(w, pair.Refresh)
	render.JSON(w, LoginSuccessResponse{
		userView:    newUserView(user),
		AccessToken: pair.Access.Value,
	})
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshSuccessResponse struct {
		AccessToken string `json:"accessToken"`
	}

	refresh, err := h.authService.GetRefreshString(r)
	if err != nil {
		render.ServiceError(w, "You're not authenticated", http.StatusUnauthorized)
		return
	}

	pair, err := h.authService.Refresh(r.Context(), refresh)
	if err != nil {
		// Consider to log errors here
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound), errors.Is(err, apperrors.ErrTokenInvalid):
			render.ServiceError(w, "Refresh token is not valid", http.StatusForbidden)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.authService.SetRefreshCookie(w, pair.Refresh)
	render.JSON(w, RefreshSuccessResponse{AccessToken: pair.Access.Value})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	type LogoutSuccessResponse struct {
		Message string `json:"message"`
	}

	// Missing cookie is fine: the client is logged out either way
	refresh, _ := h.authService.GetRefreshString(r)

	if err := h.authService.Logout(r.Context(), refresh); err != nil {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.authService.ClearRefreshCookie(w)
	render.JSON(w, LogoutSuccessResponse{Message: "Logged out successfully"})
}
