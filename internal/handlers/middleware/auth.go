package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkosyrev/authgate/internal/apperrors"
	"github.com/dkosyrev/authgate/internal/handlers/principalctx"
	"github.com/dkosyrev/authgate/internal/handlers/render"
	"github.com/dkosyrev/authgate/internal/models"
)

type authService interface {
	GetUserFromRequest(ctx context.Context, r *http.Request) (models.Principal, error)
}

// Authenticate validates the bearer access token and puts the resolved
// principal into the request context.
// A request without the header at all is unauthenticated (401); a request
// that presents a token which doesn't hold up is forbidden (403)
func Authenticate(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := as.GetUserFromRequest(r.Context(), r)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrNotAuthenticated):
				render.ServiceError(w, "You're not authenticated", http.StatusUnauthorized)
				return
			default:
				render.ServiceError(w, "Token is not valid", http.StatusForbidden)
				return
			}

			ctx := principalctx.New(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SelfOrAdmin permits the request only when the authenticated principal
// targets itself (path parameter equals its own id) or carries the admin
// flag. Must run after Authenticate
func SelfOrAdmin(pathParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalctx.FromContext(r.Context())
			if !ok {
				render.ServiceError(w, "You're not authenticated", http.StatusUnauthorized)
				return
			}

			if !principal.IsAdmin && principal.UserID.String() != r.PathValue(pathParam) {
				render.ServiceError(w, "You're not allowed to act on other users", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
