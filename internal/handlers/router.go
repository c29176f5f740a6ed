package handlers

import (
	"net/http"

	"github.com/dkosyrev/authgate/internal/handlers/middleware"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	auth *AuthHandler,
	users *UserHandler,
	authenticate func(next http.Handler) http.Handler,
	mws ...func(next http.Handler) http.Handler,
) http.Handler {
	selfOrAdmin := middleware.SelfOrAdmin("id")

	apiv1 := http.NewServeMux()

	apiv1.Handle("POST /auth/register", http.HandlerFunc(auth.register))
	apiv1.Handle("POST /auth/login", http.HandlerFunc(auth.login))
	apiv1.Handle("POST /auth/refresh", http.HandlerFunc(auth.refresh))
	apiv1.Handle("POST /auth/logout", authenticate(http.HandlerFunc(auth.logout)))

	apiv1.Handle("GET /users", authenticate(http.HandlerFunc(users.list)))
	apiv1.Handle("GET /users/me", authenticate(http.HandlerFunc(users.me)))
	apiv1.Handle("DELETE /users/{id}", chain(http.HandlerFunc(users.delete), authenticate, selfOrAdmin))

	root := http.NewServeMux()
	root.Handle("/api/v1/", http.StripPrefix("/api/v1", apiv1))

	return chain(root, mws...)
}
