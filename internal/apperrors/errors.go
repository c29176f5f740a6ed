package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidPassword   = errors.New("invalid password")

	// Token is malformed, signed with a wrong key or expired
	ErrTokenInvalid = errors.New("token is not valid")

	// Refresh token is not registered (revoked, rotated away or never issued here)
	ErrRefreshTokenNotFound = errors.New("refresh token not found")

	ErrNotAuthenticated = errors.New("not authenticated")
)
