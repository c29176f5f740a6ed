package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dkosyrev/authgate/internal/apperrors"
	"github.com/dkosyrev/authgate/internal/models"
	"github.com/dkosyrev/authgate/internal/registry"
	"github.com/dkosyrev/authgate/internal/repository"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshToken"
)

// Compared against when login names an unknown user, so the request burns
// the same bcrypt cost as a wrong password and the two are not
// distinguishable by timing
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Header and scheme the access token is carried in
	// Defaults: "Authorization" and "Bearer"
	AccessHeaderName string
	AccessAuthScheme string

	// Cookie name the refresh token is carried in. Default: "refreshToken"
	RefreshCookieName string

	// Hasher to use during user registration or login process
	Hasher PasswordHasher
}

// AuthService drives the session protocol: login issues a token pair and
// registers the refresh token, refresh rotates the pair against the
// registry, logout revokes. The registry is injected and owned by the app.
type AuthService struct {
	token    *TokenManager
	registry registry.Registry
	hasher   PasswordHasher
	userRepo repository.UserRepo

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
}

func NewService(cfg Config, token *TokenManager, reg registry.Registry, userRepo repository.UserRepo) (*AuthService, error) {
	if token == nil {
		return nil, errors.New("token manager must not be nil")
	}

	if reg == nil || userRepo == nil {
		return nil, errors.New("registry and user repo must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	setDefaultString := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefaultString(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefaultString(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefaultString(&cfg.RefreshCookieName, defaultRefreshCookieName)

	return &AuthService{
		token:             token,
		registry:          reg,
		hasher:            hasher,
		userRepo:          userRepo,
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
	}, nil
}

// Register creates a user. No tokens are issued: the original flow expects
// the client to log in with the fresh credentials
func (s *AuthService) Register(ctx context.Context, username string, email string, password string) (models.User, error) {
	var user models.User

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, error=%w", err)
	}

	user, err = s.userRepo.CreateUser(ctx, username, email, hash)
	if err != nil {
		return user, err
	}

	return user, nil
}

// Login verifies credentials, issues a token pair and registers the refresh
// token so it can be renewed later
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.User, models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			_ = s.hasher.Compare(dummyPasswordHash, password)
		}
		return user, pair, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return user, pair, apperrors.ErrInvalidPassword
	}

	pair, err = s.token.GeneratePair(models.Principal{UserID: user.ID, IsAdmin: user.IsAdmin})
	if err != nil {
		return user, pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	if err := s.registry.Register(ctx, pair.Refresh.Value, pair.Refresh.ExpiresAt); err != nil {
		return user, pair, fmt.Errorf("error while registering refresh token. Err: %w", err)
	}

	return user, pair, nil
}

// Refresh rotates the token pair.
// Order matters: registry membership first, then signature and expiry, then
// the atomic rotation. A signature failure aborts the renewal outright and
// mutates nothing.
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair

	valid, err := s.registry.IsValid(ctx, refresh)
	if err != nil {
		return pair, fmt.Errorf("error while checking refresh token. Err: %w", err)
	}
	if !valid {
		return pair, apperrors.ErrRefreshTokenNotFound
	}

	principal, _, err := s.token.ParseRefresh(refresh)
	if err != nil {
		return pair, err
	}

	pair, err = s.token.GeneratePair(principal)
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	// Single winner: with concurrent refreshes of one token the registry
	// rejects every rotation but the first
	err = s.registry.Rotate(ctx, refresh, pair.Refresh.Value, pair.Refresh.ExpiresAt)
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// Logout revokes the refresh token. Idempotent: revoking an absent or
// already revoked token succeeds as well
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	if refresh == "" {
		return nil
	}

	if err := s.registry.Revoke(ctx, refresh); err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}

	return nil
}

// GetUserFromRequest parses the access token carried in the request header
// and resolves the principal behind it
func (s *AuthService) GetUserFromRequest(ctx context.Context, r *http.Request) (models.Principal, error) {
	header := r.Header.Get(s.accessHeaderName)
	if header == "" {
		return models.Principal{}, apperrors.ErrNotAuthenticated
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, s.accessAuthScheme) || token == "" {
		return models.Principal{}, apperrors.ErrTokenInvalid
	}

	return s.token.ParseAccess(token)
}

// GetRefreshString reads the refresh token from the request cookie
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return "", apperrors.ErrNotAuthenticated
	}

	return cookie.Value, nil
}

// SetRefreshCookie writes the refresh token as a http-only strict-same-site
// cookie scoped to the whole site
func (s *AuthService) SetRefreshCookie(w http.ResponseWriter, refresh models.IssuedToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    refresh.Value,
		Path:     "/",
		Expires:  refresh.ExpiresAt,
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshCookie expires the refresh cookie on the client
func (s *AuthService) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetAuthToRequest attaches the pair to an outgoing request the same way a
// browser would: access token in the header, refresh token as cookie.
// Intended for tests and client code
func (s *AuthService) SetAuthToRequest(r *http.Request, pair models.TokenPair) {
	r.Header.Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	r.AddCookie(&http.Cookie{Name: s.refreshCookieName, Value: pair.Refresh.Value})
}
