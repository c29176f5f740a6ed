package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkosyrev/authgate/internal/apperrors"
	"github.com/dkosyrev/authgate/internal/models"
)

const (
	defaultAccessTokenTTL  = 30 * time.Second
	defaultRefreshTokenTTL = 365 * 24 * time.Hour
	defaultSigningMethod   = "HS256"
)

type TokenClaims struct {
	jwt.RegisteredClaims
	UserID  uuid.UUID `json:"uid"`
	IsAdmin bool      `json:"admin"`
}

// Token manager with sensible defaults
type TokenManagerConfig struct {
	// Secret keys to sign tokens. Both required and must differ:
	// an access token must never verify against the refresh key or vice versa
	AccessKey  string
	RefreshKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenManager struct {
	accessKey  []byte
	refreshKey []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.AccessKey == "" || cfg.RefreshKey == "" {
		return nil, errors.New("both access and refresh secret keys must be set")
	}

	if cfg.AccessKey == cfg.RefreshKey {
		return nil, errors.New("access and refresh secret keys must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		accessKey:  []byte(cfg.AccessKey),
		refreshKey: []byte(cfg.RefreshKey),
		alg:        jwt.GetSigningMethod(cfg.Alg),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// GeneratePair mints a signed access and refresh token for the principal.
// The uuid jti keeps two pairs issued within one second distinct.
func (m *TokenManager) GeneratePair(p models.Principal) (models.TokenPair, error) {
	var pair models.TokenPair
	now := time.Now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	access, err := m.sign(p, now, accessExpiresAt, m.accessKey)
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	refresh, err := m.sign(p, now, refreshExpiresAt, m.refreshKey)
	if err != nil {
		return pair, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

func (m *TokenManager) sign(p models.Principal, issuedAt time.Time, expiresAt time.Time, key []byte) (string, error) {
	token := jwt.NewWithClaims(
		m.alg,
		TokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(issuedAt),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			UserID:  p.UserID,
			IsAdmin: p.IsAdmin,
		},
	)

	return token.SignedString(key)
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (models.Principal, error) {
	claims, err := m.parse(access, m.accessKey)
	if err != nil {
		return models.Principal{}, err
	}

	return models.Principal{UserID: claims.UserID, IsAdmin: claims.IsAdmin}, nil
}

// Parse and validate refresh token
// Registry membership is the caller's concern: a parsed token may be revoked already
func (m *TokenManager) ParseRefresh(refresh string) (models.Principal, time.Time, error) {
	claims, err := m.parse(refresh, m.refreshKey)
	if err != nil {
		return models.Principal{}, time.Time{}, err
	}

	return models.Principal{UserID: claims.UserID, IsAdmin: claims.IsAdmin}, claims.ExpiresAt.Time, nil
}

func (m *TokenManager) parse(tokenString string, key []byte) (*TokenClaims, error) {
	claims := &TokenClaims{}

	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w. Err: %v", apperrors.ErrTokenInvalid, err)
	}

	return claims, nil
}
