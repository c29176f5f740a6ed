package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/dkosyrev/authgate/internal/apperrors"
	"github.com/dkosyrev/authgate/internal/registry"
	"github.com/dkosyrev/authgate/internal/repository/postgres"
	"github.com/dkosyrev/authgate/internal/testutil"
)

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Begin new db transaction and create new AuthService with a fresh
	// in-memory registry. Rollback transaction when test stops
	withTx := func(dbpool *pgxpool.Pool, accessTTL time.Duration, refreshTTL time.Duration, t *testing.T, fn func(s *AuthService, reg *registry.MemoryRegistry)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			userRepo := &postgres.UserRepo{DB: tx}

			reg := registry.NewMemory()
			t.Cleanup(func() { _ = reg.Close() })

			tokenManager, err := NewTokenManager(TokenManagerConfig{
				AccessKey:  "test-access-key",
				RefreshKey: "test-refresh-key",
				AccessTTL:  accessTTL,
				RefreshTTL: refreshTTL,
			})
			require.NoError(t, err, "token manager should be created without errors")

			s, err := NewService(Config{}, tokenManager, reg, userRepo)
			require.NoError(t, err, "auth service could't be started", err)

			fn(s, reg)
		})
	}

	t.Run("new auth service defaults", func(t *testing.T) {
		withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
			require.Equal(t, defaultAccessHeaderName, s.accessHeaderName, "default access header name should be set")
			require.Equal(t, defaultAccessAuthScheme, s.accessAuthScheme, "default access auth scheme should be set")
			require.Equal(t, defaultRefreshCookieName, s.refreshCookieName, "default refresh cookie name should be set")
			require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be set to BcryptHasher")
		})
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new user ok", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, reg *registry.MemoryRegistry) {
				user, err := s.Register(t.Context(), "nkiryanov", "nk@example.com", "StrongEnoughPassword")

				require.NoError(t, err, "registering new user should be ok")
				require.Equal(t, "nkiryanov", user.Username)
				require.Equal(t, "nk@example.com", user.Email)
				require.False(t, user.IsAdmin, "fresh user should not be admin")
				require.NotEqual(t, "StrongEnoughPassword", user.HashedPassword, "password should be stored hashed")
				require.Equal(t, 0, reg.Len(), "registration should not issue tokens")
			})
		})

		t.Run("fail if user exists", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
				_, err := s.Register(t.Context(), "nkiryanov", "nk@example.com", "StrongEnoughPassword")
				require.NoError(t, err, "no error has should happen if user not exists")

				_, err = s.Register(t.Context(), "nkiryanov", "other@example.com", "other-pwd")

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing user ok", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, reg *registry.MemoryRegistry) {
				_, err := s.Register(t.Context(), "nkiryanov", "nk@example.com", "StrongEnoughPassword")
				require.NoError(t, err)

				user, pair, err := s.Login(t.Context(), "nkiryanov", "StrongEnoughPassword")

				require.NoError(t, err)
				require.Equal(t, "nkiryanov", user.Username)
				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")

				valid, err := reg.IsValid(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)
				require.True(t, valid, "refresh token should be registered on login")
			})
		})

		t.Run("issued access token verifies and expires on time", func(t *testing.T) {
			withTx(pg.Pool, 30*time.Second, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
				_, err := s.Register(t.Context(), "nkiryanov", "nk@example.com", "StrongEnoughPassword")
				require.NoError(t, err)

				_, pair, err := s.Login(t.Context(), "nkiryanov", "StrongEnoughPassword")
				require.NoError(t, err)

				principal, err := s.token.ParseAccess(pair.Access.Value)
				require.NoError(t, err, "issued access token should verify against the access key")
				require.False(t, principal.IsAdmin)
				require.WithinDuration(t, time.Now().Add(30*time.Second), pair.Access.ExpiresAt, 2*time.Second)
			})
		})

		tests := []struct {
			name        string
			login       string
			password    string
			expectedErr error
		}{
			{
				name:        "login fail if wrong password",
				login:       "nkiryanov",
				password:    "wrong",
				expectedErr: apperrors.ErrInvalidPassword,
			},
			{
				name:        "login fail if user not exists",
				login:       "not-existed-user",
				password:    "password",
				expectedErr: apperrors.ErrUserNotFound,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
					_, err := s.Register(t.Context(), "nkiryanov", "nk@example.com", "StrongEnoughPassword")
					require.NoError(t, err)

					_, _, err = s.Login(t.Context(), tt.login, tt.password)

					require.Error(t, err)
					require.ErrorIs(t, err, tt.expectedErr)
				})
			})
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		login := func(t *testing.T, s *AuthService) (refresh string) {
			_, err := s.Register(t.Context(), "nkiryanov", "nk@example.com", "StrongEnoughPassword")
			require.NoError(t, err)
			_, pair, err := s.Login(t.Context(), "nkiryanov", "StrongEnoughPassword")
			require.NoError(t, err)
			return pair.Refresh.Value
		}

		t.Run("refresh once ok", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, reg *registry.MemoryRegistry) {
				refresh := login(t, s)

				newPair, err := s.Refresh(t.Context(), refresh)

				require.NoError(t, err)
				require.NotEqual(t, refresh, newPair.Refresh.Value, "new refresh token should be different")

				valid, err := reg.IsValid(t.Context(), refresh)
				require.NoError(t, err)
				require.False(t, valid, "old refresh token should be rotated away")

				valid, err = reg.IsValid(t.Context(), newPair.Refresh.Value)
				require.NoError(t, err)
				require.True(t, valid, "new refresh token should be registered")
			})
		})

		t.Run("fail if used once", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
				refresh := login(t, s)

				_, err := s.Refresh(t.Context(), refresh)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), refresh)
				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "should return error if token already rotated")
			})
		})

		t.Run("fail if never registered", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
				_, err := s.Refresh(t.Context(), "never-registered-token")
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("fail if signature invalid even when registered", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, reg *registry.MemoryRegistry) {
				// A token that sneaked into the registry but was not
				// signed by us must not renew
				err := reg.Register(t.Context(), "forged-token", time.Now().Add(time.Hour))
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), "forged-token")
				require.ErrorIs(t, err, apperrors.ErrTokenInvalid)

				valid, err := reg.IsValid(t.Context(), "forged-token")
				require.NoError(t, err)
				require.True(t, valid, "failed renewal should not mutate the registry")
			})
		})

		t.Run("fail if token expired", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Second, t, func(s *AuthService, _ *registry.MemoryRegistry) {
				refresh := login(t, s)

				// Move time forward to make sure refresh token is expired
				time.Sleep(time.Second + 100*time.Millisecond)

				_, err := s.Refresh(t.Context(), refresh)
				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "registry should not honor expired token")
			})
		})

		t.Run("concurrent refreshes have one winner", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
				refresh := login(t, s)

				const goroutines = 8
				var wg sync.WaitGroup
				errs := make([]error, goroutines)

				for i := range goroutines {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, errs[i] = s.Refresh(t.Context(), refresh)
					}()
				}
				wg.Wait()

				winners := 0
				for _, err := range errs {
					if err == nil {
						winners++
					} else {
						require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
					}
				}
				require.Equal(t, 1, winners, "exactly one concurrent refresh should succeed")
			})
		})
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("revokes refresh token", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, reg *registry.MemoryRegistry) {
				_, err := s.Register(t.Context(), "nkiryanov", "nk@example.com", "StrongEnoughPassword")
				require.NoError(t, err)
				_, pair, err := s.Login(t.Context(), "nkiryanov", "StrongEnoughPassword")
				require.NoError(t, err)

				require.NoError(t, s.Logout(t.Context(), pair.Refresh.Value))

				valid, err := reg.IsValid(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)
				require.False(t, valid, "refresh token should be revoked on logout")

				_, err = s.Refresh(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "revoked token should not renew")
			})
		})

		t.Run("is idempotent", func(t *testing.T) {
			withTx(pg.Pool, time.Minute, time.Hour, t, func(s *AuthService, _ *registry.MemoryRegistry) {
				require.NoError(t, s.Logout(t.Context(), "never-registered-token"))
				require.NoError(t, s.Logout(t.Context(), "never-registered-token"))
				require.NoError(t, s.Logout(t.Context(), ""), "missing token should be fine too")
			})
		})
	})
}
