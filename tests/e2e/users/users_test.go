package users

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/dkosyrev/authgate/internal/models"
	"github.com/dkosyrev/authgate/internal/testutil"
	"github.com/dkosyrev/authgate/tests/e2e"
)

const (
	loginURL = "/api/v1/auth/login"
	usersURL = "/api/v1/users"
)

func do(t *testing.T, method string, url string, bearer string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	return resp, string(body)
}

func Test_Users(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeWithTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, s e2e.Services) {
		// Register user and log it in, optionally promoting to admin first
		login := func(t *testing.T, username string, admin bool) (models.User, string) {
			t.Helper()

			user, err := s.AuthService.Register(t.Context(), username, username+"@example.com", "StrongEnoughPassword")
			require.NoError(t, err)

			if admin {
				_, err = tx.Exec(t.Context(), "UPDATE users SET is_admin = true WHERE id = $1", user.ID)
				require.NoError(t, err)
			}

			resp, err := http.Post(srvURL+loginURL, "application/json",
				strings.NewReader(`{"username":"`+username+`","password":"StrongEnoughPassword"}`))
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			defer resp.Body.Close() // nolint:errcheck
			require.Equalf(t, http.StatusOK, resp.StatusCode, "login should succeed. Body: %s", string(body))

			var loginResp struct {
				AccessToken string `json:"accessToken"`
			}
			require.NoError(t, json.Unmarshal(body, &loginResp))

			return user, loginResp.AccessToken
		}

		t.Run("list users", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				_, token := login(t, "alice", false)
				_, err := s.AuthService.Register(t.Context(), "bob", "bob@example.com", "StrongEnoughPassword")
				require.NoError(t, err)

				resp, body := do(t, http.MethodGet, srvURL+usersURL, token)

				require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

				var views []struct {
					Username string `json:"username"`
				}
				require.NoError(t, json.Unmarshal([]byte(body), &views))
				require.Len(t, views, 2)
				require.NotContains(t, body, "password", "password hashes should never be serialized")
			})
		})

		t.Run("delete", func(t *testing.T) {
			t.Run("user may delete itself", func(t *testing.T) {
				testutil.WithTx(tx, t, func(_ pgx.Tx) {
					user, token := login(t, "alice", false)

					resp, body := do(t, http.MethodDelete, srvURL+usersURL+"/"+user.ID.String(), token)

					require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
					require.JSONEq(t, `{"message":"User deleted"}`, body)
				})
			})

			t.Run("user may not delete others", func(t *testing.T) {
				testutil.WithTx(tx, t, func(_ pgx.Tx) {
					_, token := login(t, "alice", false)
					other, err := s.AuthService.Register(t.Context(), "bob", "bob@example.com", "StrongEnoughPassword")
					require.NoError(t, err)

					resp, body := do(t, http.MethodDelete, srvURL+usersURL+"/"+other.ID.String(), token)

					require.Equalf(t, http.StatusForbidden, resp.StatusCode, "not expected code. Body: %s", body)
					require.JSONEq(t, `{"error":"service_error","message":"You're not allowed to act on other users"}`, body)

					_, err = s.UserService.GetUser(t.Context(), other.ID)
					require.NoError(t, err, "user should still exist")
				})
			})

			t.Run("admin may delete anyone", func(t *testing.T) {
				testutil.WithTx(tx, t, func(_ pgx.Tx) {
					_, token := login(t, "root", true)
					other, err := s.AuthService.Register(t.Context(), "bob", "bob@example.com", "StrongEnoughPassword")
					require.NoError(t, err)

					resp, body := do(t, http.MethodDelete, srvURL+usersURL+"/"+other.ID.String(), token)

					require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)
				})
			})

			t.Run("malformed id is bad request", func(t *testing.T) {
				testutil.WithTx(tx, t, func(_ pgx.Tx) {
					// Admin so the guard lets the request through to the handler
					_, token := login(t, "root", true)

					resp, body := do(t, http.MethodDelete, srvURL+usersURL+"/not-a-uuid", token)

					require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", body)
				})
			})

			t.Run("unknown id is not found", func(t *testing.T) {
				testutil.WithTx(tx, t, func(_ pgx.Tx) {
					_, token := login(t, "root", true)

					resp, body := do(t, http.MethodDelete, srvURL+usersURL+"/00000000-0000-0000-0000-000000000001", token)

					require.Equalf(t, http.StatusNotFound, resp.StatusCode, "not expected code. Body: %s", body)
				})
			})

			t.Run("without token is unauthenticated", func(t *testing.T) {
				resp, _ := do(t, http.MethodDelete, srvURL+usersURL+"/00000000-0000-0000-0000-000000000001", "")
				require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			})
		})
	})
}
