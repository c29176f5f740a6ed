package e2e

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stretchr/testify/require"

	"github.com/dkosyrev/authgate/internal/handlers"
	"github.com/dkosyrev/authgate/internal/handlers/middleware"
	"github.com/dkosyrev/authgate/internal/registry"
	"github.com/dkosyrev/authgate/internal/repository/postgres"
	"github.com/dkosyrev/authgate/internal/service/auth"
	"github.com/dkosyrev/authgate/internal/service/user"
	"github.com/dkosyrev/authgate/internal/testutil"
)

type Services struct {
	AuthService *auth.AuthService
	UserService *user.UserService
	Registry    *registry.MemoryRegistry
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		// Initialize repositories
		userRepo := &postgres.UserRepo{DB: tx}

		// Refresh token registry lives in process memory for tests
		reg := registry.NewMemory()
		t.Cleanup(func() { _ = reg.Close() })

		// Initialize services
		tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
			AccessKey:  "test-access-key",
			RefreshKey: "test-refresh-key",
		})
		require.NoError(t, err, "token manager should be created without errors")

		as, err := auth.NewService(auth.Config{}, tokenManager, reg, userRepo)
		require.NoError(t, err, "auth service starting error", err)

		us := user.NewService(userRepo)

		// Initialize handlers
		authHandler := handlers.NewAuth(as)
		userHandler := handlers.NewUser(us)
		authenticate := middleware.Authenticate(as)

		// Complete all together as router
		router := handlers.NewRouter(
			authHandler,
			userHandler,
			authenticate,
		)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			AuthService: as,
			UserService: us,
			Registry:    reg,
		})
	})
}
