package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkosyrev/authgate/internal/db"
	"github.com/dkosyrev/authgate/internal/handlers"
	"github.com/dkosyrev/authgate/internal/handlers/middleware"
	"github.com/dkosyrev/authgate/internal/logger"
	"github.com/dkosyrev/authgate/internal/registry"
	"github.com/dkosyrev/authgate/internal/repository/postgres"
	"github.com/dkosyrev/authgate/internal/service/auth"
	"github.com/dkosyrev/authgate/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger   logger.Logger
	registry registry.Registry
	closers  []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize the refresh token registry: redis when configured,
	// otherwise in-process memory
	var reg registry.Registry
	switch c.RedisAddr {
	case "":
		reg = registry.NewMemory()
		log.Info("refresh registry initialized", "backend", "memory")
	default:
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			pool.Close()
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		reg = registry.NewRedis(client)
		log.Info("refresh registry initialized", "backend", "redis", "addr", c.RedisAddr)
	}

	// Initialize repositories
	userRepo := &postgres.UserRepo{DB: pool}

	// Initialize services
	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		AccessKey:  c.AccessKey,
		RefreshKey: c.RefreshKey,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	authService, err := auth.NewService(auth.Config{}, tokenManager, reg, userRepo)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	userService := user.NewService(userRepo)

	// Initialize handlers
	authHandler := handlers.NewAuth(authService)
	userHandler := handlers.NewUser(userService)

	mux := handlers.NewRouter(
		authHandler,
		userHandler,
		middleware.Authenticate(authService),
		middleware.LoggerMiddleware(log),
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     log,
		registry:   reg,
		closers:    []func(){pool.Close},
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	// Registry first: it may hold a sweeper goroutine or a redis client
	if cerr := s.registry.Close(); cerr != nil {
		s.logger.Error("error while closing refresh registry", "error", cerr.Error())
	}
	for _, closeFn := range s.closers {
		closeFn()
	}

	return err
}
