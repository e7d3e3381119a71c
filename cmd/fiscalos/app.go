package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/fiscalos/internal/db"
	"github.com/nkiryanov/fiscalos/internal/handlers"
	"github.com/nkiryanov/fiscalos/internal/logger"
	"github.com/nkiryanov/fiscalos/internal/repository/postgres"
	"github.com/nkiryanov/fiscalos/internal/security/envelope"
	"github.com/nkiryanov/fiscalos/internal/security/keyring"
	"github.com/nkiryanov/fiscalos/internal/service/auth"
	"github.com/nkiryanov/fiscalos/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/fiscalos/internal/service/institution"
	"github.com/nkiryanov/fiscalos/internal/service/user"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	pool    *pgxpool.Pool
	watcher *keyring.Watcher
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Key ring has to have primary key before serving anything
	keyringOpts, err := keyring.LoadOptions(c.KeyRingConfig)
	if err != nil {
		return nil, err
	}
	ring, err := keyring.New(ctx, keyringOpts, logger.WithGroup("keyring"))
	if err != nil {
		return nil, fmt.Errorf("error while loading key ring. Err: %w", err)
	}
	if _, err := ring.GetPrimaryKey(); err != nil {
		return nil, fmt.Errorf("key ring is not usable. Err: %w", err)
	}
	watcher, err := keyring.NewWatcher(ring, c.KeyRingConfig, logger.WithGroup("keyring"))
	if err != nil {
		return nil, err
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey: c.JWTSecret,
		Issuer:    c.JWTIssuer,
		Audience:  c.JWTAudience,
		AccessTTL: time.Duration(c.JWTExpiryMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize services
	storage := postgres.NewStorage(pool)
	encryptor := envelope.New(ring)
	hasher := auth.BcryptHasher{}

	userService, err := user.NewService(hasher, encryptor, storage, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	authService, err := auth.NewService(
		auth.Config{Hasher: hasher, InsecureCookie: c.InsecureCookie},
		tokenManager,
		userService,
		storage,
		logger.WithGroup("auth"),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	institutionService, err := institution.NewService(encryptor, storage)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    handlers.NewRouter(authService, institutionService, logger),
		logger:     logger,
		pool:       pool,
		watcher:    watcher,
	}, nil
}

// Run starts http server and key ring watcher; closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.pool.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.watcher.Run(srvCtx); err != nil {
			s.logger.Error("key ring watcher stopped, reload with SIGHUP only", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.reloadOnHangup(srvCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *ServerApp) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			s.logger.Info("SIGHUP received, reloading key ring")
			if err := s.watcher.Reload(ctx); err != nil {
				s.logger.Error("key ring reload failed, previous keys stay in use", "error", err)
			}
		}
	}
}
