package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/stsession/internal/authority/http"
	"github.com/aussiebroadwan/stsession/internal/authority/service"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
	"github.com/aussiebroadwan/stsession/internal/authority/store/drivers/redis"
	"github.com/aussiebroadwan/stsession/internal/authority/store/drivers/sqlite"
	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// BuildVersion is overridden at build time with -ldflags "-X".
var BuildVersion = "v0.1.0"

// Application is the session authority with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         store.Store
	keyManager *jwtx.KeyManager

	sessionService      *service.SessionService
	keyRotationService  *service.KeyRotationService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with every dependency initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "session-authority",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	keyManager, err := InitAuthKeys(context.Background(), app.cfg, app.db, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = keyManager

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler exposes the router, for running the authority in-process.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("session authority starting", "port", app.cfg.Port, "version", BuildVersion, "store", app.cfg.StoreDriver)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests, stops housekeeping and closes the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down session authority...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("session authority stopped")
	return nil
}

func (app *Application) initStore() error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.StoreDriver {
	case DriverRedis:
		db, err = redis.NewStore(app.cfg.RedisURL)
	default:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err = sqlite.NewStore(dsn)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", app.cfg.StoreDriver, err)
	}
	app.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("store unreachable: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	app.logger.Info("store ready", "driver", app.cfg.StoreDriver)
	return nil
}

func (app *Application) initServices() {
	app.sessionService = &service.SessionService{
		Store:      app.db,
		Keys:       app.keyManager,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
	}
	app.keyRotationService = &service.KeyRotationService{Keys: app.keyManager}
	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.keyManager,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.keyManager, BuildVersion, app.db, app.logger)
	router.SessionService = app.sessionService
	router.KeyRotationService = app.keyRotationService
	router.APIKey = app.apiKeyCheck()
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// apiKeyCheck returns nil, leaving the recipe endpoints open, when no key is
// configured.
func (app *Application) apiKeyCheck() func(string) bool {
	switch {
	case app.cfg.APIKeyHash != "":
		hash := app.cfg.APIKeyHash
		return func(key string) bool {
			ok, err := cryptox.VerifySecret(key, hash)
			return err == nil && ok
		}
	case app.cfg.APIKey != "":
		want := []byte(app.cfg.APIKey)
		return func(key string) bool {
			return subtle.ConstantTimeCompare([]byte(key), want) == 1
		}
	default:
		app.logger.Warn("no API_KEY configured: session endpoints are unauthenticated")
		return nil
	}
}
