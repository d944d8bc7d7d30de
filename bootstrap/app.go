package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xmigrate/api"
	"xmigrate/catalog"
	"xmigrate/config"
	"xmigrate/convert"
	"xmigrate/coverage"
	"xmigrate/service"
	"xmigrate/storage"
	"xmigrate/xsiam"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// App represents the migration assistant with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite      *storage.SQLite
	Store       *storage.MigrationStorage
	Service     *service.MigrationService
	XSIAMClient *xsiam.Client
	APIServer   *api.API

	serverErrCh chan error
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		serverErrCh: make(chan error, 1),
	}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("XSIAM migration assistant starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := EnsureDataDir(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}
	if err := SeedCatalog(cfg.DataPaths.CatalogPath, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	sqlite, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	app.SQLite = sqlite
	app.Store = storage.NewMigrationStorage(sqlite)

	matcher, err := coverage.NewMatcher(cfg.Coverage, sugar)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to build coverage matcher: %w", err)
	}

	cache, err := coverage.NewResultCache(cfg.CoverageCacheSize)
	if err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to build coverage cache: %w", err)
	}

	aql := convert.NewAQLConverter()
	if cfg.DataPaths.FieldMappingsPath != "" {
		fields, err := convert.LoadFieldMappings(cfg.DataPaths.FieldMappingsPath)
		if err != nil {
			sqlite.Close()
			return nil, fmt.Errorf("failed to load field mappings: %w", err)
		}
		aql = convert.NewAQLConverterWithFields(fields)
		sugar.Infof("Loaded %d AQL field mappings from %s", len(fields), cfg.DataPaths.FieldMappingsPath)
	}

	catalogPath := cfg.DataPaths.CatalogPath
	svc, err := service.NewMigrationService(matcher, cache, app.Store, aql,
		func() (*catalog.Index, error) {
			return catalog.Load(catalogPath, sugar)
		}, sugar)
	if err != nil {
		sqlite.Close()
		return nil, err
	}
	app.Service = svc

	// The push endpoints stay disabled without tenant credentials.
	var pusher api.RulePusher
	if cfg.XSIAMConfigured() {
		client, err := xsiam.NewClient(cfg.XSIAM, sugar)
		if err != nil {
			sqlite.Close()
			return nil, fmt.Errorf("failed to build XSIAM client: %w", err)
		}
		app.XSIAMClient = client
		pusher = client
		sugar.Infof("XSIAM tenant configured: %s", cfg.XSIAM.FQDN)
	} else {
		sugar.Info("No XSIAM tenant configured, push endpoints disabled")
	}

	newPusher := func(clientCfg xsiam.Config) (api.RulePusher, error) {
		return xsiam.NewClient(clientCfg, sugar)
	}
	app.APIServer = api.NewAPI(svc, pusher, newPusher, cfg, sugar)

	return app, nil
}

// Start starts the API server in the background. Server failures surface
// through the channel WaitForShutdown selects on.
func (a *App) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.Config.API.Port)

	go func() {
		var err error
		if a.Config.API.TLS {
			a.Sugar.Infof("Starting HTTPS server on %s", addr)
			err = a.APIServer.StartTLS(addr, a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			a.Sugar.Infof("Starting HTTP server on %s", addr)
			err = a.APIServer.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErrCh <- err
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received or the server
// fails.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		a.Sugar.Infof("Received signal: %v", sig)
	case err := <-a.serverErrCh:
		a.Sugar.Errorf("API server failed: %v", err)
	}
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.APIServer != nil {
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorf("Failed to stop API server: %v", err)
		}
	}

	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Warnf("Failed to close SQLite connection: %v", err)
		}
	}

	if err := a.Logger.Sync(); err != nil {
		// Sync errors on stderr are common and can be ignored in most cases.
		a.Sugar.Debugf("Failed to sync logger: %v", err)
	}

	a.Sugar.Info("Shutdown complete")
}
