package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/aggregator-router/internal/adapters/sandbox"
	"github.com/stanstork/aggregator-router/internal/aggregator"
	"github.com/stanstork/aggregator-router/internal/authz"
	"github.com/stanstork/aggregator-router/internal/cache"
	"github.com/stanstork/aggregator-router/internal/cleanup"
	"github.com/stanstork/aggregator-router/internal/config"
	"github.com/stanstork/aggregator-router/internal/connect"
	"github.com/stanstork/aggregator-router/internal/handlers"
	"github.com/stanstork/aggregator-router/internal/middleware"
	"github.com/stanstork/aggregator-router/internal/migration"
	"github.com/stanstork/aggregator-router/internal/performance"
	"github.com/stanstork/aggregator-router/internal/preferences"
	"github.com/stanstork/aggregator-router/internal/repository"
	"github.com/stanstork/aggregator-router/internal/resilience"
	"github.com/stanstork/aggregator-router/internal/resolver"
	"github.com/stanstork/aggregator-router/internal/routes"
)

type application struct {
	config     *config.Config
	db         *sql.DB
	store      *cache.BadgerStore
	registry   *aggregator.Registry
	resilience *resilience.Service
	cleanup    *cleanup.Scheduler
	connect    *connect.Service
	logger     zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	app := &application{config: cfg, logger: logger}
	if err := app.run(); err != nil {
		logger.Fatal().Err(err).Msg("Application failed")
	}

	logger.Info().Msg("Application terminated.")
}

// run wires the components and serves until a signal arrives. Everything it
// opens is closed on return, including after a failed startup step.
func (app *application) run() error {
	cfg := app.config
	logger := app.logger

	store, err := cache.Open(cache.Config{Path: cfg.Cache.Path, GCInterval: cfg.Cache.GCInterval}, logger)
	if err != nil {
		return errors.Wrap(err, "failed to open cache store")
	}
	app.store = store
	defer store.Close()

	institutions, err := app.initInstitutions()
	if err != nil {
		return err
	}
	if app.db != nil {
		defer app.db.Close()
	}

	prefs, err := preferences.NewFileSource(cfg.Preferences.Path, logger)
	if err != nil {
		return errors.Wrap(err, "failed to load preferences")
	}

	app.registry = aggregator.NewRegistry()
	app.registry.Register(sandbox.Name, sandbox.New(logger))
	for name, testAdapter := range cfg.TestAdapters() {
		app.registry.SetTestAdapter(name, testAdapter)
	}

	events := app.initPerformance()
	app.resilience = resilience.NewService(store, app.registry, events, resilience.Config{
		PollInterval:      cfg.Resilience.PollInterval(),
		UIUpdateThreshold: cfg.Resilience.UIUpdateThreshold(),
		SessionTTL:        cfg.Resilience.SessionTTL(),
		MaxConcurrency:    cfg.Resilience.MaxConcurrency,
	}, logger)
	if err := app.resilience.Init(context.Background()); err != nil {
		return errors.Wrap(err, "failed to initialize resilience manager")
	}
	defer app.resilience.Shutdown()

	app.cleanup = cleanup.NewScheduler(store, app.registry, cleanup.Config{
		PollInterval:   cfg.Cleanup.PollInterval(),
		MaxAge:         cfg.Cleanup.MaxAge(),
		MaxRetries:     cfg.Cleanup.MaxRetries,
		MaxConcurrency: cfg.Cleanup.MaxConcurrency,
	}, logger)
	if err := app.cleanup.InitCleanUpConnections(context.Background()); err != nil {
		if !errors.Is(err, cleanup.ErrCleanupDisabled) {
			return errors.Wrap(err, "failed to start connection cleanup")
		}
		logger.Warn().Msg("Connection cleanup disabled, set cleanup.connection_max_age_minutes to enable it")
	}
	defer app.cleanup.Stop()

	res := resolver.New(institutions, prefs, app.registry, logger)
	app.connect = connect.NewService(res, app.registry, app.cleanup, app.resilience, logger)

	router := app.initRouter()
	loggedRouter := middleware.Logging(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization", authz.UserHeader}),
		h.AllowCredentials(),
	)(loggedRouter)

	app.startServer(corsHandler)
	return nil
}

// initInstitutions returns the institution source: Postgres behind the cache
// when a database is configured, otherwise the sandbox institutions in memory.
func (app *application) initInstitutions() (repository.InstitutionRepository, error) {
	if app.config.DatabaseURL == "" {
		app.logger.Warn().Msg("No database_url configured, serving sandbox institutions only")
		return repository.NewMemoryInstitutionRepository(sandbox.Institutions()...), nil
	}

	db, err := sql.Open("postgres", app.config.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to the database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := migration.Run(context.Background(), db, app.logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	app.db = db

	return repository.NewCachedInstitutionRepository(
		repository.NewInstitutionRepository(db), app.store, app.config.Cache.InstitutionTTL, app.logger), nil
}

func (app *application) initPerformance() performance.Service {
	notifiers := []performance.Notifier{performance.NewLogNotifier(app.logger)}
	if app.config.Performance.Endpoint != "" {
		notifiers = append(notifiers, performance.NewHTTPNotifier(app.config.Performance.Endpoint, app.config.Performance.Timeout))
	}
	return performance.NewService(app.logger, notifiers...)
}

func (app *application) initRouter() http.Handler {
	var auth mux.MiddlewareFunc = authz.HeaderMiddleware
	if app.config.Auth.Enabled {
		auth = authz.JWTMiddleware(app.config.JWTSecret)
	}
	return routes.NewRouter(
		handlers.NewConnectionHandler(app.connect, app.logger),
		handlers.NewSessionHandler(app.resilience, app.logger),
		auth,
	)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler) {
	logger := app.logger
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
