// Package server wires the operational store together: it opens and migrates
// the database, builds the grant and device flow stores, and runs the health
// endpoint, the metrics endpoint and the cleanup reaper until shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/logging"
	"github.com/dmitrijs2005/grantstore/internal/server/cleanup"
	"github.com/dmitrijs2005/grantstore/internal/server/config"
	"github.com/dmitrijs2005/grantstore/internal/server/locks"
	"github.com/dmitrijs2005/grantstore/internal/server/notifications"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/grantstore/internal/server/serialization"
	"github.com/dmitrijs2005/grantstore/internal/server/services"

	gs "github.com/dmitrijs2005/grantstore/internal/server/grpc"
)

const (
	dbWaitTimeout    = 30 * time.Second
	healthProbeEvery = 10 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// test seams
var (
	openDB               = repomanager.Open
	newRepositoryManager = func() repomanager.RepositoryManager { return repomanager.NewPostgresRepositoryManager() }
	// nil dials with notifications.Connect
	connectNATS func(url string) (notifications.Conn, func(), error)
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *prometheus.Registry

	Grants     *services.PersistedGrantStore
	DeviceFlow *services.DeviceFlowStore
	cleanup    *cleanup.Service

	closers []func()
}

// NewApp connects to the database, applies pending migrations and builds
// the stores. The reaper and its integrations are built only when enabled.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	return newApp(ctx, c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	app := &App{config: c, logger: logger, db: db, registry: prometheus.NewRegistry()}
	app.closers = append(app.closers, func() { _ = db.Close() })

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	err := dbx.WaitForDB(ctx, app.db, dbWaitTimeout, func(err error, next time.Duration) {
		app.logger.Warn(ctx, "database not ready", "error", err, "retry_in", next.String())
	})
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}

	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}

	app.Grants = services.NewPersistedGrantStore(app.db, rm, app.logger)
	app.DeviceFlow = services.NewDeviceFlowStore(app.db, rm, serialization.NewJSONSerializer(), app.logger)

	if !app.config.CleanupEnabled {
		return nil
	}

	opts := cleanup.Options{
		Interval:            app.config.CleanupInterval,
		BatchSize:           app.config.CleanupBatchSize,
		NotificationTimeout: app.config.NotificationTimeout,
		Registerer:          app.registry,
	}

	notifier, err := app.buildNotifier(ctx)
	if err != nil {
		return err
	}
	if notifier != nil {
		opts.Notifier = notifier
	}

	if app.config.RedisAddr != "" {
		rc := locks.NewRedisClient(app.config.RedisAddr)
		app.closers = append(app.closers, func() { _ = rc.Close() })
		opts.Locker = locks.NewRedisLocker(rc, locks.DefaultKey)
	}

	app.cleanup, err = cleanup.NewService(app.db, rm, opts, app.logger)
	if err != nil {
		return fmt.Errorf("cleanup init error: %w", err)
	}
	return nil
}

// buildNotifier returns nil when no removal sink is configured.
func (app *App) buildNotifier(ctx context.Context) (cleanup.Notifier, error) {
	settings := notifications.SettingsFromConfig(app.config)
	settings.DialNATS = connectNATS

	n, closeAll, err := notifications.Build(ctx, settings)
	app.closers = append(app.closers, closeAll)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (app *App) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

func (app *App) initSignalHandler(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

func (app *App) startMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              app.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run blocks until ctx is cancelled, a termination signal arrives or one of
// the components fails. Resources are released before it returns.
func (app *App) Run(ctx context.Context) error {
	defer app.close()

	ctx, stop := app.initSignalHandler(ctx)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.db, healthProbeEvery).Run(ctx)
	})

	if app.config.MetricsAddr != "" {
		g.Go(func() error {
			return app.startMetricsServer(ctx)
		})
	}

	if app.cleanup != nil {
		g.Go(func() error {
			return app.cleanup.Run(ctx)
		})
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app terminated", "error", err)
	} else {
		app.logger.Info(ctx, "App stopped")
	}
	return err
}
