package admin

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/logging"
	"github.com/dmitrijs2005/grantstore/internal/server/cleanup"
	"github.com/dmitrijs2005/grantstore/internal/server/config"
	"github.com/dmitrijs2005/grantstore/internal/server/locks"
	"github.com/dmitrijs2005/grantstore/internal/server/notifications"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/grantstore/internal/server/serialization"
	"github.com/dmitrijs2005/grantstore/internal/server/services"
)

const dbWaitTimeout = 10 * time.Second

// PostgresOpener returns an Opener backed by the PostgreSQL stores. Removal
// sinks and the cleanup lock are taken from the daemon config, so a manual
// sweep reports to the same observers as the daemon. Logs go to w.
func PostgresOpener(w io.Writer) Opener {
	return func(ctx context.Context, opts OpenOptions) (*Backend, error) {
		cfg, err := config.LoadFile(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		if opts.DSN != "" {
			cfg.DatabaseDSN = opts.DSN
		}
		logger := logging.NewJSONLogger(w, opts.LogLevel)

		db, err := repomanager.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := dbx.WaitForDB(ctx, db, dbWaitTimeout, nil); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db init error: %w", err)
		}

		notifier, closeNotifier, err := notifications.Build(ctx, notifications.SettingsFromConfig(cfg))
		if err != nil {
			closeNotifier()
			_ = db.Close()
			return nil, err
		}

		sweep := sweepOptions(cfg, notifier)
		closers := []func(){closeNotifier}
		if cfg.RedisAddr != "" {
			rc := locks.NewRedisClient(cfg.RedisAddr)
			closers = append(closers, func() { _ = rc.Close() })
			sweep.Locker = locks.NewRedisLocker(rc, locks.DefaultKey)
		}

		b := newBackend(db, repomanager.NewPostgresRepositoryManager(), logger, sweep)
		closeDB := b.Close
		b.Close = func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			closeDB()
		}
		return b, nil
	}
}

// sweepOptions mirrors the daemon's reaper settings.
func sweepOptions(cfg *config.Config, notifier cleanup.Notifier) cleanup.Options {
	return cleanup.Options{
		Interval:            cfg.CleanupInterval,
		BatchSize:           cfg.CleanupBatchSize,
		NotificationTimeout: cfg.NotificationTimeout,
		Notifier:            notifier,
	}
}

func newBackend(db *sql.DB, rm *repomanager.PostgresRepositoryManager, logger logging.Logger, sweep cleanup.Options) *Backend {
	return &Backend{
		Grants:     services.NewPersistedGrantStore(db, rm, logger),
		DeviceFlow: services.NewDeviceFlowStore(db, rm, serialization.NewJSONSerializer(), logger),
		Migrate: func(ctx context.Context) (int64, error) {
			if err := rm.RunMigrations(ctx, db); err != nil {
				return 0, err
			}
			return rm.SchemaVersion(ctx, db)
		},
		Sweep: func(ctx context.Context, batchSize int) cleanup.Result {
			opts := sweep
			if batchSize > 0 {
				opts.BatchSize = batchSize
			}

			svc, err := cleanup.NewService(db, rm, opts, logger)
			if err != nil {
				return cleanup.Result{Err: err}
			}
			return svc.RemoveExpired(ctx)
		},
		Close: func() { _ = db.Close() },
	}
}
