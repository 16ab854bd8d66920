// Package cleanup implements the reaper that periodically deletes expired
// persisted grants and device codes in bounded batches.
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/logging"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/repomanager"
)

// Locker elects a single sweeper among replicas. TryLock returns ok=false
// when another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// Options configure the reaper. Metrics go to Registerer; when it is nil
// they are kept in a private registry and not exported.
type Options struct {
	Interval            time.Duration
	BatchSize           int
	NotificationTimeout time.Duration
	Notifier            Notifier
	Locker              Locker
	Registerer          prometheus.Registerer
	Now                 func() time.Time
}

// DefaultOptions returns an hourly sweep in batches of 100.
func DefaultOptions() Options {
	return Options{
		Interval:            time.Hour,
		BatchSize:           100,
		NotificationTimeout: 30 * time.Second,
	}
}

// Validate checks the numeric settings.
func (o Options) Validate() error {
	if o.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be at least 1, got %d", common.ErrValidation, o.BatchSize)
	}
	if o.Interval <= 0 {
		return fmt.Errorf("%w: cleanup interval must be positive, got %s", common.ErrValidation, o.Interval)
	}
	if o.NotificationTimeout <= 0 {
		return fmt.Errorf("%w: notification timeout must be positive, got %s", common.ErrValidation, o.NotificationTimeout)
	}
	return nil
}

// Service runs cleanup sweeps.
type Service struct {
	db          dbx.TxBeginner
	repomanager repomanager.RepositoryManager
	opts        Options
	logger      logging.Logger
	metrics     *metrics
}

// NewService validates opts and fills in the optional collaborators.
func NewService(db *sql.DB, m repomanager.RepositoryManager, opts Options, l logging.Logger) (*Service, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	return &Service{
		db:          db,
		repomanager: m,
		opts:        opts,
		logger:      l.With("module", "cleanup"),
		metrics:     newMetrics(opts.Registerer),
	}, nil
}

// Run sweeps once per Interval until ctx is done. A sweep that has started
// is finished even if ctx is cancelled meanwhile.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Starting token cleanup", "interval", s.opts.Interval.String(), "batch_size", s.opts.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping token cleanup...")
			return nil
		case <-ticker.C:
			s.RemoveExpired(context.WithoutCancel(ctx))
		}
	}
}

// Result summarizes one sweep. Counts include only committed batches.
type Result struct {
	PersistedGrants int   `json:"persisted_grants"`
	DeviceCodes     int   `json:"device_codes"`
	Skipped         bool  `json:"skipped,omitempty"`
	Err             error `json:"-"`
}

// RemoveExpired runs one sweep: expired grants first, then expired device
// codes. A failing phase is logged and does not prevent the other one.
func (s *Service) RemoveExpired(ctx context.Context) Result {
	if s.opts.Locker != nil {
		unlock, ok, err := s.opts.Locker.TryLock(ctx, s.opts.Interval)
		if err != nil {
			s.logger.Error(ctx, "could not acquire cleanup lock", "error", err)
			return Result{Skipped: true, Err: err}
		}
		if !ok {
			s.logger.Debug(ctx, "cleanup lock held elsewhere, skipping sweep")
			return Result{Skipped: true}
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				s.logger.Warn(ctx, "could not release cleanup lock", "error", err)
			}
		}()
	}

	var (
		res        Result
		gErr, dErr error
	)
	now := s.opts.Now()
	res.PersistedGrants, gErr = s.removeExpiredGrants(ctx, now)
	res.DeviceCodes, dErr = s.removeExpiredDeviceCodes(ctx, now)
	res.Err = errors.Join(gErr, dErr)
	return res
}

func (s *Service) removeExpiredGrants(ctx context.Context, now time.Time) (int, error) {
	return s.observe(ctx, common.KindPersistedGrants, func() (int, error) {
		return sweep(ctx, s, now,
			func(ctx context.Context, tx dbx.DBTX, limit int) (int, func(context.Context) error, error) {
				rows, err := s.repomanager.Grants(tx).RemoveExpired(ctx, now, limit)
				if err != nil {
					return 0, nil, err
				}
				return len(rows), func(ctx context.Context) error {
					return s.opts.Notifier.PersistedGrantsRemoved(ctx, rows)
				}, nil
			})
	})
}

func (s *Service) removeExpiredDeviceCodes(ctx context.Context, now time.Time) (int, error) {
	return s.observe(ctx, common.KindDeviceCodes, func() (int, error) {
		return sweep(ctx, s, now,
			func(ctx context.Context, tx dbx.DBTX, limit int) (int, func(context.Context) error, error) {
				rows, err := s.repomanager.DeviceCodes(tx).RemoveExpired(ctx, now, limit)
				if err != nil {
					return 0, nil, err
				}
				return len(rows), func(ctx context.Context) error {
					return s.opts.Notifier.DeviceCodesRemoved(ctx, rows)
				}, nil
			})
	})
}

func (s *Service) observe(ctx context.Context, kind string, phase func() (int, error)) (int, error) {
	start := time.Now()
	removed, err := phase()
	s.metrics.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	s.metrics.removed.WithLabelValues(kind).Add(float64(removed))

	if err != nil {
		s.metrics.sweeps.WithLabelValues(kind, "error").Inc()
		s.logger.Error(ctx, "Exception removing expired records", "kind", kind, "removed", removed, "error", err)
		return removed, fmt.Errorf("%s: %w", kind, err)
	}
	s.metrics.sweeps.WithLabelValues(kind, "ok").Inc()
	if removed > 0 {
		s.logger.Info(ctx, "Removed expired records", "kind", kind, "count", removed)
	}
	return removed, nil
}

// batchFunc deletes one batch inside tx and returns its size together with
// the notification for exactly the deleted rows.
type batchFunc func(ctx context.Context, tx dbx.DBTX, limit int) (int, func(context.Context) error, error)

var errNotifier = errors.New("notifier error")

// sweep deletes batches until one comes back short. Each batch commits only
// after its notification succeeded. It returns the number of committed rows.
func sweep(ctx context.Context, s *Service, now time.Time, batch batchFunc) (int, error) {
	total := 0
	for {
		n := 0
		err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var (
				notify func(context.Context) error
				err    error
			)
			n, notify, err = batch(ctx, tx, s.opts.BatchSize)
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			s.logger.Debug(ctx, "Removing expired records", "count", n, "before", now)

			nctx, cancel := context.WithTimeout(ctx, s.opts.NotificationTimeout)
			defer cancel()
			if err := notify(nctx); err != nil {
				return fmt.Errorf("%w: %w", errNotifier, err)
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < s.opts.BatchSize {
			return total, nil
		}
	}
}
