package dbx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WaitForDB pings db with exponential backoff until it answers, maxElapsed
// passes or ctx is done. onRetry, when set, is called after every failed ping.
func WaitForDB(ctx context.Context, db Pinger, maxElapsed time.Duration, onRetry func(err error, next time.Duration)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed

	op := func() error {
		return db.PingContext(ctx)
	}

	notify := func(err error, next time.Duration) {
		if onRetry != nil {
			onRetry(err, next)
		}
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}
