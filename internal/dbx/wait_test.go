package dbx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) PingContext(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForDB_RetriesUntilReachable(t *testing.T) {
	p := &flakyPinger{failures: 2}
	retries := 0

	err := WaitForDB(context.Background(), p, 10*time.Second, func(error, time.Duration) { retries++ })
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 2, retries)
}

func TestWaitForDB_GivesUpWhenContextDone(t *testing.T) {
	p := &flakyPinger{failures: 1 << 30}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := WaitForDB(ctx, p, time.Minute, nil)
	require.Error(t, err)
}
