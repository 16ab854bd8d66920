package server

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/logging"
	"github.com/dmitrijs2005/grantstore/internal/server/config"
	"github.com/dmitrijs2005/grantstore/internal/server/notifications"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/devicecodes"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/grants"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/repomanager"
)

type fakeRepoManager struct {
	migrateErr error
	migrated   int
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error {
	f.migrated++
	return f.migrateErr
}

func (f *fakeRepoManager) Grants(dbx.DBTX) grants.Repository { return nil }

func (f *fakeRepoManager) DeviceCodes(dbx.DBTX) devicecodes.Repository { return nil }

type fakeConn struct{ closed bool }

func (c *fakeConn) Publish(string, []byte) error           { return nil }
func (c *fakeConn) FlushWithContext(context.Context) error { return nil }

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.MetricsAddr = "127.0.0.1:0"
	return c
}

// stubSeams replaces the database and repository manager factories for the
// duration of the test.
func stubSeams(t *testing.T, rm *fakeRepoManager) sqlmock.Sqlmock {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	origOpen, origRM, origNATS := openDB, newRepositoryManager, connectNATS
	t.Cleanup(func() {
		openDB, newRepositoryManager, connectNATS = origOpen, origRM, origNATS
	})

	openDB = func(string) (*sql.DB, error) { return db, nil }
	newRepositoryManager = func() repomanager.RepositoryManager { return rm }
	return mock
}

func TestNewApp_CleanupDisabled(t *testing.T) {
	rm := &fakeRepoManager{}
	stubSeams(t, rm)

	app, err := newApp(context.Background(), testConfig(), logging.Nop{})
	require.NoError(t, err)
	t.Cleanup(app.close)

	assert.Equal(t, 1, rm.migrated)
	assert.NotNil(t, app.Grants)
	assert.NotNil(t, app.DeviceFlow)
	assert.Nil(t, app.cleanup)

	n, err := testutil.GatherAndCount(app.registry, "go_goroutines")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewApp_OpenError(t *testing.T) {
	origOpen := openDB
	t.Cleanup(func() { openDB = origOpen })
	openDB = func(string) (*sql.DB, error) { return nil, errors.New("bad dsn") }

	app, err := newApp(context.Background(), testConfig(), logging.Nop{})
	require.Error(t, err)
	assert.Nil(t, app)
}

func TestNewApp_MigrationsError(t *testing.T) {
	rm := &fakeRepoManager{migrateErr: errors.New("dirty")}
	mock := stubSeams(t, rm)
	mock.ExpectClose()

	app, err := newApp(context.Background(), testConfig(), logging.Nop{})
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "migrations error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewApp_InvalidCleanupOptions(t *testing.T) {
	stubSeams(t, &fakeRepoManager{})

	c := testConfig()
	c.CleanupEnabled = true
	c.CleanupBatchSize = 0

	_, err := newApp(context.Background(), c, logging.Nop{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup init error")
}

func TestNewApp_CleanupWithIntegrations(t *testing.T) {
	stubSeams(t, &fakeRepoManager{})

	mr := miniredis.RunT(t)
	conn := &fakeConn{}
	connectNATS = func(url string) (notifications.Conn, func(), error) {
		assert.Equal(t, "nats://nats:4222", url)
		return conn, func() { conn.closed = true }, nil
	}

	c := testConfig()
	c.CleanupEnabled = true
	c.RedisAddr = mr.Addr()
	c.NATSURL = "nats://nats:4222"
	c.S3Bucket = "grants-archive"
	c.S3BaseEndpoint = "http://127.0.0.1:9000"
	c.S3RootUser = "minio"
	c.S3RootPassword = "minio123"

	app, err := newApp(context.Background(), c, logging.Nop{})
	require.NoError(t, err)
	require.NotNil(t, app.cleanup)

	notifier, err := app.buildNotifier(context.Background())
	require.NoError(t, err)
	fanout, ok := notifier.(notifications.Fanout)
	require.True(t, ok)
	require.Len(t, fanout, 2)
	assert.IsType(t, &notifications.S3Archiver{}, fanout[0])
	assert.IsType(t, &notifications.NATSPublisher{}, fanout[1])

	app.close()
	assert.True(t, conn.closed)
}

func TestBuildNotifier_NothingConfigured(t *testing.T) {
	app := &App{config: testConfig(), logger: logging.Nop{}}

	notifier, err := app.buildNotifier(context.Background())
	require.NoError(t, err)
	assert.Nil(t, notifier)
}

func TestBuildNotifier_NATSError(t *testing.T) {
	origNATS := connectNATS
	t.Cleanup(func() { connectNATS = origNATS })
	connectNATS = func(string) (notifications.Conn, func(), error) {
		return nil, nil, errors.New("no servers available")
	}

	c := testConfig()
	c.NATSURL = "nats://nowhere:4222"
	app := &App{config: c, logger: logging.Nop{}}

	_, err := app.buildNotifier(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats init error")
}

func TestRun_StopsOnCancel(t *testing.T) {
	stubSeams(t, &fakeRepoManager{})

	c := testConfig()
	c.CleanupEnabled = true

	app, err := newApp(context.Background(), c, logging.Nop{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	stubSeams(t, &fakeRepoManager{})

	c := testConfig()
	c.EndpointAddrGRPC = "not-a-valid-address"
	c.MetricsAddr = ""

	app, err := newApp(context.Background(), c, logging.Nop{})
	require.NoError(t, err)

	select {
	case err := <-runAsync(app):
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not fail")
	}
}

func runAsync(app *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()
	return done
}
