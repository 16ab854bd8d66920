package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/devicecodes"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/grants"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// fakeGrantsRepo keeps grants in memory with the same matching rules as the
// SQL implementation. ids records the storage identity of each key.
type fakeGrantsRepo struct {
	mu     sync.Mutex
	rows   map[string]models.PersistedGrant
	ids    map[string]int
	nextID int
	err    error
}

func newFakeGrantsRepo() *fakeGrantsRepo {
	return &fakeGrantsRepo{rows: map[string]models.PersistedGrant{}, ids: map[string]int{}}
}

func matches(g models.PersistedGrant, f models.PersistedGrantFilter) bool {
	for _, c := range f.Criteria() {
		var v string
		switch c[0] {
		case "subject_id":
			v = g.SubjectID
		case "session_id":
			v = g.SessionID
		case "client_id":
			v = g.ClientID
		case "type":
			v = g.Type
		}
		if v != c[1] {
			return false
		}
	}
	return true
}

func (f *fakeGrantsRepo) Get(_ context.Context, key string) (*models.PersistedGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.rows[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &g, nil
}

func (f *fakeGrantsRepo) GetAll(_ context.Context, filter models.PersistedGrantFilter) ([]models.PersistedGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []models.PersistedGrant{}
	for _, g := range f.rows {
		if matches(g, filter) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGrantsRepo) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.rows, key)
	delete(f.ids, key)
	return nil
}

func (f *fakeGrantsRepo) DeleteAll(_ context.Context, filter models.PersistedGrantFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for k, g := range f.rows {
		if matches(g, filter) {
			delete(f.rows, k)
			delete(f.ids, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeGrantsRepo) Upsert(_ context.Context, g *models.PersistedGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.ids[g.Key]; !ok {
		f.nextID++
		f.ids[g.Key] = f.nextID
	}
	f.rows[g.Key] = *g
	return nil
}

func (f *fakeGrantsRepo) RemoveExpired(context.Context, time.Time, int) ([]models.PersistedGrant, error) {
	return nil, errors.New("not used")
}

// fakeDeviceRepo keeps device flow records in memory keyed by device code.
type fakeDeviceRepo struct {
	mu        sync.Mutex
	rows      map[string]models.DeviceFlowCode
	err       error
	updateErr error
	locked    []string
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{rows: map[string]models.DeviceFlowCode{}}
}

func (f *fakeDeviceRepo) Create(_ context.Context, c *models.DeviceFlowCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, r := range f.rows {
		if r.DeviceCode == c.DeviceCode || r.UserCode == c.UserCode {
			return common.ErrUniquenessViolation
		}
	}
	f.rows[c.DeviceCode] = *c
	return nil
}

func (f *fakeDeviceRepo) FindByDeviceCode(_ context.Context, code string) (*models.DeviceFlowCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rows[code]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &r, nil
}

func (f *fakeDeviceRepo) byUser(code string) (*models.DeviceFlowCode, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.rows {
		if r.UserCode == code {
			return &r, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeDeviceRepo) FindByUserCode(_ context.Context, code string) (*models.DeviceFlowCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byUser(code)
}

func (f *fakeDeviceRepo) FindByUserCodeForUpdate(_ context.Context, code string) (*models.DeviceFlowCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = append(f.locked, code)
	return f.byUser(code)
}

func (f *fakeDeviceRepo) UpdateByUserCode(_ context.Context, userCode, subjectID, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for k, r := range f.rows {
		if r.UserCode == userCode {
			r.SubjectID = subjectID
			r.Data = data
			f.rows[k] = r
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeDeviceRepo) DeleteByDeviceCode(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.rows, code)
	return nil
}

func (f *fakeDeviceRepo) RemoveExpired(context.Context, time.Time, int) ([]models.DeviceFlowCode, error) {
	return nil, errors.New("not used")
}

type fakeRepoManager struct {
	g *fakeGrantsRepo
	d *fakeDeviceRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Grants(dbx.DBTX) grants.Repository            { return m.g }
func (m *fakeRepoManager) DeviceCodes(dbx.DBTX) devicecodes.Repository  { return m.d }
