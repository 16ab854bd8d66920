package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/logging"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
	"github.com/dmitrijs2005/grantstore/internal/server/serialization"
)

var created = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newDeviceStore(t *testing.T) (*DeviceFlowStore, *fakeDeviceRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSQLMockDB(t)
	repo := newFakeDeviceRepo()
	s := NewDeviceFlowStore(db, &fakeRepoManager{d: repo}, serialization.NewJSONSerializer(), logging.Nop{})
	return s, repo, mock
}

func pending() models.DeviceCode {
	return models.DeviceCode{
		ClientID:        "tv-app",
		CreationTime:    created,
		Lifetime:        300,
		IsOpenID:        true,
		RequestedScopes: []string{"openid"},
	}
}

func TestDeviceStore_StoreAndFindByEitherCode(t *testing.T) {
	s, repo, _ := newDeviceStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreDeviceAuthorization(ctx, "dev-1", "USER-1", pending()))

	rec := repo.rows["dev-1"]
	assert.Equal(t, "USER-1", rec.UserCode)
	assert.Equal(t, "tv-app", rec.ClientID)
	assert.True(t, rec.CreationTime.Equal(created))
	assert.True(t, rec.Expiration.Equal(created.Add(300*time.Second)))

	byDevice, found, err := s.FindByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	require.True(t, found)

	byUser, found, err := s.FindByUserCode(ctx, "USER-1")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, byDevice.ClientID, byUser.ClientID)
	assert.Equal(t, byDevice.RequestedScopes, byUser.RequestedScopes)
	assert.True(t, byDevice.CreationTime.Equal(byUser.CreationTime))
}

func TestDeviceStore_FindMissing(t *testing.T) {
	s, _, _ := newDeviceStore(t)
	ctx := context.Background()

	_, found, err := s.FindByDeviceCode(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.FindByUserCode(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeviceStore_Uniqueness(t *testing.T) {
	s, repo, _ := newDeviceStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreDeviceAuthorization(ctx, "dev-1", "USER-1", pending()))

	err := s.StoreDeviceAuthorization(ctx, "dev-1", "USER-2", pending())
	assert.ErrorIs(t, err, common.ErrUniquenessViolation)

	err = s.StoreDeviceAuthorization(ctx, "dev-2", "USER-1", pending())
	assert.ErrorIs(t, err, common.ErrUniquenessViolation)

	assert.Len(t, repo.rows, 1)
}

func TestDeviceStore_BlankCodesRejected(t *testing.T) {
	s, _, _ := newDeviceStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.StoreDeviceAuthorization(ctx, "", "USER-1", pending()), common.ErrValidation)
	assert.ErrorIs(t, s.StoreDeviceAuthorization(ctx, "dev-1", " ", pending()), common.ErrValidation)
	_, _, err := s.FindByDeviceCode(ctx, "")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, _, err = s.FindByUserCode(ctx, "")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.ErrorIs(t, s.AuthorizeByUserCode(ctx, "", pending()), common.ErrValidation)
	assert.ErrorIs(t, s.RemoveByDeviceCode(ctx, ""), common.ErrValidation)
}

func TestDeviceStore_Authorize(t *testing.T) {
	s, repo, mock := newDeviceStore(t)
	ctx := context.Background()
	require.NoError(t, s.StoreDeviceAuthorization(ctx, "dev-1", "USER-1", pending()))
	before := repo.rows["dev-1"]

	mock.ExpectBegin()
	mock.ExpectCommit()

	approved := pending()
	approved.SubjectID = "alice"
	approved.IsAuthorized = true
	approved.AuthorizedScopes = []string{"openid"}
	approved.CreationTime = created.Add(time.Hour)
	approved.Lifetime = 9999

	require.NoError(t, s.AuthorizeByUserCode(ctx, "USER-1", approved))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"USER-1"}, repo.locked)

	after := repo.rows["dev-1"]
	assert.Equal(t, "alice", after.SubjectID)
	assert.Equal(t, before.DeviceCode, after.DeviceCode)
	assert.Equal(t, before.UserCode, after.UserCode)
	assert.Equal(t, before.ClientID, after.ClientID)
	assert.True(t, before.CreationTime.Equal(after.CreationTime))
	assert.True(t, before.Expiration.Equal(after.Expiration))

	got, found, err := s.FindByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.IsAuthorized)
	assert.Equal(t, "alice", got.SubjectID)
	assert.Equal(t, []string{"openid"}, got.AuthorizedScopes)
	assert.True(t, got.CreationTime.Equal(created), "stored creation time wins")
	assert.Equal(t, 300, got.Lifetime, "stored lifetime wins")
	assert.True(t, got.Expiration().Equal(after.Expiration))
}

func TestDeviceStore_AuthorizeUnknownUserCode(t *testing.T) {
	s, _, mock := newDeviceStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.AuthorizeByUserCode(context.Background(), "NOPE", pending())
	assert.ErrorIs(t, err, common.ErrInvalidOperation)
	assert.Contains(t, err.Error(), "could not update device code")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_AuthorizeTwiceRejected(t *testing.T) {
	s, repo, mock := newDeviceStore(t)
	ctx := context.Background()
	require.NoError(t, s.StoreDeviceAuthorization(ctx, "dev-1", "USER-1", pending()))

	approved := pending()
	approved.SubjectID = "alice"
	approved.IsAuthorized = true

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, s.AuthorizeByUserCode(ctx, "USER-1", approved))

	mock.ExpectBegin()
	mock.ExpectRollback()
	other := approved
	other.SubjectID = "mallory"
	err := s.AuthorizeByUserCode(ctx, "USER-1", other)
	assert.ErrorIs(t, err, common.ErrInvalidOperation)
	assert.Equal(t, "alice", repo.rows["dev-1"].SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_AuthorizeUpdateErrorRollsBack(t *testing.T) {
	s, repo, mock := newDeviceStore(t)
	ctx := context.Background()
	require.NoError(t, s.StoreDeviceAuthorization(ctx, "dev-1", "USER-1", pending()))
	repo.updateErr = errBoom{}

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.AuthorizeByUserCode(ctx, "USER-1", pending())
	assert.ErrorIs(t, err, errBoom{})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_AuthorizeBeginError(t *testing.T) {
	s, _, mock := newDeviceStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("db down"))

	err := s.AuthorizeByUserCode(context.Background(), "USER-1", pending())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestDeviceStore_RemoveByDeviceCode(t *testing.T) {
	s, _, _ := newDeviceStore(t)
	ctx := context.Background()
	require.NoError(t, s.StoreDeviceAuthorization(ctx, "dev-1", "USER-1", pending()))

	require.NoError(t, s.RemoveByDeviceCode(ctx, "dev-1"))
	require.NoError(t, s.RemoveByDeviceCode(ctx, "dev-1"))

	_, found, err := s.FindByDeviceCode(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = s.FindByUserCode(ctx, "USER-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeviceStore_RepositoryErrorsPropagate(t *testing.T) {
	s, repo, _ := newDeviceStore(t)
	repo.err = errBoom{}
	ctx := context.Background()

	assert.ErrorIs(t, s.StoreDeviceAuthorization(ctx, "dev-1", "USER-1", pending()), errBoom{})
	_, _, err := s.FindByDeviceCode(ctx, "dev-1")
	assert.ErrorIs(t, err, errBoom{})
	assert.ErrorIs(t, s.RemoveByDeviceCode(ctx, "dev-1"), errBoom{})
}
