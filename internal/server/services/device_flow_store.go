package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/logging"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/grantstore/internal/server/serialization"
)

// DeviceFlowStore keeps pending device authorizations. A record is reachable
// by its device code (polling device) and by its user code (user approving
// in a browser).
type DeviceFlowStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	serializer  serialization.Serializer
	logger      logging.Logger
}

func NewDeviceFlowStore(db *sql.DB, m repomanager.RepositoryManager, s serialization.Serializer, l logging.Logger) *DeviceFlowStore {
	return &DeviceFlowStore{
		db:          db,
		repomanager: m,
		serializer:  s,
		logger:      l.With("module", "device_flow_store"),
	}
}

// StoreDeviceAuthorization records a new device authorization. The envelope
// expires at CreationTime plus Lifetime of the payload.
func (s *DeviceFlowStore) StoreDeviceAuthorization(ctx context.Context, deviceCode, userCode string, data models.DeviceCode) error {
	if err := requireKey("device code", deviceCode); err != nil {
		return err
	}
	if err := requireKey("user code", userCode); err != nil {
		return err
	}

	payload, err := s.serializer.Serialize(data)
	if err != nil {
		return err
	}

	record := &models.DeviceFlowCode{
		DeviceCode:   deviceCode,
		UserCode:     userCode,
		SubjectID:    data.SubjectID,
		SessionID:    data.SessionID,
		ClientID:     data.ClientID,
		Description:  data.Description,
		CreationTime: data.CreationTime,
		Expiration:   data.Expiration(),
		Data:         payload,
	}

	if err := s.repomanager.DeviceCodes(s.db).Create(ctx, record); err != nil {
		if errors.Is(err, common.ErrUniquenessViolation) {
			return err
		}
		return fmt.Errorf("error storing device code: %w", err)
	}
	return nil
}

func (s *DeviceFlowStore) decode(ctx context.Context, record *models.DeviceFlowCode, err error, by, code string) (models.DeviceCode, bool, error) {
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Debug(ctx, "device code not found in database", by, code)
			return models.DeviceCode{}, false, nil
		}
		return models.DeviceCode{}, false, fmt.Errorf("error finding device code: %w", err)
	}
	payload, err := s.serializer.Deserialize(record.Data)
	if err != nil {
		return models.DeviceCode{}, false, err
	}
	s.logger.Debug(ctx, "device code found in database", by, code)
	return payload, true, nil
}

// FindByDeviceCode returns the payload stored under deviceCode.
func (s *DeviceFlowStore) FindByDeviceCode(ctx context.Context, deviceCode string) (models.DeviceCode, bool, error) {
	if err := requireKey("device code", deviceCode); err != nil {
		return models.DeviceCode{}, false, err
	}
	record, err := s.repomanager.DeviceCodes(s.db).FindByDeviceCode(ctx, deviceCode)
	return s.decode(ctx, record, err, "device_code", deviceCode)
}

// FindByUserCode returns the payload stored under userCode.
func (s *DeviceFlowStore) FindByUserCode(ctx context.Context, userCode string) (models.DeviceCode, bool, error) {
	if err := requireKey("user code", userCode); err != nil {
		return models.DeviceCode{}, false, err
	}
	record, err := s.repomanager.DeviceCodes(s.db).FindByUserCode(ctx, userCode)
	return s.decode(ctx, record, err, "user_code", userCode)
}

// AuthorizeByUserCode replaces the payload and subject of the record with
// the given user code. The record is locked for the duration of the check
// and the write, so a code is authorized at most once. The stored creation
// time and lifetime win over whatever the new payload carries.
func (s *DeviceFlowStore) AuthorizeByUserCode(ctx context.Context, userCode string, data models.DeviceCode) error {
	if err := requireKey("user code", userCode); err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.DeviceCodes(tx)

		record, err := repo.FindByUserCodeForUpdate(ctx, userCode)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: could not update device code", common.ErrInvalidOperation)
			}
			return fmt.Errorf("error finding device code: %w", err)
		}

		current, err := s.serializer.Deserialize(record.Data)
		if err != nil {
			return err
		}
		if current.IsAuthorized {
			return fmt.Errorf("%w: device code already authorized", common.ErrInvalidOperation)
		}

		data.CreationTime = record.CreationTime
		data.Lifetime = int(record.Expiration.Sub(record.CreationTime) / time.Second)

		payload, err := s.serializer.Serialize(data)
		if err != nil {
			return err
		}

		if err := repo.UpdateByUserCode(ctx, userCode, data.SubjectID, payload); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: could not update device code", common.ErrInvalidOperation)
			}
			return fmt.Errorf("error updating device code: %w", err)
		}

		s.logger.Debug(ctx, "device code authorized", "user_code", userCode, "subject_id", data.SubjectID)
		return nil
	})
}

// RemoveByDeviceCode deletes the record. Removing a missing code succeeds.
func (s *DeviceFlowStore) RemoveByDeviceCode(ctx context.Context, deviceCode string) error {
	if err := requireKey("device code", deviceCode); err != nil {
		return err
	}
	if err := s.repomanager.DeviceCodes(s.db).DeleteByDeviceCode(ctx, deviceCode); err != nil {
		return fmt.Errorf("error removing device code: %w", err)
	}
	return nil
}
