// Package devicecodes declares the repository contract for device flow codes
// and its PostgreSQL implementation.
package devicecodes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

// Repository stores device flow envelopes addressable by device code and by
// user code.
type Repository interface {
	// Create inserts a new record. A taken device or user code yields
	// common.ErrUniquenessViolation and nothing is written.
	Create(ctx context.Context, code *models.DeviceFlowCode) error

	// FindByDeviceCode returns the record or common.ErrorNotFound.
	FindByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceFlowCode, error)

	// FindByUserCode returns the record or common.ErrorNotFound.
	FindByUserCode(ctx context.Context, userCode string) (*models.DeviceFlowCode, error)

	// FindByUserCodeForUpdate is FindByUserCode that also row-locks the
	// record until the surrounding transaction ends.
	FindByUserCodeForUpdate(ctx context.Context, userCode string) (*models.DeviceFlowCode, error)

	// UpdateByUserCode replaces only the subject and the payload of the
	// record. common.ErrorNotFound when no record has that user code.
	UpdateByUserCode(ctx context.Context, userCode, subjectID, data string) error

	// DeleteByDeviceCode removes the record. A missing code is not an error.
	DeleteByDeviceCode(ctx context.Context, deviceCode string) error

	// RemoveExpired deletes up to limit records whose expiration is before
	// now and returns exactly the deleted rows.
	RemoveExpired(ctx context.Context, now time.Time, limit int) ([]models.DeviceFlowCode, error)
}
