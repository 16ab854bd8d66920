// Package grants declares the repository contract for persisted grants and
// its PostgreSQL implementation.
package grants

import (
	"context"
	"time"

	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

// Repository stores persisted grants keyed by their unique Key.
type Repository interface {
	// Get returns the grant stored under key or common.ErrorNotFound.
	Get(ctx context.Context, key string) (*models.PersistedGrant, error)

	// GetAll returns every grant matching all non-blank filter fields.
	// An empty filter is rejected with common.ErrValidation.
	GetAll(ctx context.Context, filter models.PersistedGrantFilter) ([]models.PersistedGrant, error)

	// Delete removes the grant stored under key. A missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every grant matching the filter in one statement and
	// reports how many rows went away.
	DeleteAll(ctx context.Context, filter models.PersistedGrantFilter) (int64, error)

	// Upsert inserts the grant or replaces every field of the record already
	// stored under its key. The record keeps its storage identity.
	Upsert(ctx context.Context, grant *models.PersistedGrant) error

	// RemoveExpired deletes up to limit grants whose expiration is before now
	// and returns exactly the deleted rows. Rows locked by another sweeper
	// are skipped.
	RemoveExpired(ctx context.Context, now time.Time, limit int) ([]models.PersistedGrant, error)
}
