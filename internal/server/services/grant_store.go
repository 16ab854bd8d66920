// Package services holds the stores the authorization engine talks to. They
// validate input, translate repository errors and keep the device flow
// transitions consistent.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/logging"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/repomanager"
)

// PersistedGrantStore stores grants by key and answers filter queries.
type PersistedGrantStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewPersistedGrantStore(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *PersistedGrantStore {
	return &PersistedGrantStore{
		db:          db,
		repomanager: m,
		logger:      l.With("module", "grant_store"),
	}
}

func requireKey(name, v string) error {
	if models.IsBlank(v) {
		return fmt.Errorf("%w: %s is required", common.ErrValidation, name)
	}
	return nil
}

// Get returns the grant stored under key. found is false when there is none.
func (s *PersistedGrantStore) Get(ctx context.Context, key string) (models.PersistedGrant, bool, error) {
	if err := requireKey("key", key); err != nil {
		return models.PersistedGrant{}, false, err
	}

	g, err := s.repomanager.Grants(s.db).Get(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Debug(ctx, "persisted grant found in database", "key", key, "found", false)
			return models.PersistedGrant{}, false, nil
		}
		return models.PersistedGrant{}, false, fmt.Errorf("error getting grant: %w", err)
	}

	s.logger.Debug(ctx, "persisted grant found in database", "key", key, "found", true)
	return *g, true, nil
}

// GetAll returns every grant matching the filter.
func (s *PersistedGrantStore) GetAll(ctx context.Context, filter models.PersistedGrantFilter) ([]models.PersistedGrant, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	list, err := s.repomanager.Grants(s.db).GetAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error listing grants: %w", err)
	}

	s.logger.Debug(ctx, "persisted grants found for filter", "count", len(list),
		"subject_id", filter.SubjectID, "session_id", filter.SessionID, "client_id", filter.ClientID, "type", filter.Type)
	return list, nil
}

// Remove deletes the grant stored under key. Removing a missing key succeeds.
func (s *PersistedGrantStore) Remove(ctx context.Context, key string) error {
	if err := requireKey("key", key); err != nil {
		return err
	}
	if err := s.repomanager.Grants(s.db).Delete(ctx, key); err != nil {
		return fmt.Errorf("error removing grant: %w", err)
	}
	s.logger.Debug(ctx, "removing persisted grant from database", "key", key)
	return nil
}

// RemoveAll deletes every grant matching the filter in one statement.
func (s *PersistedGrantStore) RemoveAll(ctx context.Context, filter models.PersistedGrantFilter) error {
	_, err := s.RemoveAllCount(ctx, filter)
	return err
}

// RemoveAllCount is RemoveAll that also reports how many grants went away.
func (s *PersistedGrantStore) RemoveAllCount(ctx context.Context, filter models.PersistedGrantFilter) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	n, err := s.repomanager.Grants(s.db).DeleteAll(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("error removing grants: %w", err)
	}
	s.logger.Debug(ctx, "removed persisted grants for filter", "count", n,
		"subject_id", filter.SubjectID, "session_id", filter.SessionID, "client_id", filter.ClientID, "type", filter.Type)
	return n, nil
}

// Store inserts the grant or replaces the one stored under the same key.
func (s *PersistedGrantStore) Store(ctx context.Context, grant models.PersistedGrant) error {
	if err := requireKey("key", grant.Key); err != nil {
		return err
	}
	if err := s.repomanager.Grants(s.db).Upsert(ctx, &grant); err != nil {
		return fmt.Errorf("error storing grant: %w", err)
	}
	return nil
}
