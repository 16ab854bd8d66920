package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

const columns = `key, type, subject_id, session_id, client_id, description, creation_time, expiration, consumed_time, data`

// PostgresRepository implements Repository over dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(s scanner) (*models.PersistedGrant, error) {
	var (
		g                                 models.PersistedGrant
		subjectID, sessionID, description sql.NullString
		expiration, consumedTime          sql.NullTime
	)
	err := s.Scan(&g.Key, &g.Type, &subjectID, &sessionID, &g.ClientID, &description,
		&g.CreationTime, &expiration, &consumedTime, &g.Data)
	if err != nil {
		return nil, err
	}
	g.SubjectID = subjectID.String
	g.SessionID = sessionID.String
	g.Description = description.String
	g.Expiration = dbx.TimePtr(expiration)
	g.ConsumedTime = dbx.TimePtr(consumedTime)
	return &g, nil
}

func collect(rows *sql.Rows) ([]models.PersistedGrant, error) {
	defer rows.Close()

	result := []models.PersistedGrant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// where renders the filter as "col = $1 AND col = $2 ...".
func where(filter models.PersistedGrantFilter) (string, []any, error) {
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}
	criteria := filter.Criteria()
	parts := make([]string, 0, len(criteria))
	args := make([]any, 0, len(criteria))
	for i, c := range criteria {
		parts = append(parts, fmt.Sprintf("%s = $%d", c[0], i+1))
		args = append(args, c[1])
	}
	return strings.Join(parts, " AND "), args, nil
}

// Get returns the grant stored under key.
func (r *PostgresRepository) Get(ctx context.Context, key string) (*models.PersistedGrant, error) {
	query := `
		SELECT ` + columns + `
		FROM persisted_grants
		WHERE key = $1
	`
	g, err := scanGrant(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

// GetAll returns the grants matching the filter in no particular order.
func (r *PostgresRepository) GetAll(ctx context.Context, filter models.PersistedGrantFilter) ([]models.PersistedGrant, error) {
	cond, args, err := where(filter)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + columns + ` FROM persisted_grants WHERE ` + cond

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collect(rows)
}

// Delete removes the grant stored under key.
func (r *PostgresRepository) Delete(ctx context.Context, key string) error {
	query := `
		DELETE FROM persisted_grants
		WHERE key = $1
	`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteAll removes the grants matching the filter.
func (r *PostgresRepository) DeleteAll(ctx context.Context, filter models.PersistedGrantFilter) (int64, error) {
	cond, args, err := where(filter)
	if err != nil {
		return 0, err
	}
	query := `DELETE FROM persisted_grants WHERE ` + cond

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// Upsert writes the grant in a single statement. On conflict the existing
// row keeps its id and takes every other field from the new value.
func (r *PostgresRepository) Upsert(ctx context.Context, g *models.PersistedGrant) error {
	query := `
		INSERT INTO persisted_grants (id, ` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (key)
		DO UPDATE SET
			type = EXCLUDED.type,
			subject_id = EXCLUDED.subject_id,
			session_id = EXCLUDED.session_id,
			client_id = EXCLUDED.client_id,
			description = EXCLUDED.description,
			creation_time = EXCLUDED.creation_time,
			expiration = EXCLUDED.expiration,
			consumed_time = EXCLUDED.consumed_time,
			data = EXCLUDED.data
	`
	res, err := r.db.ExecContext(ctx, query,
		uuid.New(), g.Key, g.Type, dbx.NullString(g.SubjectID), dbx.NullString(g.SessionID), g.ClientID,
		dbx.NullString(g.Description), g.CreationTime, g.Expiration, g.ConsumedTime, g.Data)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

// RemoveExpired deletes one batch of expired grants and returns them.
// Grants without an expiration never match.
func (r *PostgresRepository) RemoveExpired(ctx context.Context, now time.Time, limit int) ([]models.PersistedGrant, error) {
	query := `
		DELETE FROM persisted_grants
		WHERE id IN (
			SELECT id FROM persisted_grants
			WHERE expiration < $1
			ORDER BY expiration
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + columns

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collect(rows)
}
