package devicecodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

const columns = `device_code, user_code, subject_id, session_id, client_id, description, creation_time, expiration, data`

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

func scanCode(s scanner) (*models.DeviceFlowCode, error) {
	var (
		c                                 models.DeviceFlowCode
		subjectID, sessionID, description sql.NullString
	)
	err := s.Scan(&c.DeviceCode, &c.UserCode, &subjectID, &sessionID, &c.ClientID, &description,
		&c.CreationTime, &c.Expiration, &c.Data)
	if err != nil {
		return nil, err
	}
	c.SubjectID = subjectID.String
	c.SessionID = sessionID.String
	c.Description = description.String
	return &c, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg string) (*models.DeviceFlowCode, error) {
	c, err := scanCode(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Create inserts the record under a fresh surrogate id.
func (r *PostgresRepository) Create(ctx context.Context, c *models.DeviceFlowCode) error {
	query := `
		INSERT INTO device_codes (id, ` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		uuid.New(), c.DeviceCode, c.UserCode, dbx.NullString(c.SubjectID), dbx.NullString(c.SessionID),
		c.ClientID, dbx.NullString(c.Description), c.CreationTime, c.Expiration, c.Data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", common.ErrUniquenessViolation, pgErr.ConstraintName)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FindByDeviceCode looks the record up by device code.
func (r *PostgresRepository) FindByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceFlowCode, error) {
	query := `
		SELECT ` + columns + `
		FROM device_codes
		WHERE device_code = $1
	`
	return r.findOne(ctx, query, deviceCode)
}

// FindByUserCode looks the record up by user code.
func (r *PostgresRepository) FindByUserCode(ctx context.Context, userCode string) (*models.DeviceFlowCode, error) {
	query := `
		SELECT ` + columns + `
		FROM device_codes
		WHERE user_code = $1
	`
	return r.findOne(ctx, query, userCode)
}

// FindByUserCodeForUpdate must run inside a transaction for the lock to hold.
func (r *PostgresRepository) FindByUserCodeForUpdate(ctx context.Context, userCode string) (*models.DeviceFlowCode, error) {
	query := `
		SELECT ` + columns + `
		FROM device_codes
		WHERE user_code = $1
		FOR UPDATE
	`
	return r.findOne(ctx, query, userCode)
}

// UpdateByUserCode rewrites data and subject_id. Codes, client, creation
// time and expiration are left alone.
func (r *PostgresRepository) UpdateByUserCode(ctx context.Context, userCode, subjectID, data string) error {
	query := `
		UPDATE device_codes
		SET data = $1, subject_id = $2
		WHERE user_code = $3
	`
	res, err := r.db.ExecContext(ctx, query, data, dbx.NullString(subjectID), userCode)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// DeleteByDeviceCode removes the record by device code.
func (r *PostgresRepository) DeleteByDeviceCode(ctx context.Context, deviceCode string) error {
	query := `
		DELETE FROM device_codes
		WHERE device_code = $1
	`
	if _, err := r.db.ExecContext(ctx, query, deviceCode); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RemoveExpired deletes one batch of expired records and returns them.
func (r *PostgresRepository) RemoveExpired(ctx context.Context, now time.Time, limit int) ([]models.DeviceFlowCode, error) {
	query := `
		DELETE FROM device_codes
		WHERE id IN (
			SELECT id FROM device_codes
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
	defer rows.Close()

	result := []models.DeviceFlowCode{}
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
