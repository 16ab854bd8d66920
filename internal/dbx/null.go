package dbx

import (
	"database/sql"
	"time"
)

// NullString stores an empty string as SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// TimePtr converts a scanned nullable timestamp back to *time.Time.
func TimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
