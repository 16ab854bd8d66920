// Package models defines the records persisted by the operational store.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/grantstore/internal/common"
)

// PersistedGrant is an opaque authorization artifact (authorization code,
// refresh token, reference token, user consent) stored under a unique key.
// Empty strings stand for absent optional fields.
type PersistedGrant struct {
	Key          string     `json:"key"`
	Type         string     `json:"type"`
	SubjectID    string     `json:"subject_id,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	ClientID     string     `json:"client_id"`
	Description  string     `json:"description,omitempty"`
	CreationTime time.Time  `json:"creation_time"`
	Expiration   *time.Time `json:"expiration,omitempty"`
	ConsumedTime *time.Time `json:"consumed_time,omitempty"`
	Data         string     `json:"data"`
}

// PersistedGrantFilter selects grants by conjunction of its non-blank fields.
type PersistedGrantFilter struct {
	SubjectID string
	SessionID string
	ClientID  string
	Type      string
}

// IsEmpty reports whether every field is blank. Whitespace counts as blank.
func (f PersistedGrantFilter) IsEmpty() bool {
	return IsBlank(f.SubjectID) && IsBlank(f.SessionID) && IsBlank(f.ClientID) && IsBlank(f.Type)
}

// Validate rejects a filter that would match every grant.
func (f PersistedGrantFilter) Validate() error {
	if f.IsEmpty() {
		return fmt.Errorf("%w: grant filter has no criteria", common.ErrValidation)
	}
	return nil
}

// Criteria returns the non-blank filter fields keyed by column name, in a
// fixed column order.
func (f PersistedGrantFilter) Criteria() [][2]string {
	var out [][2]string
	for _, c := range [][2]string{
		{"subject_id", f.SubjectID},
		{"session_id", f.SessionID},
		{"client_id", f.ClientID},
		{"type", f.Type},
	} {
		if !IsBlank(c[1]) {
			out = append(out, c)
		}
	}
	return out
}

// IsBlank reports whether s is empty or whitespace, the check applied to
// keys, codes and filter fields.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
