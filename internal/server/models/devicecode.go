package models

import "time"

// DeviceFlowCode is the storage envelope of a pending device authorization.
// Both DeviceCode and UserCode are unique across stored records.
type DeviceFlowCode struct {
	DeviceCode   string    `json:"device_code"`
	UserCode     string    `json:"user_code"`
	SubjectID    string    `json:"subject_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	ClientID     string    `json:"client_id"`
	Description  string    `json:"description,omitempty"`
	CreationTime time.Time `json:"creation_time"`
	Expiration   time.Time `json:"expiration"`
	Data         string    `json:"data"`
}

// DeviceCode is the protocol payload handed in by the authorization engine.
// The store only reads the fields it copies into the envelope.
type DeviceCode struct {
	ClientID         string    `json:"client_id"`
	SubjectID        string    `json:"subject_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	Description      string    `json:"description,omitempty"`
	CreationTime     time.Time `json:"creation_time"`
	Lifetime         int       `json:"lifetime"`
	IsOpenID         bool      `json:"is_open_id"`
	IsAuthorized     bool      `json:"is_authorized"`
	RequestedScopes  []string  `json:"requested_scopes,omitempty"`
	AuthorizedScopes []string  `json:"authorized_scopes,omitempty"`
}

// Expiration is CreationTime plus Lifetime seconds.
func (d DeviceCode) Expiration() time.Time {
	return d.CreationTime.Add(time.Duration(d.Lifetime) * time.Second)
}
