package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

const (
	SubjectGrantsRemoved      = "grantstore.grants.removed"
	SubjectDeviceCodesRemoved = "grantstore.devicecodes.removed"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// Connect dials NATS with the client name set for server-side monitoring.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("grantstore-cleanup"))
	if err != nil {
		return nil, fmt.Errorf("nats connect error: %w", err)
	}
	return nc, nil
}

// GrantRemoved is published once per removed grant. Data is never sent.
type GrantRemoved struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	SubjectID string `json:"subject_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ClientID  string `json:"client_id"`
}

// DeviceCodeRemoved is published once per removed device code.
type DeviceCodeRemoved struct {
	DeviceCode string `json:"device_code"`
	UserCode   string `json:"user_code"`
	ClientID   string `json:"client_id"`
	SubjectID  string `json:"subject_id,omitempty"`
}

// NATSPublisher announces removed records so dependent services can drop
// whatever they derived from them.
type NATSPublisher struct {
	conn Conn
}

func NewNATSPublisher(conn Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func publish[T any](ctx context.Context, p *NATSPublisher, subject string, events []T) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("event encode error: %w", err)
		}
		if err := p.conn.Publish(subject, b); err != nil {
			return fmt.Errorf("publish error: %w", err)
		}
	}
	// the batch only counts as delivered once the server saw it
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush error: %w", err)
	}
	return nil
}

func (p *NATSPublisher) PersistedGrantsRemoved(ctx context.Context, grants []models.PersistedGrant) error {
	events := make([]GrantRemoved, 0, len(grants))
	for _, g := range grants {
		events = append(events, GrantRemoved{Key: g.Key, Type: g.Type, SubjectID: g.SubjectID, SessionID: g.SessionID, ClientID: g.ClientID})
	}
	return publish(ctx, p, SubjectGrantsRemoved, events)
}

func (p *NATSPublisher) DeviceCodesRemoved(ctx context.Context, codes []models.DeviceFlowCode) error {
	events := make([]DeviceCodeRemoved, 0, len(codes))
	for _, c := range codes {
		events = append(events, DeviceCodeRemoved{DeviceCode: c.DeviceCode, UserCode: c.UserCode, ClientID: c.ClientID, SubjectID: c.SubjectID})
	}
	return publish(ctx, p, SubjectDeviceCodesRemoved, events)
}
