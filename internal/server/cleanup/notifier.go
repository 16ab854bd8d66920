package cleanup

import (
	"context"

	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

// Notifier is told about every batch of records the reaper deleted. It is
// called inside the deleting transaction; returning an error rolls the batch
// back so the rows are retried on the next sweep.
//
// Delivery is at least once: a batch whose notification failed, or whose
// commit failed after notifying, is reported again by a later sweep.
// Consumers should deduplicate by key or device code.
type Notifier interface {
	PersistedGrantsRemoved(ctx context.Context, grants []models.PersistedGrant) error
	DeviceCodesRemoved(ctx context.Context, codes []models.DeviceFlowCode) error
}

// NopNotifier accepts every batch.
type NopNotifier struct{}

func (NopNotifier) PersistedGrantsRemoved(context.Context, []models.PersistedGrant) error {
	return nil
}

func (NopNotifier) DeviceCodesRemoved(context.Context, []models.DeviceFlowCode) error {
	return nil
}
