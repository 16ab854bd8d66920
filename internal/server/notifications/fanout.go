package notifications

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/grantstore/internal/server/cleanup"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

// Fanout calls every notifier in order and joins their errors. All of them
// are called even when an earlier one fails. One failing sink rolls the
// batch back, so the sinks that succeeded see the same records again on the
// next sweep.
type Fanout []cleanup.Notifier

func (f Fanout) PersistedGrantsRemoved(ctx context.Context, grants []models.PersistedGrant) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.PersistedGrantsRemoved(ctx, grants))
	}
	return errors.Join(errs...)
}

func (f Fanout) DeviceCodesRemoved(ctx context.Context, codes []models.DeviceFlowCode) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.DeviceCodesRemoved(ctx, codes))
	}
	return errors.Join(errs...)
}
