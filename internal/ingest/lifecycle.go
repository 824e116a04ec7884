package ingest

import (
	"context"
	"time"

	"github.com/fundscout/fundscout/internal/logger"
	"github.com/fundscout/fundscout/internal/models"
)

// Maintainer runs the two idempotent status sweeps. Both are predicate
// updates: the predicate excludes rows already in the target state, so a
// second run the same day is a no-op.
type Maintainer struct {
	store Store
	log   logger.Logger
}

func NewMaintainer(store Store, log logger.Logger) *Maintainer {
	return &Maintainer{store: store, log: log}
}

// Sweep closes expired records, then marks open ones whose deadline falls
// inside the closing-soon window.
func (m *Maintainer) Sweep(ctx context.Context, now time.Time) (closed, closingSoon int64, err error) {
	closed, err = m.store.CloseExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	cutoff := now.AddDate(0, 0, ClosingSoonDays)
	closingSoon, err = m.store.MarkClosingSoon(ctx, now, cutoff)
	if err != nil {
		return closed, 0, err
	}

	if closed > 0 || closingSoon > 0 {
		m.log.Info("lifecycle sweep",
			logger.Int64("closed", closed),
			logger.Int64("closing_soon", closingSoon))
	}
	return closed, closingSoon, nil
}

// expired reports whether a record in an open state has a past deadline.
func expired(o *models.OpportunityRecord, now time.Time) bool {
	if o.DeadlineAt == nil {
		return false
	}
	switch o.Status {
	case models.StatusOpen, models.StatusClosingSoon:
		return o.DeadlineAt.Before(now)
	}
	return false
}

// closingSoon reports whether an open record's deadline falls within the
// window and is not already past.
func closingSoon(o *models.OpportunityRecord, now time.Time) bool {
	if o.Status != models.StatusOpen || o.DeadlineAt == nil {
		return false
	}
	cutoff := now.AddDate(0, 0, ClosingSoonDays)
	return !o.DeadlineAt.Before(now) && !o.DeadlineAt.After(cutoff)
}
