package db

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/xtrntr/escrow/internal/models"
)

// Journal writes engine events to an EventStore. Write failures are logged
// and do not affect the operation that produced the event.
type Journal struct {
	store EventStore
	log   logrus.FieldLogger
}

// NewJournal creates a journal backed by store
func NewJournal(store EventStore, log logrus.FieldLogger) *Journal {
	return &Journal{store: store, log: log}
}

// Record persists ev
func (j *Journal) Record(ctx context.Context, ev models.Event) {
	// The operation has already committed; a cancelled request must not drop its record.
	ctx = context.WithoutCancel(ctx)
	if err := j.store.RecordEvent(ctx, ev); err != nil {
		j.log.WithError(err).WithFields(logrus.Fields{
			"event_id": ev.ID,
			"kind":     ev.Kind,
		}).Error("failed to journal event")
	}
}
