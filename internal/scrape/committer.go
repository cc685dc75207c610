package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/woolpilot/wool-pilot/internal/models"
)

// Committer writes validated records to storage, one atomic upsert per
// record. A record failing to store is reported and skipped; it never
// aborts the rest of the batch and never triggers a scrape retry.
type Committer struct {
	store  Upserter
	events EventSink
	logger *slog.Logger
}

// NewCommitter wires the committer to a store and an optional event
// sink. Pass a nil sink when nothing consumes upsert events.
func NewCommitter(store Upserter, events EventSink, logger *slog.Logger) *Committer {
	return &Committer{
		store:  store,
		events: events,
		logger: logger.With("component", "committer"),
	}
}

// Commit upserts every record and returns how many landed, plus the
// joined storage errors for the ones that did not. A started commit
// runs to the end of the batch even when the job is cancelled, so a
// validated attempt is never half-persisted.
func (c *Committer) Commit(ctx context.Context, records []models.Product) (int, error) {
	ctx = context.WithoutCancel(ctx)

	var written int
	var errs []error

	for i := range records {
		rec := &records[i]

		if err := c.store.Upsert(ctx, rec); err != nil {
			c.logger.Error("upsert failed", "name", rec.Name, "error", err)
			errs = append(errs, WrapError(KindStorage, fmt.Errorf("upsert %q: %w", rec.Name, err)))
			continue
		}
		written++

		if c.events == nil {
			continue
		}
		if err := c.events.ProductUpserted(ctx, rec); err != nil {
			c.logger.Warn("event publish failed", "name", rec.Name, "error", err)
		}
	}

	return written, errors.Join(errs...)
}
