package store

import (
	"context"
	"log/slog"

	"simbroker/internal/domain"
)

// RunJournal copies order events into j until ctx is cancelled or events is
// closed. Write failures are logged and skipped so the simulator never blocks
// on its audit trail.
func RunJournal(ctx context.Context, j Journal, events <-chan domain.OrderEvent, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			var err error
			if evt.Type == domain.OrderEventReset {
				err = j.Reset(ctx)
			} else {
				err = j.Record(ctx, evt.Order)
			}
			if err != nil {
				log.Error("journaling order event", "type", evt.Type, "order_id", evt.Order.ID, "error", err)
			}
		}
	}
}
