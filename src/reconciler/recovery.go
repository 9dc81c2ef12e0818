package reconciler

import (
	"context"
	"daypass/src/ledger"
	"log"
)

// RecoverStalled replays failed events and events stuck in processing past
// StaleAfter. It returns how many replays completed.
func (r *Reconciler) RecoverStalled(ctx context.Context, maxAttempts, limit int) (int, error) {
	rows, err := ledger.RecoverableEvents(r.DB, r.Clock.Now(), r.StaleAfter, maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		res, err := r.Reprocess(ctx, row)
		if err != nil {
			log.Printf("[Reconciler] Recovery of event %s stopped: %s\n", row.ID, err.Error())
			continue
		}
		if res.Outcome == OutcomeProcessed || res.Outcome == OutcomeIgnored {
			recovered++
		}
	}
	if len(rows) > 0 {
		log.Printf("[Reconciler] Recovered %d of %d stalled events\n", recovered, len(rows))
	}
	return recovered, nil
}
