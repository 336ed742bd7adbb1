package datastore

import (
	"log/slog"
	"time"

	"github.com/Turgon37/OpenVPN-UAM/internal/adapter"
	"github.com/Turgon37/OpenVPN-UAM/internal/metrics"
	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// updateQueue holds the pending field mutations awaiting delivery to the
// adapter, plus the quarantine lane of updates the adapter rejected as
// semantically wrong. Updates are delivered in enqueue order per target;
// there is no coalescing, so the last writer wins at the adapter.
type updateQueue struct {
	cooldown   time.Duration
	pending    []*models.PendingUpdate
	quarantine []*models.PendingUpdate
}

func newUpdateQueue(cooldown time.Duration) *updateQueue {
	return &updateQueue{cooldown: cooldown}
}

func (q *updateQueue) push(up *models.PendingUpdate) {
	q.pending = append(q.pending, up)
	metrics.SetQueueDepth(len(q.pending))
}

func (q *updateQueue) empty() bool {
	return len(q.pending) == 0
}

// drain performs one delivery pass over a snapshot of the current queue
// size. Items enqueued while draining are left for the next pass, so a
// high write rate cannot keep the drain looping. An item whose cooldown
// has not elapsed is pushed back untouched.
func (q *updateQueue) drain(ad adapter.Adapter, now time.Time, logger *slog.Logger) {
	count := len(q.pending)
	for i := 0; i < count; i++ {
		up := q.pending[0]
		q.pending = q.pending[1:]

		if !up.ReadyForAttempt(now, q.cooldown) {
			q.pending = append(q.pending, up)
			continue
		}

		up.LastAttempt = now
		if ad.ProcessUpdate(up) {
			metrics.ObserveUpdate("applied")
			continue
		}

		if up.Failed {
			// the store rejected this as wrong, retrying would be
			// silently incorrect
			logger.Error("update quarantined",
				slog.String("target", string(up.Kind)),
				slog.Int64("id", up.TargetID),
				slog.String("field", up.Field),
				slog.String("reason", up.FailReason),
			)
			q.quarantine = append(q.quarantine, up)
			metrics.ObserveUpdate("quarantined")
			continue
		}

		// transient failure, retry after cooldown
		q.pending = append(q.pending, up)
		metrics.ObserveUpdate("retried")
	}

	metrics.SetQueueDepth(len(q.pending))
	metrics.SetQuarantineSize(len(q.quarantine))
}
