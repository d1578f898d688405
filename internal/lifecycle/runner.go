package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matanguihanbenson/agos-app/internal/firestore"
)

// Runner fetches all schedules in one status and applies an action per item,
// isolating per-item failures so one broken schedule cannot abort a batch.
type Runner struct {
	docs  DocStore
	limit int
}

func NewRunner(docs DocStore, limit int) *Runner {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	return &Runner{docs: docs, limit: limit}
}

// Run queries the schedules collection for status and invokes action once per
// result in result order. An error from one item is logged with its schedule
// id and the loop continues; the returned counts are best-effort. Only a
// failed query is an error, since nothing can proceed without results.
func (r *Runner) Run(ctx context.Context, status string, action func(context.Context, firestore.Document) error) (processed, failed int, err error) {
	docs, err := r.docs.QueryByField(ctx, CollectionSchedules, FieldScheduleStatus, status, r.limit)
	if err != nil {
		return 0, 0, fmt.Errorf("querying %s schedules: %w", status, err)
	}
	slog.Info("schedules batch", "status", status, "count", len(docs))

	for _, doc := range docs {
		if err := action(ctx, doc); err != nil {
			slog.Error("schedule processing failed", "schedule_id", doc.ID(), "batch_status", status, "error", err)
			failed++
			continue
		}
		processed++
	}
	return processed, failed, nil
}
