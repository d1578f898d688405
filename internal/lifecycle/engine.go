// Package lifecycle advances scheduled deployments through their state
// machine and keeps the document store and the realtime tree store in step.
// The two stores are updated by separate calls with no cross-store
// transaction; every write is idempotent so the next poll re-converges
// whichever side a failed tick left behind.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matanguihanbenson/agos-app/internal/firestore"
	"github.com/matanguihanbenson/agos-app/internal/fsval"
	"github.com/matanguihanbenson/agos-app/internal/telemetry"
)

// DocStore is the document store surface the engine writes through.
type DocStore interface {
	QueryByField(ctx context.Context, collection, field, value string, limit int) ([]firestore.Document, error)
	Get(ctx context.Context, collection, id string) (*firestore.Document, error)
	Create(ctx context.Context, collection, id string, fields map[string]fsval.Value) (*firestore.Document, error)
	Patch(ctx context.Context, name string, fields map[string]fsval.Value, mask []string) (*firestore.Document, error)
	DocName(collection, id string) string
}

// TreeStore is the realtime store surface the engine writes through.
type TreeStore interface {
	Patch(ctx context.Context, path string, partial map[string]any) error
}

// Summarizer reduces a deployment's telemetry to its permanent summary.
type Summarizer interface {
	Summarize(ctx context.Context, botID, deploymentID string) telemetry.Summary
}

type Engine struct {
	docs DocStore
	tree TreeStore
	agg  Summarizer
	now  func() time.Time
}

type Options struct {
	// Now overrides the clock (used by tests).
	Now func() time.Time
}

func NewEngine(docs DocStore, tree TreeStore, agg Summarizer, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{docs: docs, tree: tree, agg: agg, now: now}
}

// Promote transitions one schedule from scheduled to active: ensures the
// durable deployment record exists, patches the schedule, and mirrors the new
// state onto the bot and its realtime deployment node. A schedule whose end
// time already passed is completed in the same call.
func (e *Engine) Promote(ctx context.Context, doc firestore.Document) error {
	fields := doc.Fields
	if status, _ := fsval.GetString(fields, FieldScheduleStatus); status != StatusScheduled {
		return nil
	}

	now := e.now().UTC()
	startAt, ok := fsval.GetTimestamp(fields, FieldScheduleStartAt)
	if !ok || startAt.After(now) {
		return nil
	}
	endAt, hasEnd := fsval.GetTimestamp(fields, FieldScheduleEndAt)

	scheduleID := doc.ID()
	botID, _ := fsval.GetString(fields, FieldScheduleBotID)
	deploymentID, _ := fsval.GetString(fields, FieldScheduleDeploymentID)
	if deploymentID == "" {
		deploymentID = scheduleID
	}

	if err := e.ensureDeployment(ctx, deploymentID, scheduleID, botID, now); err != nil {
		return fmt.Errorf("ensuring deployment %s: %w", deploymentID, err)
	}

	if _, err := e.docs.Patch(ctx, doc.Name, map[string]fsval.Value{
		FieldScheduleStatus:       fsval.String(StatusActive),
		FieldScheduleStartedAt:    fsval.Timestamp(now),
		FieldScheduleDeploymentID: fsval.String(deploymentID),
	}, []string{FieldScheduleStatus, FieldScheduleStartedAt, FieldScheduleDeploymentID}); err != nil {
		return fmt.Errorf("patching schedule %s: %w", scheduleID, err)
	}

	if botID != "" {
		// The realtime deployment node is keyed by bot id, not by the
		// durable deployment id; the two stores join only through the
		// cross-reference fields each carries.
		if err := e.SetBotStatus(ctx, botID, StatusActive, &scheduleID, &botID); err != nil {
			return err
		}
		if err := e.tree.Patch(ctx, rtDeploymentsRoot+"/"+botID, map[string]any{
			"status":            StatusActive,
			"schedule_id":       scheduleID,
			"deployment_id":     deploymentID,
			"bot_id":            botID,
			"actual_start_time": isoTime(now),
			"updated_at":        isoTime(now),
		}); err != nil {
			return fmt.Errorf("patching realtime deployment node %s: %w", botID, err)
		}
	}

	slog.Info("activated schedule", "schedule_id", scheduleID, "deployment_id", deploymentID, "bot_id", botID)

	// A schedule that was never polled while active transitions
	// scheduled -> active -> completed within a single pass.
	if hasEnd && !endAt.After(now) {
		return e.completeNow(ctx, doc.Name, scheduleID, botID, deploymentID)
	}
	return nil
}

// Complete transitions one schedule from active to completed, aggregating
// telemetry into the durable deployment and resetting the bot to idle.
func (e *Engine) Complete(ctx context.Context, doc firestore.Document) error {
	fields := doc.Fields
	if status, _ := fsval.GetString(fields, FieldScheduleStatus); status != StatusActive {
		return nil
	}

	now := e.now().UTC()
	endAt, ok := fsval.GetTimestamp(fields, FieldScheduleEndAt)
	if !ok || endAt.After(now) {
		return nil
	}

	scheduleID := doc.ID()
	botID, _ := fsval.GetString(fields, FieldScheduleBotID)
	deploymentID, _ := fsval.GetString(fields, FieldScheduleDeploymentID)
	if deploymentID == "" {
		deploymentID = scheduleID
	}

	return e.completeNow(ctx, doc.Name, scheduleID, botID, deploymentID)
}

// completeNow performs the completion sub-steps in order. Failures are logged
// and do not roll back earlier sub-steps: a partially completed pair of
// records is accepted and self-heals on the next poll, since re-patching the
// same terminal state is a no-op in effect.
func (e *Engine) completeNow(ctx context.Context, scheduleName, scheduleID, botID, deploymentID string) error {
	now := e.now().UTC()
	summary := e.agg.Summarize(ctx, botID, deploymentID)

	var errs []error

	depName := e.docs.DocName(CollectionDeployments, deploymentID)
	if _, err := e.docs.Patch(ctx, depName, map[string]fsval.Value{
		FieldDeploymentStatus:  fsval.String(StatusCompleted),
		FieldDeploymentEndedAt: fsval.Timestamp(now),
		FieldDeploymentMetrics: fsval.Map(summary.Fields()),
	}, []string{FieldDeploymentStatus, FieldDeploymentEndedAt, FieldDeploymentMetrics}); err != nil {
		slog.Error("patching deployment failed", "deployment_id", deploymentID, "error", err)
		errs = append(errs, err)
	}

	if _, err := e.docs.Patch(ctx, scheduleName, map[string]fsval.Value{
		FieldScheduleStatus:  fsval.String(StatusCompleted),
		FieldScheduleEndedAt: fsval.Timestamp(now),
	}, []string{FieldScheduleStatus, FieldScheduleEndedAt}); err != nil {
		slog.Error("patching schedule failed", "schedule_id", scheduleID, "error", err)
		errs = append(errs, err)
	}

	if botID != "" {
		if err := e.tree.Patch(ctx, rtDeploymentsRoot+"/"+botID, map[string]any{
			"status":          StatusCompleted,
			"actual_end_time": isoTime(now),
			"updated_at":      isoTime(now),
		}); err != nil {
			slog.Error("patching realtime deployment node failed", "bot_id", botID, "error", err)
			errs = append(errs, err)
		}
		if err := e.SetBotStatus(ctx, botID, StatusIdle, nil, nil); err != nil {
			slog.Error("resetting bot failed", "bot_id", botID, "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		slog.Info("completed schedule", "schedule_id", scheduleID, "deployment_id", deploymentID,
			"sample_count", summary.SampleCount, "source", summary.Source)
	}
	return errors.Join(errs...)
}

// SetBotStatus writes the bot's status and references to the document store
// and the realtime store in that order. One timestamp is captured up front so
// the two stores never show different instants for the same logical update.
// The realtime deployment reference is the bot id while a deployment is live
// and explicitly null when idle; readers follow it from bot status to live
// telemetry.
func (e *Engine) SetBotStatus(ctx context.Context, botID, status string, scheduleID, deploymentNodeID *string) error {
	now := e.now().UTC()

	if _, err := e.docs.Patch(ctx, e.docs.DocName(CollectionBots, botID), map[string]fsval.Value{
		FieldBotStatus:      fsval.String(status),
		FieldBotLastUpdated: fsval.Timestamp(now),
	}, []string{FieldBotStatus, FieldBotLastUpdated}); err != nil {
		return fmt.Errorf("patching bot %s: %w", botID, err)
	}

	if err := e.tree.Patch(ctx, rtBotsRoot+"/"+botID, map[string]any{
		rtKeyStatus:            status,
		rtKeyCurrentSchedule:   strOrNil(scheduleID),
		rtKeyCurrentDeployment: strOrNil(deploymentNodeID),
		rtKeyLastUpdated:       isoTime(now),
	}); err != nil {
		return fmt.Errorf("patching realtime bot %s: %w", botID, err)
	}
	return nil
}

// ensureDeployment creates the durable deployment record unless it already
// exists. Creation is conditional on non-existence: if a concurrent creator
// won the race, the existing record is accepted silently.
func (e *Engine) ensureDeployment(ctx context.Context, deploymentID, scheduleID, botID string, now time.Time) error {
	_, err := e.docs.Get(ctx, CollectionDeployments, deploymentID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, firestore.ErrNotFound) {
		return err
	}

	_, err = e.docs.Create(ctx, CollectionDeployments, deploymentID, map[string]fsval.Value{
		FieldDeploymentScheduleID: fsval.String(scheduleID),
		FieldDeploymentBotID:      fsval.String(botID),
		FieldDeploymentStatus:     fsval.String(StatusActive),
		FieldDeploymentCreatedAt:  fsval.Timestamp(now),
		FieldDeploymentStartedAt:  fsval.Timestamp(now),
	})
	if errors.Is(err, firestore.ErrAlreadyExists) {
		return nil
	}
	return err
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
