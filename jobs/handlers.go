package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DepletionProcessor posts a pending depletion.
type DepletionProcessor interface {
	ProcessDepletion(ctx context.Context, orgID, id uuid.UUID) (documents.Depletion, error)
}

// LotExpirer sweeps expired lots.
type LotExpirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// BranchLister enumerates branches across orgs.
type BranchLister interface {
	ListAllBranches(ctx context.Context) ([]catalog.Branch, error)
}

// ForecastGenerator writes forecast snapshots.
type ForecastGenerator interface {
	GenerateForecastSnapshot(ctx context.Context, actor shared.Principal, req reorder.ForecastRequest) (reorder.ForecastResult, error)
}

// IdempotencyCleaner prunes old idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Handlers holds the task handlers of the inventory worker.
type Handlers struct {
	Depletions  DepletionProcessor
	Lots        LotExpirer
	Branches    BranchLister
	Forecasts   ForecastGenerator
	Idempotency IdempotencyCleaner
	// Retention is how long idempotency keys are kept.
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// TaskHandlers lists every handler for NewWorker.
func (h *Handlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskDepletionProcess, Handler: h.HandleDepletion},
		{Type: TaskLotsExpire, Handler: h.HandleLotsExpire},
		{Type: TaskForecastRefresh, Handler: h.HandleForecastRefresh},
		{Type: TaskIdempotencyCleanup, Handler: h.HandleIdempotencyCleanup},
	}
}

// HandleDepletion processes one depletion. A FAILED outcome is persisted by the service and is not retried here.
func (h *Handlers) HandleDepletion(ctx context.Context, t *asynq.Task) (err error) {
	var payload DepletionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DepletionID == uuid.Nil {
		h.logger().Warn("depletion task with bad payload", slog.String("payload", string(t.Payload())))
		return asynq.SkipRetry
	}
	tracker := h.Metrics.Track(TaskDepletionProcess)
	defer func() { err = tracker.End(err) }()

	logger := h.logger().With(
		slog.String("org_id", payload.OrgID.String()),
		slog.String("depletion_id", payload.DepletionID.String()),
		slog.String("order_id", payload.OrderID))
	d, err := h.Depletions.ProcessDepletion(ctx, payload.OrgID, payload.DepletionID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		logger.Warn("depletion vanished before processing")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		logger.Error("depletion processing failed", slog.Any("error", err))
		return err
	}
	if d.Status == documents.StatusFailed {
		logger.Warn("depletion failed", slog.String("error_code", d.ErrorCode), slog.Int("attempts", d.Attempts))
		return nil
	}
	h.Metrics.AddProcessed(TaskDepletionProcess, 1)
	logger.Info("depletion processed", slog.String("status", string(d.Status)))
	return nil
}

// HandleLotsExpire marks due lots EXPIRED.
func (h *Handlers) HandleLotsExpire(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskLotsExpire)
	defer func() { err = tracker.End(err) }()

	n, err := h.Lots.ExpireDue(ctx)
	if err != nil {
		h.logger().Error("lot expiry sweep failed", slog.Any("error", err))
		return err
	}
	h.Metrics.AddProcessed(TaskLotsExpire, n)
	h.logger().Info("lot expiry sweep finished", slog.Int("expired", n))
	return nil
}

// HandleForecastRefresh snapshots forecasts for every branch. One failing branch does not stop the rest.
func (h *Handlers) HandleForecastRefresh(ctx context.Context, t *asynq.Task) (err error) {
	payload := ForecastRefreshPayload{WindowDays: 28, HorizonDays: 7}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.WindowDays == 0 {
		payload.WindowDays = 28
	}
	if payload.HorizonDays == 0 {
		payload.HorizonDays = 7
	}
	tracker := h.Metrics.Track(TaskForecastRefresh)
	defer func() { err = tracker.End(err) }()

	branches, err := h.Branches.ListAllBranches(ctx)
	if err != nil {
		return err
	}
	var (
		errs    []error
		created int
	)
	for _, b := range branches {
		res, err := h.Forecasts.GenerateForecastSnapshot(ctx, shared.SystemPrincipal(b.OrgID), reorder.ForecastRequest{
			BranchID:    b.ID,
			WindowDays:  payload.WindowDays,
			HorizonDays: payload.HorizonDays,
		})
		if err != nil {
			h.logger().Error("forecast refresh failed",
				slog.String("org_id", b.OrgID.String()), slog.String("branch_id", b.ID.String()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("branch %s: %w", b.ID, err))
			continue
		}
		created += res.Created
	}
	h.Metrics.AddProcessed(TaskForecastRefresh, created)
	h.logger().Info("forecast refresh finished",
		slog.Int("branches", len(branches)), slog.Int("created", created), slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// HandleIdempotencyCleanup removes keys older than the retention window.
func (h *Handlers) HandleIdempotencyCleanup(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	retention := h.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if err := h.Idempotency.Cleanup(ctx, retention); err != nil {
		h.logger().Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	return nil
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
