package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries scheduled housekeeping tasks.
	QueueDefault = "default"
	// QueueDepletion carries order-close depletions, served ahead of housekeeping.
	QueueDepletion = "depletion"

	// TaskDepletionProcess posts the SALE entries of one depletion.
	TaskDepletionProcess = "inventory:depletion.process"
	// TaskLotsExpire marks lots past their expiry date.
	TaskLotsExpire = "inventory:lots.expire"
	// TaskForecastRefresh regenerates forecast snapshots for every branch.
	TaskForecastRefresh = "inventory:forecast.refresh"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "inventory:idempotency.cleanup"
)

// DepletionPayload identifies one depletion record.
type DepletionPayload struct {
	OrgID       uuid.UUID `json:"org_id"`
	DepletionID uuid.UUID `json:"depletion_id"`
	OrderID     string    `json:"order_id"`
}

// NewDepletionTask builds the task for a pending depletion. The task id dedupes re-enqueues of the same record.
func NewDepletionTask(payload DepletionPayload, maxRetry int) (*asynq.Task, error) {
	if payload.OrgID == uuid.Nil || payload.DepletionID == uuid.Nil {
		return nil, errors.New("jobs: depletion payload requires org and depletion id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDepletionProcess, body,
		asynq.Queue(QueueDepletion),
		asynq.TaskID("depletion:"+payload.DepletionID.String()),
		asynq.MaxRetry(maxRetry),
	), nil
}

// ForecastRefreshPayload tunes the nightly forecast.
type ForecastRefreshPayload struct {
	WindowDays  int `json:"window_days"`
	HorizonDays int `json:"horizon_days"`
}

// NewForecastRefreshTask builds the nightly forecast task.
func NewForecastRefreshTask(payload ForecastRefreshPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskForecastRefresh, body, asynq.Queue(QueueDefault)), nil
}

// ScheduledPayload records when a cron task was meant to run.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLotsExpireTask builds the lot expiry sweep.
func NewLotsExpireTask() (*asynq.Task, error) {
	return scheduledTask(TaskLotsExpire)
}

// NewIdempotencyCleanupTask builds the idempotency key pruning task.
func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	return scheduledTask(TaskIdempotencyCleanup)
}

func scheduledTask(typ string) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}
