package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDelegationSweep prunes delegations that expired or were revoked
	// longer ago than the retention window.
	TaskDelegationSweep = "delegations:sweep"
)

// DelegationSweepPayload carries the retention window for a sweep run.
type DelegationSweepPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewDelegationSweepTask constructs an Asynq task.
func NewDelegationSweepTask(payload DelegationSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDelegationSweep, data), nil
}

// DelegationSweeper deletes inactive delegation rows older than the retention.
type DelegationSweeper interface {
	SweepInactive(ctx context.Context, retention time.Duration) (int64, error)
}

// JobRecorder counts job outcomes for metrics.
type JobRecorder interface {
	RecordJob(jobType, result string)
}

// NewDelegationSweepHandler builds the handler for TaskDelegationSweep tasks.
func NewDelegationSweepHandler(sweeper DelegationSweeper, recorder JobRecorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DelegationSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			return asynq.SkipRetry
		}
		removed, err := sweeper.SweepInactive(ctx, payload.Retention)
		if err != nil {
			if recorder != nil {
				recorder.RecordJob(TaskDelegationSweep, "error")
			}
			logger.Error("delegation sweep", slog.Any("error", err))
			return err
		}
		if recorder != nil {
			recorder.RecordJob(TaskDelegationSweep, "ok")
		}
		logger.Info("delegation sweep", slog.Int64("removed", removed))
		return nil
	}
}
