package recalc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/arjuna-wms/arjuna-wms/internal/jobs"
	"github.com/arjuna-wms/arjuna-wms/jobs"
)

// DrainJob processes queue drain tasks delivered by asynq. The asynq task is
// only a wake-up: the durable work list lives in stock_recalc_queue.
type DrainJob struct {
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewDrainJob constructs a job handler.
func NewDrainJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *DrainJob {
	return &DrainJob{service: service, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *DrainJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.StockRecalcDrainPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("stock_recalc_drain")

	processed, err := j.service.Drain(ctx, payload.MaxItems)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("recalc drain", slog.Any("error", err))
		}
		return tracker.End(err)
	}
	j.metrics.AddItems("stock_recalc_drain", "done", processed)
	if j.logger != nil && processed > 0 {
		j.logger.Info("recalc drain", slog.Int("processed", processed))
	}
	return tracker.End(nil)
}

// RetryJob requeues FAILED items on a cron schedule.
type RetryJob struct {
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewRetryJob constructs the retry handler.
func NewRetryJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *RetryJob {
	return &RetryJob{service: service, metrics: metrics, logger: logger}
}

// Handle resets stale failures and triggers a drain pass.
func (j *RetryJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.StockRecalcRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	olderThan := time.Duration(payload.OlderThanMinutes) * time.Minute
	if olderThan <= 0 {
		olderThan = 15 * time.Minute
	}
	tracker := j.metrics.Track("stock_recalc_retry")

	released, err := j.service.RetryFailed(ctx, olderThan)
	if err != nil {
		return tracker.End(err)
	}
	if released > 0 {
		j.metrics.AddItems("stock_recalc_retry", "released", int(released))
		if j.logger != nil {
			j.logger.Info("recalc retry", slog.Int64("released", released))
		}
		if _, err := j.service.Drain(ctx, int(released)); err != nil {
			return tracker.End(err)
		}
	}
	return tracker.End(nil)
}
