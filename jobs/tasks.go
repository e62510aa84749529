package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockRecalcDrain wakes the worker to drain the stock recalc queue.
	TaskStockRecalcDrain = "stock:recalc_drain"
	// TaskStockRecalcRetry requeues FAILED recalc items for another attempt.
	TaskStockRecalcRetry = "stock:recalc_retry"
)

// StockRecalcDrainPayload bounds one drain pass.
type StockRecalcDrainPayload struct {
	MaxItems int `json:"max_items"`
}

// StockRecalcRetryPayload selects which failures to requeue.
type StockRecalcRetryPayload struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

// NewStockRecalcDrainTask constructs an Asynq task for a drain pass.
func NewStockRecalcDrainTask(maxItems int) (*asynq.Task, error) {
	body, err := json.Marshal(StockRecalcDrainPayload{MaxItems: maxItems})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRecalcDrain, body, asynq.Queue(QueueDefault)), nil
}

// NewStockRecalcRetryTask constructs an Asynq task for the retry sweep.
func NewStockRecalcRetryTask(olderThanMinutes int) (*asynq.Task, error) {
	body, err := json.Marshal(StockRecalcRetryPayload{OlderThanMinutes: olderThanMinutes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRecalcRetry, body, asynq.Queue(QueueDefault)), nil
}
