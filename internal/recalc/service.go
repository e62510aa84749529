package recalc

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// QueueStore abstracts queue persistence for the consumer.
type QueueStore interface {
	ClaimNext(ctx context.Context) (QueueItem, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	ReleaseForRetry(ctx context.Context, olderThan time.Duration) (int64, error)
	PendingCount(ctx context.Context) (int64, error)
}

// SnapshotRecalculator performs the actual derived-state rebuild. Implemented
// by the ledger service; declared here so this package stays import-free of it.
type SnapshotRecalculator interface {
	RecalculateSnapshot(ctx context.Context, companyID int64, itemCode string, from time.Time) (int, error)
}

// Service drains the queue: claim, recalculate, transition.
type Service struct {
	store  QueueStore
	recalc SnapshotRecalculator
	logger *slog.Logger
}

// NewService builds the consumer service.
func NewService(store QueueStore, recalc SnapshotRecalculator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, recalc: recalc, logger: logger}
}

// Drain processes up to max items, most urgent first, and returns how many
// completed. Failures are recorded on the item and do not stop the drain.
func (s *Service) Drain(ctx context.Context, max int) (int, error) {
	if max <= 0 {
		max = 100
	}
	done := 0
	for i := 0; i < max; i++ {
		item, err := s.store.ClaimNext(ctx)
		if errors.Is(err, ErrEmpty) {
			return done, nil
		}
		if err != nil {
			return done, err
		}

		touched, err := s.recalc.RecalculateSnapshot(ctx, item.CompanyID, item.ItemCode, item.RecalcDate)
		if err != nil {
			s.logger.Error("recalc item",
				slog.String("item_code", item.ItemCode),
				slog.String("date", item.RecalcDate.Format("2006-01-02")),
				slog.Any("error", err))
			if ferr := s.store.MarkFailed(ctx, item.ID, err.Error()); ferr != nil {
				return done, ferr
			}
			continue
		}
		if err := s.store.MarkDone(ctx, item.ID); err != nil {
			return done, err
		}
		done++
		s.logger.Info("recalc item done",
			slog.String("item_code", item.ItemCode),
			slog.Int("entries_touched", touched),
			slog.Int("priority", item.Priority))
	}
	return done, nil
}

// RetryFailed resets FAILED items older than olderThan back to PENDING.
func (s *Service) RetryFailed(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.ReleaseForRetry(ctx, olderThan)
}

// Backlog reports the PENDING depth.
func (s *Service) Backlog(ctx context.Context) (int64, error) {
	return s.store.PendingCount(ctx)
}
