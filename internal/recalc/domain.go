// Package recalc owns the deferred recalculation queue: durable work items
// asking for an item's derived stock snapshot to be rebuilt, deduplicated by
// (company, item type, item code, date) and consumed outside the write path.
package recalc

import (
	"errors"
	"time"
)

// Status is the queue item state machine: PENDING → PROCESSING → DONE, with
// PROCESSING → FAILED → PENDING as the retry path.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// QueueItem is one deduplicated unit of deferred recalculation work.
type QueueItem struct {
	ID         int64
	CompanyID  int64
	ItemType   string
	ItemCode   string
	RecalcDate time.Time
	Status     Status
	Priority   int
	Reason     string
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	LastError  string
}

// ErrEmpty indicates no claimable work.
var ErrEmpty = errors.New("recalc: queue empty")

// ErrInvalidTransition guards the state machine.
var ErrInvalidTransition = errors.New("recalc: invalid status transition")

// CanTransition reports whether moving from to next is legal.
func CanTransition(from, next Status) bool {
	switch from {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusDone || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	case StatusDone:
		return next == StatusPending
	}
	return false
}
