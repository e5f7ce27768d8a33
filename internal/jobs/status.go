package jobs

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a job may move from one status to another.
// Terminal statuses are final.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusFailed || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

type Kind string

const (
	KindGeneration Kind = "generation"
	KindPublish    Kind = "publish"
)

// ErrInterrupted is returned by an executor whose context was cancelled
// mid-run. The job keeps its in_progress status so a later delivery can
// finish it.
var ErrInterrupted = errors.New("job execution interrupted")

const persistTimeout = 10 * time.Second

// PersistContext returns a context for writing job results that outlives
// cancellation of ctx, bounded by a short timeout.
func PersistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
