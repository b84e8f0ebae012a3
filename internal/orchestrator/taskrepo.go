package orchestrator

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound indicates no task execution exists for the lookup.
var ErrTaskNotFound = errors.New("task execution not found")

// TaskRepo persists task executions.
type TaskRepo interface {
	Create(ctx context.Context, task TaskExecution) error
	GetByID(ctx context.Context, id string) (TaskExecution, error)
	MarkRunning(ctx context.Context, id, workerID string, startedAt time.Time) error
	// MarkTerminal closes the task and adds costUSD to its accumulated spend.
	MarkTerminal(ctx context.Context, id, status, errorCategory, errorMessage string, costUSD float64, completedAt time.Time) error
	// ScheduleRetry moves the task to retry, bumps the attempt counter and
	// adds the failed attempt's cost.
	ScheduleRetry(ctx context.Context, id, errorCategory, errorMessage string, costUSD float64, nextAttemptAt time.Time) error
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]TaskExecution, error)
	// ListStale returns pending or running tasks untouched since the cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]TaskExecution, error)
	HasOpenTask(ctx context.Context, articleID string) (bool, error)
	CountByStatus(ctx context.Context, since time.Time) (map[string]int, error)
	CountActive(ctx context.Context) (int, error)
}
