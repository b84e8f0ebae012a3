package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryTaskRepo keeps task executions in memory.
type MemoryTaskRepo struct {
	mu   sync.RWMutex
	byID map[string]TaskExecution
}

var _ TaskRepo = (*MemoryTaskRepo)(nil)

// NewMemoryTaskRepo constructs a MemoryTaskRepo.
func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{byID: make(map[string]TaskExecution)}
}

func (r *MemoryTaskRepo) Create(ctx context.Context, task TaskExecution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task.UpdatedAt = task.CreatedAt
	r.byID[task.ID] = task
	return nil
}

func (r *MemoryTaskRepo) GetByID(ctx context.Context, id string) (TaskExecution, error) {
	if err := ctx.Err(); err != nil {
		return TaskExecution{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.byID[id]
	if !ok {
		return TaskExecution{}, ErrTaskNotFound
	}
	return task, nil
}

func (r *MemoryTaskRepo) MarkRunning(ctx context.Context, id, workerID string, startedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[id]
	if !ok || (task.Status != StatusPending && task.Status != StatusRetry) {
		return ErrTaskNotFound
	}
	task.Status = StatusRunning
	task.WorkerID = workerID
	task.StartedAt = &startedAt
	task.UpdatedAt = time.Now().UTC()
	r.byID[id] = task
	return nil
}

func (r *MemoryTaskRepo) MarkTerminal(ctx context.Context, id, status, errorCategory, errorMessage string, costUSD float64, completedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = status
	task.ErrorCategory = errorCategory
	task.ErrorMessage = errorMessage
	task.CostUSD += costUSD
	task.NextAttemptAt = nil
	task.CompletedAt = &completedAt
	task.UpdatedAt = time.Now().UTC()
	r.byID[id] = task
	return nil
}

func (r *MemoryTaskRepo) ScheduleRetry(ctx context.Context, id, errorCategory, errorMessage string, costUSD float64, nextAttemptAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusRetry
	task.ErrorCategory = errorCategory
	task.ErrorMessage = errorMessage
	task.RetryCount++
	task.CostUSD += costUSD
	task.NextAttemptAt = &nextAttemptAt
	task.UpdatedAt = time.Now().UTC()
	r.byID[id] = task
	return nil
}

func (r *MemoryTaskRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]TaskExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	var out []TaskExecution
	for _, task := range r.byID {
		if task.Status == StatusRetry && task.NextAttemptAt != nil && !task.NextAttemptAt.After(now) {
			out = append(out, task)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryTaskRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]TaskExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	var out []TaskExecution
	for _, task := range r.byID {
		if (task.Status == StatusPending || task.Status == StatusRunning) && task.UpdatedAt.Before(cutoff) {
			out = append(out, task)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryTaskRepo) HasOpenTask(ctx context.Context, articleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, task := range r.byID {
		if task.ArticleID == articleID && task.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryTaskRepo) CountByStatus(ctx context.Context, since time.Time) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, task := range r.byID {
		if !task.UpdatedAt.Before(since) {
			counts[task.Status]++
		}
	}
	return counts, nil
}

func (r *MemoryTaskRepo) CountActive(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, task := range r.byID {
		if task.Status == StatusRunning {
			n++
		}
	}
	return n, nil
}
