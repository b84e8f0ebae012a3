package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGTaskRepo is a Postgres-backed task execution repository.
type PGTaskRepo struct {
	DB *sql.DB
}

var _ TaskRepo = (*PGTaskRepo)(nil)

const taskColumns = `id, article_id, status, error_category, error_message, retry_count,
next_attempt_at, cost_usd, worker_id, started_at, completed_at, created_at, updated_at`

// Create inserts a new task execution.
func (r *PGTaskRepo) Create(ctx context.Context, task TaskExecution) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO task_executions (id, article_id, status, retry_count, cost_usd, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		task.ID, task.ArticleID, task.Status, task.RetryCount, task.CostUSD, task.CreatedAt)
	return err
}

// GetByID returns one task execution.
func (r *PGTaskRepo) GetByID(ctx context.Context, id string) (TaskExecution, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+taskColumns+` FROM task_executions WHERE id = $1`, id)
	return scanTask(row.Scan)
}

// MarkRunning transitions an open task to running.
func (r *PGTaskRepo) MarkRunning(ctx context.Context, id, workerID string, startedAt time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE task_executions
SET status = $1, worker_id = $2, started_at = $3, updated_at = now()
WHERE id = $4 AND status IN ($5, $6)`,
		StatusRunning, workerID, startedAt, id, StatusPending, StatusRetry)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkTerminal closes the task with a terminal status.
func (r *PGTaskRepo) MarkTerminal(ctx context.Context, id, status, errorCategory, errorMessage string, costUSD float64, completedAt time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE task_executions
SET status = $1, error_category = NULLIF($2, ''), error_message = NULLIF($3, ''),
    cost_usd = cost_usd + $4, next_attempt_at = NULL, completed_at = $5, updated_at = now()
WHERE id = $6`,
		status, errorCategory, errorMessage, costUSD, completedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ScheduleRetry bumps the attempt counter and parks the task until
// nextAttemptAt.
func (r *PGTaskRepo) ScheduleRetry(ctx context.Context, id, errorCategory, errorMessage string, costUSD float64, nextAttemptAt time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE task_executions
SET status = $1, error_category = $2, error_message = $3,
    retry_count = retry_count + 1, cost_usd = cost_usd + $4,
    next_attempt_at = $5, updated_at = now()
WHERE id = $6`,
		StatusRetry, errorCategory, errorMessage, costUSD, nextAttemptAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListDueRetries returns retry tasks whose next attempt time has passed.
func (r *PGTaskRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]TaskExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+taskColumns+` FROM task_executions
WHERE status = $1 AND next_attempt_at <= $2
ORDER BY next_attempt_at ASC
LIMIT $3`, StatusRetry, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskExecution
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ListStale returns pending or running tasks untouched since the cutoff,
// oldest first.
func (r *PGTaskRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]TaskExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+taskColumns+` FROM task_executions
WHERE status IN ($1, $2) AND updated_at < $3
ORDER BY updated_at ASC
LIMIT $4`, StatusPending, StatusRunning, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskExecution
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// HasOpenTask reports whether the article already has a pending, running or
// retry task.
func (r *PGTaskRepo) HasOpenTask(ctx context.Context, articleID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM task_executions
  WHERE article_id = $1 AND status IN ($2, $3, $4)
)`, articleID, StatusPending, StatusRunning, StatusRetry).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CountByStatus returns task counts per status updated since the cutoff.
func (r *PGTaskRepo) CountByStatus(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT status, COUNT(*) FROM task_executions
WHERE updated_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CountActive returns the number of running tasks.
func (r *PGTaskRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM task_executions WHERE status = $1`, StatusRunning).Scan(&n)
	return n, err
}

func scanTask(scan func(dest ...any) error) (TaskExecution, error) {
	var t TaskExecution
	var errorCategory, errorMessage, workerID sql.NullString
	var nextAttemptAt, startedAt, completedAt sql.NullTime
	err := scan(
		&t.ID, &t.ArticleID, &t.Status, &errorCategory, &errorMessage, &t.RetryCount,
		&nextAttemptAt, &t.CostUSD, &workerID, &startedAt, &completedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskExecution{}, ErrTaskNotFound
		}
		return TaskExecution{}, err
	}
	t.ErrorCategory = errorCategory.String
	t.ErrorMessage = errorMessage.String
	t.WorkerID = workerID.String
	if nextAttemptAt.Valid {
		v := nextAttemptAt.Time
		t.NextAttemptAt = &v
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return t, nil
}
