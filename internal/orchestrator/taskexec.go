package orchestrator

import "time"

// Task execution statuses. A row is terminal in success, failure, skipped
// or budget_exceeded; pending, running and retry are open states.
const (
	StatusPending        = "pending"
	StatusRunning        = "running"
	StatusSuccess        = "success"
	StatusFailure        = "failure"
	StatusRetry          = "retry"
	StatusSkipped        = "skipped"
	StatusBudgetExceeded = "budget_exceeded"
)

// TaskExecution is the persisted audit record of one dispatch attempt
// chain for an article.
type TaskExecution struct {
	ID            string     `json:"id"`
	ArticleID     string     `json:"articleId"`
	Status        string     `json:"status"`
	ErrorCategory string     `json:"errorCategory,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	RetryCount    int        `json:"retryCount"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	CostUSD       float64    `json:"costUsd"`
	WorkerID      string     `json:"workerId,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Open reports whether the task can still make progress.
func (t TaskExecution) Open() bool {
	switch t.Status {
	case StatusPending, StatusRunning, StatusRetry:
		return true
	}
	return false
}
