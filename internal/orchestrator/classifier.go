// Package orchestrator owns task dispatch: budget gating, concurrency
// limits, retry scheduling and the audit trail of task executions.
package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"signals-backend/internal/analysis"
	"signals-backend/internal/articles"
	"signals-backend/internal/budget"
)

// Failure categories.
const (
	CategoryTemporary = "TEMPORARY"
	CategoryPermanent = "PERMANENT"
	CategoryBudget    = "BUDGET"
	CategoryContent   = "CONTENT"
)

// Actions the dispatch loop takes on a classified failure.
const (
	ActionRetry = "RETRY"
	ActionDefer = "DEFER"
	ActionFail  = "FAIL"
	ActionSkip  = "SKIP"
)

// Decision is the classifier's verdict on one failure.
type Decision struct {
	Category string
	Action   string
	Delay    time.Duration
}

// RetryPolicy bounds retries by attempt count and accumulated spend.
type RetryPolicy struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RetryCostCeilingUSD float64
}

// DefaultRetryPolicy returns the standard policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		BaseDelay:           30 * time.Second,
		MaxDelay:            15 * time.Minute,
		RetryCostCeilingUSD: 0.50,
	}
}

// Classify maps a task failure to a category and an action. attempt is the
// number of attempts already made; costSoFarUSD is the task's accumulated
// spend including the failed attempt.
func Classify(err error, attempt int, costSoFarUSD float64, policy RetryPolicy) Decision {
	if err == nil {
		return Decision{Category: CategoryPermanent, Action: ActionFail}
	}

	if errors.Is(err, budget.ErrBudgetExhausted) || errors.Is(err, budget.ErrEmergencyStop) {
		return Decision{Category: CategoryBudget, Action: ActionDefer}
	}

	var ineligible *articles.IneligibleError
	if errors.As(err, &ineligible) {
		return Decision{Category: CategoryContent, Action: ActionSkip}
	}
	if errors.Is(err, analysis.ErrAlreadyAnalyzed) {
		return Decision{Category: CategoryContent, Action: ActionSkip}
	}

	var schemaErr *analysis.SchemaError
	if errors.As(err, &schemaErr) {
		return Decision{Category: CategoryPermanent, Action: ActionFail}
	}
	if errors.Is(err, articles.ErrNotFound) {
		return Decision{Category: CategoryPermanent, Action: ActionFail}
	}

	if isTemporary(err) {
		if attempt >= policy.MaxAttempts {
			return Decision{Category: CategoryTemporary, Action: ActionFail}
		}
		if policy.RetryCostCeilingUSD > 0 && costSoFarUSD >= policy.RetryCostCeilingUSD {
			return Decision{Category: CategoryTemporary, Action: ActionFail}
		}
		return Decision{
			Category: CategoryTemporary,
			Action:   ActionRetry,
			Delay:    Backoff(attempt, policy),
		}
	}

	return Decision{Category: CategoryPermanent, Action: ActionFail}
}

// Backoff returns the delay before the next attempt: exponential on the
// attempt number, jittered by up to 25%, capped at MaxDelay.
func Backoff(attempt int, policy RetryPolicy) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := policy.BaseDelay << uint(attempt)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func isTemporary(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return true
	}
	if strings.Contains(msg, "timeout") {
		return true
	}
	if strings.Contains(msg, "store analysis result") ||
		strings.Contains(msg, "check existing result") ||
		strings.Contains(msg, "database") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}
	return false
}
