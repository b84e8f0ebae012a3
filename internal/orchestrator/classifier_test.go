package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"signals-backend/internal/analysis"
	"signals-backend/internal/articles"
	"signals-backend/internal/budget"
)

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		BaseDelay:           30 * time.Second,
		MaxDelay:            15 * time.Minute,
		RetryCostCeilingUSD: 0.50,
	}
}

func TestClassifyTemporaryRetries(t *testing.T) {
	decision := Classify(errors.New("connection reset by peer"), 1, 0.10, testRetryPolicy())
	if decision.Category != CategoryTemporary || decision.Action != ActionRetry {
		t.Fatalf("expected TEMPORARY/RETRY, got %+v", decision)
	}
	if decision.Delay <= 0 {
		t.Fatalf("expected positive retry delay")
	}
}

func TestClassifyTemporaryExhaustsAttempts(t *testing.T) {
	decision := Classify(context.DeadlineExceeded, 3, 0.10, testRetryPolicy())
	if decision.Category != CategoryTemporary || decision.Action != ActionFail {
		t.Fatalf("expected TEMPORARY/FAIL at max attempts, got %+v", decision)
	}
}

func TestClassifyTemporaryCostCeiling(t *testing.T) {
	decision := Classify(errors.New("timeout waiting for response"), 1, 0.60, testRetryPolicy())
	if decision.Action != ActionFail {
		t.Fatalf("expected FAIL above retry cost ceiling, got %+v", decision)
	}
}

func TestClassifyBudgetDefers(t *testing.T) {
	for _, err := range []error{budget.ErrBudgetExhausted, budget.ErrEmergencyStop} {
		decision := Classify(err, 0, 0, testRetryPolicy())
		if decision.Category != CategoryBudget || decision.Action != ActionDefer {
			t.Fatalf("expected BUDGET/DEFER for %v, got %+v", err, decision)
		}
	}
}

func TestClassifyContentSkips(t *testing.T) {
	ineligible := &articles.IneligibleError{Reason: "body below minimum length"}
	decision := Classify(ineligible, 0, 0, testRetryPolicy())
	if decision.Category != CategoryContent || decision.Action != ActionSkip {
		t.Fatalf("expected CONTENT/SKIP, got %+v", decision)
	}

	decision = Classify(analysis.ErrAlreadyAnalyzed, 0, 0, testRetryPolicy())
	if decision.Action != ActionSkip {
		t.Fatalf("expected SKIP for already-analyzed article, got %+v", decision)
	}
}

func TestClassifySchemaMismatchPermanent(t *testing.T) {
	schemaErr := &analysis.SchemaError{Field: "sentiment", Reason: "has unknown value"}
	wrapped := &analysis.StageError{Stage: analysis.StageContent, CostUSD: 0.08, Err: schemaErr}

	decision := Classify(wrapped, 0, 0.08, testRetryPolicy())
	if decision.Category != CategoryPermanent || decision.Action != ActionFail {
		t.Fatalf("expected PERMANENT/FAIL on schema mismatch, got %+v", decision)
	}
}

func TestClassifyUnknownPermanent(t *testing.T) {
	decision := Classify(errors.New("invalid api key"), 0, 0, testRetryPolicy())
	if decision.Category != CategoryPermanent || decision.Action != ActionFail {
		t.Fatalf("expected PERMANENT/FAIL for unknown error, got %+v", decision)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := testRetryPolicy()
	prev := time.Duration(0)
	for attempt := 0; attempt < 4; attempt++ {
		d := Backoff(attempt, policy)
		if d < policy.BaseDelay<<uint(attempt) && policy.BaseDelay<<uint(attempt) <= policy.MaxDelay {
			t.Fatalf("attempt %d: delay %v below exponential floor", attempt, d)
		}
		if d > policy.MaxDelay+policy.MaxDelay/4 {
			t.Fatalf("attempt %d: delay %v exceeds cap with jitter", attempt, d)
		}
		if d < prev/2 {
			t.Fatalf("attempt %d: delay %v shrank unexpectedly from %v", attempt, d, prev)
		}
		prev = d
	}
}
