package budget

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func testSettings() Settings {
	return Settings{DailyBudgetUSD: 15, PerAnalysisUSD: 0.25, StopFraction: 0.90}
}

func TestCheckBudgetFundsAnalyses(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	ledger, err := svc.CheckBudget(ctx)
	if err != nil {
		t.Fatalf("expected fresh day to fund analysis, got: %v", err)
	}
	if ledger.AllocatedUSD != 15 {
		t.Fatalf("expected allocation 15, got %v", ledger.AllocatedUSD)
	}
	if ledger.RemainingUSD() != 15 {
		t.Fatalf("expected full budget remaining, got %v", ledger.RemainingUSD())
	}
}

func TestBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Settings{DailyBudgetUSD: 1.0, PerAnalysisUSD: 0.25, StopFraction: 1.0})

	// Spend down to $0.20 remaining, below one analysis allowance.
	if _, err := svc.RecordSpend(ctx, 0.80, false); err != nil {
		t.Fatalf("record spend: %v", err)
	}
	_, err := svc.CheckBudget(ctx)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got: %v", err)
	}
}

func TestEmergencyStopAtFraction(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	// $13.40 is below the $13.50 stop line.
	if _, err := svc.RecordSpend(ctx, 13.40, false); err != nil {
		t.Fatalf("record spend: %v", err)
	}
	if _, err := svc.CheckBudget(ctx); err != nil {
		t.Fatalf("expected budget still open below stop line, got: %v", err)
	}

	// Crossing $13.50 engages the stop even though $1.35 remains.
	ledger, err := svc.RecordSpend(ctx, 0.20, false)
	if err != nil {
		t.Fatalf("record spend: %v", err)
	}
	if !ledger.EmergencyStop {
		t.Fatalf("expected emergency stop at 90%% utilization, spent=%v", ledger.SpentUSD)
	}
	if ledger.EmergencyStopAt == nil {
		t.Fatalf("expected emergency stop timestamp")
	}

	_, err = svc.CheckBudget(ctx)
	if !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected ErrEmergencyStop, got: %v", err)
	}
}

func TestEmergencyStopOnBudgetCut(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	// Well under the $13.50 stop line for a $15 budget.
	if _, err := svc.RecordSpend(ctx, 10.0, false); err != nil {
		t.Fatalf("record spend: %v", err)
	}
	if _, err := svc.CheckBudget(ctx); err != nil {
		t.Fatalf("expected budget open before the cut, got: %v", err)
	}

	// Cutting the daily budget to $10 puts existing spend past the stop
	// line; the next check must engage the stop, not the next spend.
	svc.UpdateSettings(Settings{DailyBudgetUSD: 10})
	_, err := svc.CheckBudget(ctx)
	if !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected ErrEmergencyStop after budget cut, got: %v", err)
	}

	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.EmergencyStop || status.EmergencyStopAt == nil {
		t.Fatalf("expected persisted stop, got %+v", status.Ledger)
	}
}

func TestReserveBoundsConcurrentDispatch(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Settings{DailyBudgetUSD: 1.0, PerAnalysisUSD: 0.30, StopFraction: 1.0})

	if _, err := svc.RecordSpend(ctx, 0.70, false); err != nil {
		t.Fatalf("record spend: %v", err)
	}

	// Only one reservation fits into the remaining $0.30.
	ledger, err := svc.Reserve(ctx)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if math.Abs(ledger.ReservedUSD-0.30) > 1e-9 {
		t.Fatalf("expected 0.30 reserved, got %v", ledger.ReservedUSD)
	}
	if _, err := svc.Reserve(ctx); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected second reserve rejected, got: %v", err)
	}

	// Settling replaces the reservation with the actual cost.
	ledger, err = svc.Settle(ctx, 0.28, false)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if ledger.ReservedUSD != 0 {
		t.Fatalf("expected reservation returned, got %v", ledger.ReservedUSD)
	}
	if math.Abs(ledger.SpentUSD-0.98) > 1e-9 {
		t.Fatalf("expected 0.98 spent, got %v", ledger.SpentUSD)
	}
}

func TestReleaseReturnsReservation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	if _, err := svc.Reserve(ctx); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	ledger, err := svc.Release(ctx)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if ledger.ReservedUSD != 0 || ledger.SpentUSD != 0 {
		t.Fatalf("expected untouched ledger after release, got %+v", ledger)
	}
	if ledger.CompletedCount != 0 || ledger.FailedCount != 0 {
		t.Fatalf("release must not count an analysis, got %+v", ledger)
	}
}

func TestEmergencyStopClearable(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	if _, err := svc.SetEmergencyStop(ctx, true); err != nil {
		t.Fatalf("engage stop: %v", err)
	}
	if _, err := svc.CheckBudget(ctx); !errors.Is(err, ErrEmergencyStop) {
		t.Fatalf("expected stop to block dispatch")
	}

	ledger, err := svc.SetEmergencyStop(ctx, false)
	if err != nil {
		t.Fatalf("clear stop: %v", err)
	}
	if ledger.EmergencyStop || ledger.EmergencyStopAt != nil {
		t.Fatalf("expected stop cleared, got %+v", ledger)
	}
	if _, err := svc.CheckBudget(ctx); err != nil {
		t.Fatalf("expected dispatch reopened, got: %v", err)
	}
}

func TestFailedSpendStillCounts(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	ledger, err := svc.RecordSpend(ctx, 0.12, true)
	if err != nil {
		t.Fatalf("record spend: %v", err)
	}
	if ledger.FailedCount != 1 || ledger.CompletedCount != 0 {
		t.Fatalf("expected one failed analysis, got %+v", ledger)
	}
	if math.Abs(ledger.SpentUSD-0.12) > 1e-9 {
		t.Fatalf("expected failed cost to count against budget, got %v", ledger.SpentUSD)
	}
}

func TestDayRollover(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	day := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }

	if _, err := svc.RecordSpend(ctx, 14.0, false); err != nil {
		t.Fatalf("record spend: %v", err)
	}
	if _, err := svc.CheckBudget(ctx); err == nil {
		t.Fatalf("expected yesterday's ledger to be stopped or exhausted")
	}

	svc.now = func() time.Time { return day.Add(2 * time.Hour) }
	ledger, err := svc.CheckBudget(ctx)
	if err != nil {
		t.Fatalf("expected fresh ledger after midnight, got: %v", err)
	}
	if ledger.SpentUSD != 0 {
		t.Fatalf("expected zero spend on new day, got %v", ledger.SpentUSD)
	}
}

func TestUpdateSettingsApplies(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testSettings())

	svc.UpdateSettings(Settings{DailyBudgetUSD: 30})
	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.AllocatedUSD != 30 {
		t.Fatalf("expected updated allocation 30, got %v", status.AllocatedUSD)
	}
	if status.PerAnalysisUSD != 0.25 {
		t.Fatalf("expected per-analysis unchanged, got %v", status.PerAnalysisUSD)
	}
}

func TestConcurrentSpendIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc := NewService(Settings{DailyBudgetUSD: 100, PerAnalysisUSD: 0.25, StopFraction: 1.0})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordSpend(ctx, 0.25, false); err != nil {
				t.Errorf("record spend: %v", err)
			}
		}()
	}
	wg.Wait()

	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if math.Abs(status.SpentUSD-10.0) > 1e-9 {
		t.Fatalf("expected 40 spends of 0.25 to total 10.00, got %v", status.SpentUSD)
	}
	if status.CompletedCount != 40 {
		t.Fatalf("expected 40 completed, got %d", status.CompletedCount)
	}
}
