package budget

import (
	"context"
	"sync"
	"time"
)

type store interface {
	Get(ctx context.Context, day string, allocated, stopFraction float64) (Ledger, error)
	// Reserve sets amount aside atomically; it returns ErrEmergencyStop or
	// ErrBudgetExhausted when the ledger cannot fund it.
	Reserve(ctx context.Context, day string, allocated, amount, stopFraction float64) (Ledger, error)
	// Settle returns a prior reservation to the pool and records the actual
	// cost of the finished analysis.
	Settle(ctx context.Context, day string, allocated, release, amount, stopFraction float64, failed bool) (Ledger, error)
	// Release returns an unused reservation without touching spend.
	Release(ctx context.Context, day string, allocated, amount float64) (Ledger, error)
	SetEmergencyStop(ctx context.Context, day string, allocated float64, on bool) (Ledger, error)
}

// Service manages the daily ledger via an underlying store.
type Service struct {
	store store

	mu       sync.RWMutex
	settings Settings

	now func() time.Time
}

// NewService constructs a Service with an in-memory store.
func NewService(settings Settings) *Service {
	return newService(newMemoryStore(), settings)
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store, settings Settings) *Service {
	return newService(pgStore, settings)
}

func newService(s store, settings Settings) *Service {
	if settings.StopFraction <= 0 || settings.StopFraction > 1 {
		settings.StopFraction = 0.90
	}
	return &Service{store: s, settings: settings, now: time.Now}
}

// Settings returns the current budget settings.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings replaces the budget knobs. The new daily budget applies to
// today's ledger on the next check.
func (s *Service) UpdateSettings(settings Settings) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.DailyBudgetUSD > 0 {
		s.settings.DailyBudgetUSD = settings.DailyBudgetUSD
	}
	if settings.PerAnalysisUSD > 0 {
		s.settings.PerAnalysisUSD = settings.PerAnalysisUSD
	}
	if settings.StopFraction > 0 && settings.StopFraction <= 1 {
		s.settings.StopFraction = settings.StopFraction
	}
	return s.settings
}

// CheckBudget reports whether one more analysis can be funded today. It
// returns ErrEmergencyStop when the stop is engaged and ErrBudgetExhausted
// when the remaining budget is below the per-analysis allowance. Spend
// already past the stop fraction engages the stop here too, so a lowered
// daily budget takes effect on the next check rather than the next spend.
func (s *Service) CheckBudget(ctx context.Context) (Ledger, error) {
	settings := s.Settings()
	ledger, err := s.store.Get(ctx, s.today(), settings.DailyBudgetUSD, settings.StopFraction)
	if err != nil {
		return Ledger{}, err
	}
	if ledger.EmergencyStop {
		return ledger, ErrEmergencyStop
	}
	if ledger.RemainingUSD() < settings.PerAnalysisUSD {
		return ledger, ErrBudgetExhausted
	}
	return ledger, nil
}

// Reserve sets the per-analysis allowance aside for one dispatched analysis.
// The reservation counts against the remaining budget until Settle or
// Release returns it, which bounds overshoot to at most one in-flight
// analysis regardless of dispatch concurrency.
func (s *Service) Reserve(ctx context.Context) (Ledger, error) {
	settings := s.Settings()
	return s.store.Reserve(ctx, s.today(), settings.DailyBudgetUSD, settings.PerAnalysisUSD, settings.StopFraction)
}

// Settle swaps one reservation for the analysis's actual cost and bumps the
// completed or failed counter. Crossing the stop fraction engages the
// emergency stop.
func (s *Service) Settle(ctx context.Context, amountUSD float64, failed bool) (Ledger, error) {
	settings := s.Settings()
	return s.store.Settle(ctx, s.today(), settings.DailyBudgetUSD, settings.PerAnalysisUSD, amountUSD, settings.StopFraction, failed)
}

// Release returns one unused reservation to the pool, for dispatches that
// never ran.
func (s *Service) Release(ctx context.Context) (Ledger, error) {
	settings := s.Settings()
	return s.store.Release(ctx, s.today(), settings.DailyBudgetUSD, settings.PerAnalysisUSD)
}

// RecordSpend adds a completed or failed analysis's actual cost to today's
// ledger without a prior reservation. Crossing the stop fraction engages the
// emergency stop.
func (s *Service) RecordSpend(ctx context.Context, amountUSD float64, failed bool) (Ledger, error) {
	settings := s.Settings()
	return s.store.Settle(ctx, s.today(), settings.DailyBudgetUSD, 0, amountUSD, settings.StopFraction, failed)
}

// Status returns today's ledger with derived fields.
func (s *Service) Status(ctx context.Context) (Status, error) {
	settings := s.Settings()
	ledger, err := s.store.Get(ctx, s.today(), settings.DailyBudgetUSD, settings.StopFraction)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Ledger:         ledger,
		RemainingUSD:   ledger.RemainingUSD(),
		Utilization:    ledger.Utilization(),
		PerAnalysisUSD: settings.PerAnalysisUSD,
		CanAnalyze:     !ledger.EmergencyStop && ledger.RemainingUSD() >= settings.PerAnalysisUSD,
	}, nil
}

// SetEmergencyStop engages or clears today's emergency stop by hand.
func (s *Service) SetEmergencyStop(ctx context.Context, on bool) (Ledger, error) {
	settings := s.Settings()
	return s.store.SetEmergencyStop(ctx, s.today(), settings.DailyBudgetUSD, on)
}

func (s *Service) today() string {
	return s.now().UTC().Format(DayFormat)
}

// engageStop flips the emergency stop when spend has reached the stop
// fraction of the allocation. It reports whether the ledger changed.
func engageStop(l *Ledger, stopFraction float64) bool {
	if l.EmergencyStop || l.AllocatedUSD <= 0 || stopFraction <= 0 {
		return false
	}
	if l.SpentUSD >= stopFraction*l.AllocatedUSD {
		now := time.Now().UTC()
		l.EmergencyStop = true
		l.EmergencyStopAt = &now
		return true
	}
	return false
}
