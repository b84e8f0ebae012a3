package budget

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu   sync.Mutex
	days map[string]Ledger
}

func newMemoryStore() *memoryStore {
	return &memoryStore{days: make(map[string]Ledger)}
}

func (s *memoryStore) Get(ctx context.Context, day string, allocated, stopFraction float64) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(day, allocated)
	engageStop(&l, stopFraction)
	s.days[day] = l
	return l, nil
}

func (s *memoryStore) Reserve(ctx context.Context, day string, allocated, amount, stopFraction float64) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(day, allocated)
	engageStop(&l, stopFraction)
	s.days[day] = l
	if l.EmergencyStop {
		return l, ErrEmergencyStop
	}
	if l.RemainingUSD() < amount {
		return l, ErrBudgetExhausted
	}
	l.ReservedUSD += amount
	s.days[day] = l
	return l, nil
}

func (s *memoryStore) Settle(ctx context.Context, day string, allocated, release, amount, stopFraction float64, failed bool) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(day, allocated)
	l.ReservedUSD -= release
	if l.ReservedUSD < 0 {
		l.ReservedUSD = 0
	}
	if amount > 0 {
		l.SpentUSD += amount
	}
	if failed {
		l.FailedCount++
	} else {
		l.CompletedCount++
	}
	engageStop(&l, stopFraction)
	s.days[day] = l
	return l, nil
}

func (s *memoryStore) Release(ctx context.Context, day string, allocated, amount float64) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(day, allocated)
	l.ReservedUSD -= amount
	if l.ReservedUSD < 0 {
		l.ReservedUSD = 0
	}
	s.days[day] = l
	return l, nil
}

func (s *memoryStore) SetEmergencyStop(ctx context.Context, day string, allocated float64, on bool) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.ensureLocked(day, allocated)
	l.EmergencyStop = on
	if on {
		now := time.Now().UTC()
		l.EmergencyStopAt = &now
	} else {
		l.EmergencyStopAt = nil
	}
	s.days[day] = l
	return l, nil
}

func (s *memoryStore) ensureLocked(day string, allocated float64) Ledger {
	l, ok := s.days[day]
	if !ok {
		l = Ledger{Day: day, AllocatedUSD: allocated}
	} else if l.AllocatedUSD != allocated {
		l.AllocatedUSD = allocated
	}
	s.days[day] = l
	return l
}
