package budget

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed ledger store.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db}
}

func (s *pgStore) Get(ctx context.Context, day string, allocated, stopFraction float64) (Ledger, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Ledger{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	l, err := s.lockAndEnsure(ctx, tx, day, allocated)
	if err != nil {
		return Ledger{}, err
	}
	if engageStop(&l, stopFraction) {
		if err = s.writeStop(ctx, tx, day, l); err != nil {
			return Ledger{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *pgStore) Reserve(ctx context.Context, day string, allocated, amount, stopFraction float64) (Ledger, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Ledger{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	l, err := s.lockAndEnsure(ctx, tx, day, allocated)
	if err != nil {
		return Ledger{}, err
	}

	stopEngaged := engageStop(&l, stopFraction)
	var reserveErr error
	switch {
	case l.EmergencyStop:
		reserveErr = ErrEmergencyStop
	case l.RemainingUSD() < amount:
		reserveErr = ErrBudgetExhausted
	default:
		l.ReservedUSD += amount
	}

	if reserveErr == nil {
		if _, err = tx.ExecContext(ctx, `
UPDATE budget_ledger
SET reserved_usd = $1, emergency_stop = $2, emergency_stop_at = $3, updated_at = now()
WHERE day = $4`,
			l.ReservedUSD, l.EmergencyStop, l.EmergencyStopAt, day); err != nil {
			return Ledger{}, err
		}
	} else if stopEngaged {
		if err = s.writeStop(ctx, tx, day, l); err != nil {
			return Ledger{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return Ledger{}, err
	}
	return l, reserveErr
}

func (s *pgStore) Settle(ctx context.Context, day string, allocated, release, amount, stopFraction float64, failed bool) (Ledger, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Ledger{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	l, err := s.lockAndEnsure(ctx, tx, day, allocated)
	if err != nil {
		return Ledger{}, err
	}

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

	if _, err = tx.ExecContext(ctx, `
UPDATE budget_ledger
SET spent_usd = $1, reserved_usd = $2, completed_count = $3, failed_count = $4,
    emergency_stop = $5, emergency_stop_at = $6, updated_at = now()
WHERE day = $7`,
		l.SpentUSD, l.ReservedUSD, l.CompletedCount, l.FailedCount,
		l.EmergencyStop, l.EmergencyStopAt, day); err != nil {
		return Ledger{}, err
	}
	if err = tx.Commit(); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *pgStore) Release(ctx context.Context, day string, allocated, amount float64) (Ledger, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Ledger{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	l, err := s.lockAndEnsure(ctx, tx, day, allocated)
	if err != nil {
		return Ledger{}, err
	}
	l.ReservedUSD -= amount
	if l.ReservedUSD < 0 {
		l.ReservedUSD = 0
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE budget_ledger SET reserved_usd = $1, updated_at = now() WHERE day = $2`,
		l.ReservedUSD, day); err != nil {
		return Ledger{}, err
	}
	if err = tx.Commit(); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *pgStore) SetEmergencyStop(ctx context.Context, day string, allocated float64, on bool) (Ledger, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Ledger{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	l, err := s.lockAndEnsure(ctx, tx, day, allocated)
	if err != nil {
		return Ledger{}, err
	}
	l.EmergencyStop = on
	if on {
		now := time.Now().UTC()
		l.EmergencyStopAt = &now
	} else {
		l.EmergencyStopAt = nil
	}
	if err = s.writeStop(ctx, tx, day, l); err != nil {
		return Ledger{}, err
	}
	if err = tx.Commit(); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *pgStore) writeStop(ctx context.Context, tx *sql.Tx, day string, l Ledger) error {
	_, err := tx.ExecContext(ctx, `
UPDATE budget_ledger SET emergency_stop = $1, emergency_stop_at = $2, updated_at = now() WHERE day = $3`,
		l.EmergencyStop, l.EmergencyStopAt, day)
	return err
}

// lockAndEnsure locks today's row for the transaction, creating it first
// when the day has no row yet. Two processes can race to create the same
// day, so the insert tolerates a conflict and the row is re-locked after.
func (s *pgStore) lockAndEnsure(ctx context.Context, tx *sql.Tx, day string, allocated float64) (Ledger, error) {
	l, err := s.lockRow(ctx, tx, day)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Ledger{}, err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO budget_ledger (day, allocated_usd, spent_usd, reserved_usd, completed_count, failed_count, emergency_stop)
VALUES ($1, $2, 0, 0, 0, 0, FALSE)
ON CONFLICT (day) DO NOTHING`, day, allocated); err != nil {
			return Ledger{}, err
		}
		l, err = s.lockRow(ctx, tx, day)
		if err != nil {
			return Ledger{}, err
		}
	}
	if l.AllocatedUSD != allocated {
		l.AllocatedUSD = allocated
		if _, err := tx.ExecContext(ctx, `
UPDATE budget_ledger SET allocated_usd = $1, updated_at = now() WHERE day = $2`, allocated, day); err != nil {
			return Ledger{}, err
		}
	}
	return l, nil
}

func (s *pgStore) lockRow(ctx context.Context, tx *sql.Tx, day string) (Ledger, error) {
	var l Ledger
	var dayValue time.Time
	var stopAt sql.NullTime
	row := tx.QueryRowContext(ctx, `
SELECT day, allocated_usd, spent_usd, reserved_usd, completed_count, failed_count, emergency_stop, emergency_stop_at
FROM budget_ledger WHERE day = $1 FOR UPDATE`, day)
	err := row.Scan(&dayValue, &l.AllocatedUSD, &l.SpentUSD, &l.ReservedUSD, &l.CompletedCount, &l.FailedCount, &l.EmergencyStop, &stopAt)
	if err != nil {
		return Ledger{}, err
	}
	l.Day = dayValue.UTC().Format(DayFormat)
	if stopAt.Valid {
		t := stopAt.Time
		l.EmergencyStopAt = &t
	}
	return l, nil
}
