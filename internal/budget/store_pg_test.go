package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func ledgerColumns() []string {
	return []string{"day", "allocated_usd", "spent_usd", "reserved_usd", "completed_count", "failed_count", "emergency_stop", "emergency_stop_at"}
}

func TestPGStoreGetCreatesMissingDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT day, allocated_usd").
		WithArgs("2026-08-26").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()))
	mock.ExpectExec("INSERT INTO budget_ledger").
		WithArgs("2026-08-26", 15.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT day, allocated_usd").
		WithArgs("2026-08-26").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow(day, 15.0, 0.0, 0.0, 0, 0, false, nil))
	mock.ExpectCommit()

	ledger, err := store.Get(context.Background(), "2026-08-26", 15.0, 0.90)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ledger.AllocatedUSD != 15.0 || ledger.SpentUSD != 0 {
		t.Fatalf("unexpected fresh ledger: %+v", ledger)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreEnsureRowToleratesConcurrentInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	// Another process inserts the day between our empty select and our
	// insert: ON CONFLICT swallows the duplicate and the re-select locks
	// the row that won.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT day, allocated_usd").
		WithArgs("2026-08-26").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()))
	mock.ExpectExec("INSERT INTO budget_ledger").
		WithArgs("2026-08-26", 15.0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT day, allocated_usd").
		WithArgs("2026-08-26").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow(day, 15.0, 3.25, 0.25, 13, 1, false, nil))
	mock.ExpectCommit()

	ledger, err := store.Get(context.Background(), "2026-08-26", 15.0, 0.90)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ledger.SpentUSD != 3.25 || ledger.CompletedCount != 13 {
		t.Fatalf("expected the concurrently created row, got %+v", ledger)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreSettleEngagesStop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT day, allocated_usd").
		WithArgs("2026-08-26").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow(day, 15.0, 13.40, 0.25, 54, 2, false, nil))
	mock.ExpectExec("UPDATE budget_ledger").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 55, 2, true, sqlmock.AnyArg(), "2026-08-26").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ledger, err := store.Settle(context.Background(), "2026-08-26", 15.0, 0.25, 0.20, 0.90, false)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !ledger.EmergencyStop {
		t.Fatalf("expected stop engaged at %v spent", ledger.SpentUSD)
	}
	if ledger.ReservedUSD != 0 {
		t.Fatalf("expected reservation returned, got %v", ledger.ReservedUSD)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreReserveRejectsWhenExhausted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	// $0.20 left after spend and an outstanding reservation; nothing to
	// write, the transaction just closes.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT day, allocated_usd").
		WithArgs("2026-08-26").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow(day, 15.0, 14.50, 0.30, 58, 0, false, nil))
	mock.ExpectCommit()

	_, err = store.Reserve(context.Background(), "2026-08-26", 15.0, 0.25, 1.0)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGStoreGetEngagesStopAfterBudgetCut(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := NewPGStore(db)
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	// The operator cut the daily budget to $10 after $9.50 was spent; the
	// read path applies the new allocation and engages the stop without
	// waiting for the next spend.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT day, allocated_usd").
		WithArgs("2026-08-26").
		WillReturnRows(sqlmock.NewRows(ledgerColumns()).
			AddRow(day, 15.0, 9.50, 0.0, 38, 0, false, nil))
	mock.ExpectExec("UPDATE budget_ledger SET allocated_usd").
		WithArgs(10.0, "2026-08-26").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE budget_ledger SET emergency_stop").
		WithArgs(true, sqlmock.AnyArg(), "2026-08-26").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ledger, err := store.Get(context.Background(), "2026-08-26", 10.0, 0.90)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ledger.EmergencyStop {
		t.Fatalf("expected stop engaged after budget cut, got %+v", ledger)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
