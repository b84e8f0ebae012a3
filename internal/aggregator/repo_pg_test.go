package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGRepoUpsertPatternBindsTextFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	pattern := EmergingPattern{
		ID:                 "11111111-2222-3333-4444-555555555555",
		Theme:              "custody adoption",
		PatternType:        "cross_publisher",
		Description:        "institutional custody adoption accelerating",
		Confidence:         0.78,
		MarketSignificance: 0.71,
		SupportingResults:  []string{"analysis-1", "analysis-2"},
		SignalCount:        5,
		Publishers:         []string{"CoinDesk", "The Block"},
		CrossPublisher:     true,
		ValidationSources:  []string{"https://example.com/a"},
		LifecycleStage:     StageEmerging,
		Implications:       "custody rails likely to consolidate",
		FirstDetectedAt:    now,
		LastUpdatedAt:      now,
	}

	// Implications and catalysts are prose columns; they must be bound as
	// plain strings (catalysts may be empty) while the list columns carry
	// JSON payloads.
	mock.ExpectExec("INSERT INTO emerging_patterns").
		WithArgs(
			pattern.ID, pattern.Theme, pattern.PatternType, pattern.Description,
			pattern.Confidence, pattern.MarketSignificance,
			[]byte(`["analysis-1","analysis-2"]`), pattern.SignalCount,
			[]byte(`["CoinDesk","The Block"]`), pattern.CrossPublisher,
			[]byte(`["https://example.com/a"]`), pattern.LifecycleStage,
			nil, "custody rails likely to consolidate", "",
			pattern.FirstDetectedAt, pattern.LastUpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpsertPattern(context.Background(), pattern); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpsertTrendBindsTextFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	trend := EmergingTrend{
		ID:                 "66666666-7777-8888-9999-aaaaaaaaaaaa",
		Theme:              "adoption",
		Description:        "custody adoption trend across publishers",
		Direction:          "bullish",
		Confidence:         0.8,
		NewsletterPriority: 1,
		SupportingSignals:  5,
		Publishers:         []string{"CoinDesk", "Decrypt"},
		LifecycleStage:     StageDeveloping,
		FirstDetectedAt:    now,
		LastUpdatedAt:      now,
	}

	mock.ExpectExec("INSERT INTO emerging_trends").
		WithArgs(
			trend.ID, trend.Theme, trend.Description, trend.Direction,
			trend.Confidence, trend.NewsletterPriority, trend.SupportingSignals,
			[]byte(`["CoinDesk","Decrypt"]`), trend.LifecycleStage, "",
			trend.FirstDetectedAt, trend.LastUpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpsertTrend(context.Background(), trend); err != nil {
		t.Fatalf("UpsertTrend: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
