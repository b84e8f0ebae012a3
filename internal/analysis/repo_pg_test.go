package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGRepoCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	result := AnalysisResult{
		ID:               "res-1",
		ArticleID:        "art-1",
		Version:          CurrentVersion,
		Sentiment:        SentimentBullish,
		ImpactScore:      0.7,
		Summary:          "summary",
		ValidationStatus: ValidationValidated,
		TokensUsed:       2100,
		CostUSD:          0.15,
		CreatedAt:        time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO analysis_results").
		WithArgs(
			result.ID,
			result.ArticleID,
			result.Version,
			result.Sentiment,
			result.ImpactScore,
			result.Summary,
			sqlmock.AnyArg(), // weak_signals
			sqlmock.AnyArg(), // pattern_anomalies
			sqlmock.AnyArg(), // adjacent_connections
			result.Confidence,
			result.SignalStrength,
			result.Uniqueness,
			result.ValidationStatus,
			result.ProcessingMs,
			result.TokensUsed,
			result.CostUSD,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), result); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	mock.ExpectExec("INSERT INTO analysis_results").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "analysis_results_article_id_version_key"`))

	err = repo.Create(context.Background(), AnalysisResult{ID: "res-1", ArticleID: "art-1", Version: 1})
	if !errors.Is(err, ErrAlreadyAnalyzed) {
		t.Fatalf("expected ErrAlreadyAnalyzed, got: %v", err)
	}
}

func TestPGRepoHasResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("art-1", CurrentVersion).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasResult(context.Background(), "art-1")
	if err != nil {
		t.Fatalf("HasResult: %v", err)
	}
	if !ok {
		t.Fatalf("expected existing result")
	}
}
