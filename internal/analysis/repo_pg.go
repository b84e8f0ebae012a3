package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PGRepo is a Postgres-backed analysis result repository.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const resultColumns = `id, article_id, version, sentiment, impact_score, summary,
weak_signals, pattern_anomalies, adjacent_connections,
confidence, signal_strength, uniqueness, validation_status,
processing_ms, tokens_used, cost_usd, created_at`

// Create inserts a result. A duplicate (article, version) pair returns
// ErrAlreadyAnalyzed.
func (r *PGRepo) Create(ctx context.Context, result AnalysisResult) error {
	signals, err := json.Marshal(result.WeakSignals)
	if err != nil {
		return fmt.Errorf("marshal weak signals: %w", err)
	}
	anomalies, err := json.Marshal(result.PatternAnomalies)
	if err != nil {
		return fmt.Errorf("marshal pattern anomalies: %w", err)
	}
	connections, err := json.Marshal(result.AdjacentConnections)
	if err != nil {
		return fmt.Errorf("marshal adjacent connections: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
INSERT INTO analysis_results (`+resultColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		result.ID,
		result.ArticleID,
		result.Version,
		result.Sentiment,
		result.ImpactScore,
		result.Summary,
		signals,
		anomalies,
		connections,
		result.Confidence,
		result.SignalStrength,
		result.Uniqueness,
		result.ValidationStatus,
		result.ProcessingMs,
		result.TokensUsed,
		result.CostUSD,
		result.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAlreadyAnalyzed
		}
		return err
	}
	return nil
}

// GetByID returns one result.
func (r *PGRepo) GetByID(ctx context.Context, id string) (AnalysisResult, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+resultColumns+` FROM analysis_results WHERE id = $1`, id)
	return scanResult(row)
}

// GetLatestByArticle returns the newest-version result for an article.
func (r *PGRepo) GetLatestByArticle(ctx context.Context, articleID string) (AnalysisResult, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+resultColumns+` FROM analysis_results
WHERE article_id = $1 ORDER BY version DESC LIMIT 1`, articleID)
	return scanResult(row)
}

// HasResult reports whether the article carries a result at the current
// version.
func (r *PGRepo) HasResult(ctx context.Context, articleID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM analysis_results WHERE article_id = $1 AND version = $2)`,
		articleID, CurrentVersion).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListWindow returns results created inside [from, to), joined with the
// article's publisher and publication time, newest analysis first.
func (r *PGRepo) ListWindow(ctx context.Context, from, to time.Time) ([]WindowResult, error) {
	cols := strings.Split(strings.ReplaceAll(resultColumns, "\n", " "), ",")
	for i, c := range cols {
		cols[i] = "ar." + strings.TrimSpace(c)
	}
	query := psql.
		Select(cols...).
		Columns("a.publisher", "a.published_at").
		From("analysis_results ar").
		Join("articles a ON a.id = ar.article_id").
		Where(sq.GtOrEq{"ar.created_at": from}).
		Where(sq.Lt{"ar.created_at": to}).
		OrderBy("ar.created_at DESC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WindowResult
	for rows.Next() {
		var w WindowResult
		var signals, anomalies, connections []byte
		if err := rows.Scan(
			&w.ID, &w.ArticleID, &w.Version, &w.Sentiment, &w.ImpactScore, &w.Summary,
			&signals, &anomalies, &connections,
			&w.Confidence, &w.SignalStrength, &w.Uniqueness, &w.ValidationStatus,
			&w.ProcessingMs, &w.TokensUsed, &w.CostUSD, &w.CreatedAt,
			&w.Publisher, &w.PublishedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalLists(&w.AnalysisResult, signals, anomalies, connections); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanResult(row *sql.Row) (AnalysisResult, error) {
	var result AnalysisResult
	var signals, anomalies, connections []byte
	err := row.Scan(
		&result.ID, &result.ArticleID, &result.Version, &result.Sentiment, &result.ImpactScore, &result.Summary,
		&signals, &anomalies, &connections,
		&result.Confidence, &result.SignalStrength, &result.Uniqueness, &result.ValidationStatus,
		&result.ProcessingMs, &result.TokensUsed, &result.CostUSD, &result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AnalysisResult{}, ErrNotFound
		}
		return AnalysisResult{}, err
	}
	if err := unmarshalLists(&result, signals, anomalies, connections); err != nil {
		return AnalysisResult{}, err
	}
	return result, nil
}

func unmarshalLists(result *AnalysisResult, signals, anomalies, connections []byte) error {
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &result.WeakSignals); err != nil {
			return fmt.Errorf("unmarshal weak signals: %w", err)
		}
	}
	if len(anomalies) > 0 {
		if err := json.Unmarshal(anomalies, &result.PatternAnomalies); err != nil {
			return fmt.Errorf("unmarshal pattern anomalies: %w", err)
		}
	}
	if len(connections) > 0 {
		if err := json.Unmarshal(connections, &result.AdjacentConnections); err != nil {
			return fmt.Errorf("unmarshal adjacent connections: %w", err)
		}
	}
	return nil
}
