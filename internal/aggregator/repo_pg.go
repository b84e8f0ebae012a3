package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PGRepo is a Postgres-backed pattern and trend repository.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const patternColumns = `id, theme, pattern_type, description, confidence, market_significance,
supporting_results, signal_count, publishers, cross_publisher, validation_sources,
lifecycle_stage, realized_accuracy, implications, catalysts, first_detected_at, last_updated_at`

const trendColumns = `id, theme, description, direction, confidence, newsletter_priority,
supporting_signals, publishers, lifecycle_stage, catalysts, first_detected_at, last_updated_at`

func (r *PGRepo) GetPatternByTheme(ctx context.Context, theme string) (EmergingPattern, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+patternColumns+` FROM emerging_patterns WHERE theme = $1`, theme)
	return scanPattern(row.Scan)
}

func (r *PGRepo) UpsertPattern(ctx context.Context, p EmergingPattern) error {
	supporting, err := json.Marshal(p.SupportingResults)
	if err != nil {
		return fmt.Errorf("marshal supporting results: %w", err)
	}
	publishers, err := json.Marshal(p.Publishers)
	if err != nil {
		return fmt.Errorf("marshal publishers: %w", err)
	}
	sources, err := json.Marshal(p.ValidationSources)
	if err != nil {
		return fmt.Errorf("marshal validation sources: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
INSERT INTO emerging_patterns (`+patternColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (theme) DO UPDATE SET
  pattern_type = EXCLUDED.pattern_type,
  description = EXCLUDED.description,
  confidence = EXCLUDED.confidence,
  market_significance = EXCLUDED.market_significance,
  supporting_results = EXCLUDED.supporting_results,
  signal_count = EXCLUDED.signal_count,
  publishers = EXCLUDED.publishers,
  cross_publisher = EXCLUDED.cross_publisher,
  validation_sources = EXCLUDED.validation_sources,
  lifecycle_stage = EXCLUDED.lifecycle_stage,
  implications = EXCLUDED.implications,
  catalysts = EXCLUDED.catalysts,
  last_updated_at = EXCLUDED.last_updated_at`,
		p.ID, p.Theme, p.PatternType, p.Description, p.Confidence, p.MarketSignificance,
		supporting, p.SignalCount, publishers, p.CrossPublisher, sources,
		p.LifecycleStage, p.RealizedAccuracy, p.Implications, p.Catalysts,
		p.FirstDetectedAt, p.LastUpdatedAt)
	return err
}

func (r *PGRepo) ListPatterns(ctx context.Context, opts ListOptions) ([]EmergingPattern, error) {
	query := psql.Select().
		Columns("id", "theme", "pattern_type", "description", "confidence", "market_significance",
			"supporting_results", "signal_count", "publishers", "cross_publisher", "validation_sources",
			"lifecycle_stage", "realized_accuracy", "implications", "catalysts", "first_detected_at", "last_updated_at").
		From("emerging_patterns").
		OrderBy("confidence DESC")
	query = applyListOptions(query, opts)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmergingPattern
	for rows.Next() {
		p, err := scanPattern(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepo) SetPatternAccuracy(ctx context.Context, id string, accuracy float64) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE emerging_patterns SET realized_accuracy = $1 WHERE id = $2`, accuracy, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) GetTrendByTheme(ctx context.Context, theme string) (EmergingTrend, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+trendColumns+` FROM emerging_trends WHERE theme = $1`, theme)
	return scanTrend(row.Scan)
}

func (r *PGRepo) UpsertTrend(ctx context.Context, t EmergingTrend) error {
	publishers, err := json.Marshal(t.Publishers)
	if err != nil {
		return fmt.Errorf("marshal publishers: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, `
INSERT INTO emerging_trends (`+trendColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (theme) DO UPDATE SET
  description = EXCLUDED.description,
  direction = EXCLUDED.direction,
  confidence = EXCLUDED.confidence,
  newsletter_priority = EXCLUDED.newsletter_priority,
  supporting_signals = EXCLUDED.supporting_signals,
  publishers = EXCLUDED.publishers,
  lifecycle_stage = EXCLUDED.lifecycle_stage,
  catalysts = EXCLUDED.catalysts,
  last_updated_at = EXCLUDED.last_updated_at`,
		t.ID, t.Theme, t.Description, t.Direction, t.Confidence, t.NewsletterPriority,
		t.SupportingSignals, publishers, t.LifecycleStage, t.Catalysts,
		t.FirstDetectedAt, t.LastUpdatedAt)
	return err
}

func (r *PGRepo) ListTrends(ctx context.Context, opts ListOptions) ([]EmergingTrend, error) {
	query := psql.Select().
		Columns("id", "theme", "description", "direction", "confidence", "newsletter_priority",
			"supporting_signals", "publishers", "lifecycle_stage", "catalysts", "first_detected_at", "last_updated_at").
		From("emerging_trends").
		OrderBy("newsletter_priority ASC", "confidence DESC")
	query = applyListOptions(query, opts)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmergingTrend
	for rows.Next() {
		t, err := scanTrend(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func applyListOptions(query sq.SelectBuilder, opts ListOptions) sq.SelectBuilder {
	if !opts.From.IsZero() {
		query = query.Where(sq.GtOrEq{"last_updated_at": opts.From})
	}
	if !opts.To.IsZero() {
		query = query.Where(sq.Lt{"last_updated_at": opts.To})
	}
	if len(opts.Stages) > 0 {
		query = query.Where(sq.Eq{"lifecycle_stage": opts.Stages})
	}
	if opts.MinConfidence > 0 {
		query = query.Where(sq.GtOrEq{"confidence": opts.MinConfidence})
	}
	if opts.Limit > 0 {
		query = query.Limit(uint64(opts.Limit))
	}
	return query
}

func scanPattern(scan func(dest ...any) error) (EmergingPattern, error) {
	var p EmergingPattern
	var supporting, publishers, sources []byte
	var accuracy sql.NullFloat64
	err := scan(
		&p.ID, &p.Theme, &p.PatternType, &p.Description, &p.Confidence, &p.MarketSignificance,
		&supporting, &p.SignalCount, &publishers, &p.CrossPublisher, &sources,
		&p.LifecycleStage, &accuracy, &p.Implications, &p.Catalysts,
		&p.FirstDetectedAt, &p.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EmergingPattern{}, ErrNotFound
		}
		return EmergingPattern{}, err
	}
	if accuracy.Valid {
		v := accuracy.Float64
		p.RealizedAccuracy = &v
	}
	for _, pair := range []struct {
		raw  []byte
		dest any
	}{
		{supporting, &p.SupportingResults},
		{publishers, &p.Publishers},
		{sources, &p.ValidationSources},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
			return EmergingPattern{}, fmt.Errorf("unmarshal pattern list: %w", err)
		}
	}
	return p, nil
}

func scanTrend(scan func(dest ...any) error) (EmergingTrend, error) {
	var t EmergingTrend
	var publishers []byte
	err := scan(
		&t.ID, &t.Theme, &t.Description, &t.Direction, &t.Confidence, &t.NewsletterPriority,
		&t.SupportingSignals, &publishers, &t.LifecycleStage, &t.Catalysts,
		&t.FirstDetectedAt, &t.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EmergingTrend{}, ErrNotFound
		}
		return EmergingTrend{}, err
	}
	if len(publishers) > 0 {
		if err := json.Unmarshal(publishers, &t.Publishers); err != nil {
			return EmergingTrend{}, fmt.Errorf("unmarshal trend publishers: %w", err)
		}
	}
	return t, nil
}
