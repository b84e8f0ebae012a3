package articles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// GetByID returns an article by ID.
func (r *PGRepo) GetByID(ctx context.Context, articleID string) (Article, error) {
	const query = `
SELECT id, title, publisher, body, language, status, published_at, created_at
FROM articles
WHERE id = $1
LIMIT 1`
	var a Article
	err := r.DB.QueryRowContext(ctx, query, articleID).Scan(
		&a.ID,
		&a.Title,
		&a.Publisher,
		&a.Body,
		&a.Language,
		&a.Status,
		&a.PublishedAt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Article{}, ErrNotFound
		}
		return Article{}, err
	}
	return a, nil
}

// ListAnalyzable returns eligible, not-yet-analyzed articles newest first.
func (r *PGRepo) ListAnalyzable(ctx context.Context, policy EligibilityPolicy, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 200
	}

	query, args, err := psql.
		Select("a.id", "a.title", "a.publisher", "a.body", "a.language", "a.status", "a.published_at", "a.created_at").
		From("articles a").
		Where(sq.Eq{"a.status": StatusActive}).
		Where(sq.Expr("length(a.body) >= ?", policy.MinBodyChars)).
		Where(sq.Eq{"lower(a.publisher)": policy.ApprovedPublishers()}).
		Where(sq.Eq{"lower(a.language)": policy.Languages()}).
		Where(sq.Expr("NOT EXISTS (SELECT 1 FROM analysis_results r WHERE r.article_id = a.id)")).
		OrderBy("a.published_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build analyzable query: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyzable articles: %w", err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Publisher, &a.Body, &a.Language, &a.Status, &a.PublishedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Insert stores an article. Used by fixtures and dev seeding.
func (r *PGRepo) Insert(ctx context.Context, a Article) error {
	const query = `
INSERT INTO articles (id, title, publisher, body, language, status, published_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.DB.ExecContext(ctx, query,
		a.ID,
		a.Title,
		a.Publisher,
		a.Body,
		a.Language,
		a.Status,
		a.PublishedAt,
		a.CreatedAt,
	)
	return err
}
