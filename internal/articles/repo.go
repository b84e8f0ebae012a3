package articles

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("article not found")

// Repo defines read access to ingested articles. Writes happen in the
// ingestion collaborator; Insert exists for fixtures and dev seeding only.
type Repo interface {
	GetByID(ctx context.Context, articleID string) (Article, error)
	// ListAnalyzable returns eligible articles with no stored analysis yet,
	// newest first. Priority ordering across tiers is applied by the caller.
	ListAnalyzable(ctx context.Context, policy EligibilityPolicy, limit int) ([]Article, error)
	Insert(ctx context.Context, article Article) error
}
