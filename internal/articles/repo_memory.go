package articles

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo stores articles in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Article
}

var _ Repo = (*MemoryRepo)(nil)

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Article)}
}

// GetByID returns an article by ID.
func (r *MemoryRepo) GetByID(ctx context.Context, articleID string) (Article, error) {
	if err := ctx.Err(); err != nil {
		return Article{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[articleID]
	if !ok {
		return Article{}, ErrNotFound
	}
	return a, nil
}

// ListAnalyzable returns eligible articles newest first. The caller filters
// out articles that already carry an analysis.
func (r *MemoryRepo) ListAnalyzable(ctx context.Context, policy EligibilityPolicy, limit int) ([]Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}

	r.mu.RLock()
	var out []Article
	for _, a := range r.byID {
		if policy.Check(a) == nil {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Insert stores an article.
func (r *MemoryRepo) Insert(ctx context.Context, a Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[a.ID] = a
	return nil
}
