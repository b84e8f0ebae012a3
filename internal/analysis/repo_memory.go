package analysis

import (
	"context"
	"sort"
	"sync"
	"time"

	"signals-backend/internal/articles"
)

// MemoryRepo keeps analysis results in memory. Articles are consulted for
// the window join.
type MemoryRepo struct {
	mu       sync.RWMutex
	byID     map[string]AnalysisResult
	Articles articles.Repo
}

var _ Repo = (*MemoryRepo)(nil)

// NewMemoryRepo constructs a MemoryRepo over an article source.
func NewMemoryRepo(articleRepo articles.Repo) *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]AnalysisResult), Articles: articleRepo}
}

// Create stores a result, enforcing one result per (article, version).
func (r *MemoryRepo) Create(ctx context.Context, result AnalysisResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.ArticleID == result.ArticleID && existing.Version == result.Version {
			return ErrAlreadyAnalyzed
		}
	}
	r.byID[result.ID] = result
	return nil
}

// GetByID returns one result.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return AnalysisResult{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.byID[id]
	if !ok {
		return AnalysisResult{}, ErrNotFound
	}
	return result, nil
}

// GetLatestByArticle returns the newest-version result for an article.
func (r *MemoryRepo) GetLatestByArticle(ctx context.Context, articleID string) (AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return AnalysisResult{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest AnalysisResult
	found := false
	for _, result := range r.byID {
		if result.ArticleID != articleID {
			continue
		}
		if !found || result.Version > latest.Version {
			latest = result
			found = true
		}
	}
	if !found {
		return AnalysisResult{}, ErrNotFound
	}
	return latest, nil
}

// HasResult reports whether the article has a current-version result.
func (r *MemoryRepo) HasResult(ctx context.Context, articleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, result := range r.byID {
		if result.ArticleID == articleID && result.Version == CurrentVersion {
			return true, nil
		}
	}
	return false, nil
}

// ListWindow returns results created inside [from, to), newest first.
func (r *MemoryRepo) ListWindow(ctx context.Context, from, to time.Time) ([]WindowResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	results := make([]AnalysisResult, 0, len(r.byID))
	for _, result := range r.byID {
		if !result.CreatedAt.Before(from) && result.CreatedAt.Before(to) {
			results = append(results, result)
		}
	}
	r.mu.RUnlock()

	out := make([]WindowResult, 0, len(results))
	for _, result := range results {
		w := WindowResult{AnalysisResult: result}
		if r.Articles != nil {
			if a, err := r.Articles.GetByID(ctx, result.ArticleID); err == nil {
				w.Publisher = a.Publisher
				w.PublishedAt = a.PublishedAt
			}
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
