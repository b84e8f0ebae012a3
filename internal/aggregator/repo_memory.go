package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps patterns and trends in memory.
type MemoryRepo struct {
	mu       sync.RWMutex
	patterns map[string]EmergingPattern
	trends   map[string]EmergingTrend
}

var _ Repo = (*MemoryRepo)(nil)

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		patterns: make(map[string]EmergingPattern),
		trends:   make(map[string]EmergingTrend),
	}
}

func (r *MemoryRepo) GetPatternByTheme(ctx context.Context, theme string) (EmergingPattern, error) {
	if err := ctx.Err(); err != nil {
		return EmergingPattern{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if p.Theme == theme {
			return p, nil
		}
	}
	return EmergingPattern{}, ErrNotFound
}

func (r *MemoryRepo) UpsertPattern(ctx context.Context, pattern EmergingPattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[pattern.ID] = pattern
	return nil
}

func (r *MemoryRepo) ListPatterns(ctx context.Context, opts ListOptions) ([]EmergingPattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []EmergingPattern
	for _, p := range r.patterns {
		if matchesWindow(p.LastUpdatedAt, opts) && matchesStage(p.LifecycleStage, opts.Stages) && p.Confidence >= opts.MinConfidence {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) SetPatternAccuracy(ctx context.Context, id string, accuracy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patterns[id]
	if !ok {
		return ErrNotFound
	}
	p.RealizedAccuracy = &accuracy
	r.patterns[id] = p
	return nil
}

func (r *MemoryRepo) GetTrendByTheme(ctx context.Context, theme string) (EmergingTrend, error) {
	if err := ctx.Err(); err != nil {
		return EmergingTrend{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.trends {
		if t.Theme == theme {
			return t, nil
		}
	}
	return EmergingTrend{}, ErrNotFound
}

func (r *MemoryRepo) UpsertTrend(ctx context.Context, trend EmergingTrend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trends[trend.ID] = trend
	return nil
}

func (r *MemoryRepo) ListTrends(ctx context.Context, opts ListOptions) ([]EmergingTrend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []EmergingTrend
	for _, t := range r.trends {
		if matchesWindow(t.LastUpdatedAt, opts) && matchesStage(t.LifecycleStage, opts.Stages) && t.Confidence >= opts.MinConfidence {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].NewsletterPriority != out[j].NewsletterPriority {
			return out[i].NewsletterPriority < out[j].NewsletterPriority
		}
		return out[i].Confidence > out[j].Confidence
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func matchesWindow(updatedAt time.Time, opts ListOptions) bool {
	if !opts.From.IsZero() && updatedAt.Before(opts.From) {
		return false
	}
	if !opts.To.IsZero() && !updatedAt.Before(opts.To) {
		return false
	}
	return true
}

func matchesStage(stage string, stages []string) bool {
	if len(stages) == 0 {
		return true
	}
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}
