package aggregator

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no pattern or trend matches the lookup.
var ErrNotFound = errors.New("pattern or trend not found")

// ListOptions filters pattern and trend listings.
type ListOptions struct {
	From          time.Time
	To            time.Time
	Stages        []string
	MinConfidence float64
	Limit         int
}

// Repo persists emerging patterns and trends.
type Repo interface {
	GetPatternByTheme(ctx context.Context, theme string) (EmergingPattern, error)
	UpsertPattern(ctx context.Context, pattern EmergingPattern) error
	ListPatterns(ctx context.Context, opts ListOptions) ([]EmergingPattern, error)
	SetPatternAccuracy(ctx context.Context, id string, accuracy float64) error

	GetTrendByTheme(ctx context.Context, theme string) (EmergingTrend, error)
	UpsertTrend(ctx context.Context, trend EmergingTrend) error
	ListTrends(ctx context.Context, opts ListOptions) ([]EmergingTrend, error)
}
