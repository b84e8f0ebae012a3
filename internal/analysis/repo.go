package analysis

import (
	"context"
	"time"
)

// CurrentVersion is the analysis schema version written to new results.
const CurrentVersion = 1

// WindowResult is an AnalysisResult joined with its article's publisher and
// publication time, as read by the aggregator.
type WindowResult struct {
	AnalysisResult
	Publisher   string
	PublishedAt time.Time
}

// Repo persists analysis results.
type Repo interface {
	Create(ctx context.Context, result AnalysisResult) error
	GetByID(ctx context.Context, id string) (AnalysisResult, error)
	GetLatestByArticle(ctx context.Context, articleID string) (AnalysisResult, error)
	HasResult(ctx context.Context, articleID string) (bool, error)
	ListWindow(ctx context.Context, from, to time.Time) ([]WindowResult, error)
}
