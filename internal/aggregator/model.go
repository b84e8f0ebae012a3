// Package aggregator clusters weak signals across articles and promotes
// them to emerging patterns and trends.
package aggregator

import "time"

// Lifecycle stages. A pattern or trend only moves forward, then declines;
// obsolete entities are kept for historical accuracy scoring.
const (
	StageEmerging   = "emerging"
	StageDeveloping = "developing"
	StageMature     = "mature"
	StageDeclining  = "declining"
	StageObsolete   = "obsolete"
)

// Trend directions.
const (
	DirectionBullish    = "bullish"
	DirectionBearish    = "bearish"
	DirectionNeutral    = "neutral"
	DirectionDisruptive = "disruptive"
)

// EmergingPattern is a cross-article signal cluster confirmed by external
// evidence.
type EmergingPattern struct {
	ID                 string    `json:"id"`
	Theme              string    `json:"theme"`
	PatternType        string    `json:"patternType"`
	Description        string    `json:"description"`
	Confidence         float64   `json:"confidence"`
	MarketSignificance float64   `json:"marketSignificance"`
	SupportingResults  []string  `json:"supportingResults"`
	SignalCount        int       `json:"signalCount"`
	Publishers         []string  `json:"publishers"`
	CrossPublisher     bool      `json:"crossPublisherValidation"`
	ValidationSources  []string  `json:"validationSources"`
	LifecycleStage     string    `json:"lifecycleStage"`
	RealizedAccuracy   *float64  `json:"realizedAccuracy,omitempty"`
	Implications       string    `json:"implications"`
	Catalysts          string    `json:"catalysts"`
	FirstDetectedAt    time.Time `json:"firstDetectedAt"`
	LastUpdatedAt      time.Time `json:"lastUpdatedAt"`
}

// EmergingTrend is a theme-level grouping with a directional label and a
// newsletter priority rank.
type EmergingTrend struct {
	ID                 string    `json:"id"`
	Theme              string    `json:"theme"`
	Description        string    `json:"description"`
	Direction          string    `json:"direction"`
	Confidence         float64   `json:"confidence"`
	NewsletterPriority int       `json:"newsletterPriority"`
	SupportingSignals  int       `json:"supportingSignals"`
	Publishers         []string  `json:"publishers"`
	LifecycleStage     string    `json:"lifecycleStage"`
	Catalysts          string    `json:"catalysts"`
	FirstDetectedAt    time.Time `json:"firstDetectedAt"`
	LastUpdatedAt      time.Time `json:"lastUpdatedAt"`
}
