// Package analysis runs the two-stage article analysis workflow and owns
// the persisted AnalysisResult.
package analysis

import "time"

// Validation status of an AnalysisResult. Once validated or failed the
// result is immutable.
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
	ValidationFailed    = "failed"
)

// Per-signal validation states assigned by the validation stage.
const (
	SignalValidated    = "validated"
	SignalContradicted = "contradicted"
	SignalInconclusive = "inconclusive"
)

// Sentiment values produced by the content analysis stage.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
	SentimentMixed   = "mixed"
)

// WeakSignal is a subtle indicator extracted from one article, annotated
// with its validation outcome.
type WeakSignal struct {
	Type            string   `json:"type"`
	Description     string   `json:"description"`
	Confidence      float64  `json:"confidence"`
	Implications    string   `json:"implications"`
	Evidence        []string `json:"evidence"`
	Timeframe       string   `json:"timeframe"`
	ValidationState string   `json:"validationState,omitempty"`
	ValidationNotes string   `json:"validationNotes,omitempty"`
}

// PatternAnomaly is a deviation between observed and expected behavior.
type PatternAnomaly struct {
	ExpectedPattern   string   `json:"expectedPattern"`
	ObservedPattern   string   `json:"observedPattern"`
	Significance      float64  `json:"significance"`
	HistoricalContext string   `json:"historicalContext"`
	CandidateCauses   []string `json:"candidateCauses"`
}

// AdjacentConnection links a crypto element to an external domain.
type AdjacentConnection struct {
	CryptoElement   string  `json:"cryptoElement"`
	Domain          string  `json:"domain"`
	ConnectionType  string  `json:"connectionType"`
	Relevance       float64 `json:"relevance"`
	Opportunity     string  `json:"opportunity"`
	WatchIndicators string  `json:"watchIndicators"`
}

// AnalysisResult is the persisted outcome of one article's analysis. At
// most one result exists per article per version.
type AnalysisResult struct {
	ID                  string               `json:"id"`
	ArticleID           string               `json:"articleId"`
	Version             int                  `json:"version"`
	Sentiment           string               `json:"sentiment"`
	ImpactScore         float64              `json:"impactScore"`
	Summary             string               `json:"summary"`
	WeakSignals         []WeakSignal         `json:"weakSignals"`
	PatternAnomalies    []PatternAnomaly     `json:"patternAnomalies"`
	AdjacentConnections []AdjacentConnection `json:"adjacentConnections"`
	Confidence          float64              `json:"confidence"`
	SignalStrength      float64              `json:"signalStrength"`
	Uniqueness          float64              `json:"uniqueness"`
	ValidationStatus    string               `json:"validationStatus"`
	ProcessingMs        float64              `json:"processingMs"`
	TokensUsed          int                  `json:"tokensUsed"`
	CostUSD             float64              `json:"costUsd"`
	CreatedAt           time.Time            `json:"createdAt"`
}

// Composite is the mean of the three aggregate scores, used for ranking.
func (r AnalysisResult) Composite() float64 {
	return (r.Confidence + r.SignalStrength + r.Uniqueness) / 3
}
