// Package llm defines the model-facing client interface and the wire
// documents exchanged with the analysis and validation prompts.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotConfigured is returned by the placeholder client when no provider
// credentials are present.
var ErrNotConfigured = errors.New("llm: no provider configured")

// Usage carries token counts and the dollar cost of a single model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// TotalTokens returns prompt plus completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostUSD += other.CostUSD
}

// AnalyzeInput is the article content handed to the analysis prompt.
type AnalyzeInput struct {
	Title       string
	Publisher   string
	Body        string
	PublishedAt time.Time
}

// SignalClaim is a previously extracted signal submitted for validation.
type SignalClaim struct {
	Index       int
	Type        string
	Description string
	Confidence  float64
}

// EvidenceItem is an external search result attached to a validation call.
type EvidenceItem struct {
	Title   string
	URL     string
	Snippet string
	Source  string
}

// ValidateInput bundles the stage-one summary, its signal claims and any
// external evidence for the validation prompt.
type ValidateInput struct {
	Summary  string
	Signals  []SignalClaim
	Evidence []EvidenceItem
}

// Client is implemented by model providers. Both calls return the raw JSON
// document produced by the model so the caller owns schema validation.
type Client interface {
	AnalyzeArticle(ctx context.Context, in AnalyzeInput) (json.RawMessage, Usage, error)
	ValidateSignals(ctx context.Context, in ValidateInput) (json.RawMessage, Usage, error)
}

// PlaceholderClient fails every call. It keeps dev environments bootable
// without provider credentials.
type PlaceholderClient struct{}

var _ Client = PlaceholderClient{}

func (PlaceholderClient) AnalyzeArticle(ctx context.Context, in AnalyzeInput) (json.RawMessage, Usage, error) {
	return nil, Usage{}, ErrNotConfigured
}

func (PlaceholderClient) ValidateSignals(ctx context.Context, in ValidateInput) (json.RawMessage, Usage, error) {
	return nil, Usage{}, ErrNotConfigured
}
