package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"signals-backend/internal/articles"
	"signals-backend/internal/llm"
	"signals-backend/internal/research"
	"signals-backend/internal/shared/metrics"
	"signals-backend/internal/shared/telemetry"
)

const (
	defaultRetryDelay = 300 * time.Millisecond
	defaultMaxLookups = 3
	resultsPerLookup  = 3
	maxQuerySignalLen = 120
)

// Service runs the two-stage analysis workflow for one article at a time.
type Service struct {
	Repo       Repo
	Articles   articles.Repo
	Policy     articles.EligibilityPolicy
	LLM        llm.Client
	Research   research.Client
	MaxLookups int
	RetryDelay time.Duration

	now func() time.Time
}

// NewService wires a workflow service with defaults.
func NewService(repo Repo, articleRepo articles.Repo, policy articles.EligibilityPolicy, llmClient llm.Client, researchClient research.Client) *Service {
	return &Service{
		Repo:       repo,
		Articles:   articleRepo,
		Policy:     policy,
		LLM:        llmClient,
		Research:   researchClient,
		MaxLookups: defaultMaxLookups,
		RetryDelay: defaultRetryDelay,
		now:        time.Now,
	}
}

// ProcessArticle runs eligibility, content analysis and signal validation
// for one article and persists the combined result.
//
// Ineligible articles return *articles.IneligibleError with no cost spent.
// An already-analyzed article returns ErrAlreadyAnalyzed. Stage failures
// return *StageError carrying the usage already spent. A validation-stage
// failure is not an error: the result is stored with validation status
// failed and stage-one cost retained.
func (s *Service) ProcessArticle(ctx context.Context, articleID string) (AnalysisResult, error) {
	article, err := s.Articles.GetByID(ctx, articleID)
	if err != nil {
		return AnalysisResult{}, err
	}
	if err := s.Policy.Check(article); err != nil {
		metrics.IncAnalysisSkipped()
		telemetry.Info("analysis.skipped", map[string]any{
			"article_id": article.ID,
			"reason":     err.Error(),
		})
		return AnalysisResult{}, err
	}
	exists, err := s.Repo.HasResult(ctx, article.ID)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("check existing result: %w", err)
	}
	if exists {
		return AnalysisResult{}, ErrAlreadyAnalyzed
	}

	startedAt := s.clock()()

	doc, usage, err := s.analyzeContent(ctx, article)
	if err != nil {
		metrics.IncAnalysisFailed()
		return AnalysisResult{}, &StageError{
			Stage:   StageContent,
			CostUSD: usage.CostUSD,
			Tokens:  usage.TotalTokens(),
			Err:     err,
		}
	}

	total := usage
	result := resultFromDocument(article.ID, doc)
	result.ValidationStatus = ValidationPending

	if len(result.WeakSignals) > 0 {
		validated, vUsage, vErr := s.validateSignals(ctx, article, &result, doc)
		if vErr != nil {
			// Stage-one output stands; only its cost is charged.
			result.ValidationStatus = ValidationFailed
			telemetry.Warn("analysis.validation_failed", map[string]any{
				"article_id": article.ID,
				"error":      sanitizeError(vErr),
			})
		} else {
			result = validated
			result.ValidationStatus = ValidationValidated
			total.Add(vUsage)
		}
	}

	completedAt := s.clock()()
	result.ID = uuid.NewString()
	result.Version = CurrentVersion
	result.ProcessingMs = float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0
	result.TokensUsed = total.TotalTokens()
	result.CostUSD = total.CostUSD
	result.CreatedAt = completedAt.UTC()

	if err := s.Repo.Create(ctx, result); err != nil {
		if errors.Is(err, ErrAlreadyAnalyzed) {
			return AnalysisResult{}, err
		}
		metrics.IncAnalysisFailed()
		return AnalysisResult{}, &StageError{
			Stage:   StageContent,
			CostUSD: total.CostUSD,
			Tokens:  total.TotalTokens(),
			Err:     fmt.Errorf("store analysis result: %w", err),
		}
	}

	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(result.ProcessingMs)
	telemetry.Info("analysis.completed", map[string]any{
		"article_id":        article.ID,
		"analysis_id":       result.ID,
		"validation_status": result.ValidationStatus,
		"signals":           len(result.WeakSignals),
		"cost_usd":          result.CostUSD,
		"duration_ms":       result.ProcessingMs,
	})
	return result, nil
}

func (s *Service) analyzeContent(ctx context.Context, article articles.Article) (llm.AnalysisDocument, llm.Usage, error) {
	input := llm.AnalyzeInput{
		Title:       article.Title,
		Publisher:   article.Publisher,
		Body:        article.Body,
		PublishedAt: article.PublishedAt,
	}

	raw, usage, err := s.callWithRetry(ctx, article.ID, StageContent, func(ctx context.Context) (json.RawMessage, llm.Usage, error) {
		return s.LLM.AnalyzeArticle(ctx, input)
	})
	if err != nil {
		return llm.AnalysisDocument{}, usage, fmt.Errorf("content analysis call: %w", err)
	}

	doc, err := ParseAnalysisDocument(raw)
	if err != nil {
		return llm.AnalysisDocument{}, usage, err
	}
	return doc, usage, nil
}

func (s *Service) validateSignals(ctx context.Context, article articles.Article, result *AnalysisResult, doc llm.AnalysisDocument) (AnalysisResult, llm.Usage, error) {
	evidence := s.gatherEvidence(ctx, article.ID, result.WeakSignals)

	claims := make([]llm.SignalClaim, len(result.WeakSignals))
	for i, sig := range result.WeakSignals {
		claims[i] = llm.SignalClaim{
			Index:       i,
			Type:        sig.Type,
			Description: sig.Description,
			Confidence:  sig.Confidence,
		}
	}
	input := llm.ValidateInput{
		Summary:  result.Summary,
		Signals:  claims,
		Evidence: evidence,
	}

	raw, usage, err := s.callWithRetry(ctx, article.ID, StageValidation, func(ctx context.Context) (json.RawMessage, llm.Usage, error) {
		return s.LLM.ValidateSignals(ctx, input)
	})
	if err != nil {
		return AnalysisResult{}, usage, fmt.Errorf("signal validation call: %w", err)
	}

	vdoc, err := ParseValidationDocument(raw, len(result.WeakSignals))
	if err != nil {
		return AnalysisResult{}, usage, err
	}

	out := *result
	out.WeakSignals = append([]WeakSignal(nil), result.WeakSignals...)
	for _, verdict := range vdoc.Verdicts {
		sig := &out.WeakSignals[verdict.Index]
		sig.ValidationState = verdict.State
		sig.ValidationNotes = verdict.Notes
		sig.Confidence = verdict.Confidence
	}
	for _, extra := range vdoc.AdditionalSignals {
		out.WeakSignals = append(out.WeakSignals, WeakSignal{
			Type:         extra.Type,
			Description:  extra.Description,
			Confidence:   extra.Confidence,
			Implications: extra.Implications,
			Evidence:     extra.Evidence,
			Timeframe:    extra.Timeframe,
		})
	}
	return out, usage, nil
}

// gatherEvidence runs at most MaxLookups searches over the strongest
// signals. Missing or failing search backends degrade to no evidence.
func (s *Service) gatherEvidence(ctx context.Context, articleID string, signals []WeakSignal) []llm.EvidenceItem {
	if s.Research == nil {
		return nil
	}
	lookups := s.MaxLookups
	if lookups <= 0 {
		lookups = defaultMaxLookups
	}
	if lookups > len(signals) {
		lookups = len(signals)
	}

	var evidence []llm.EvidenceItem
	for _, sig := range signals[:lookups] {
		query := buildEvidenceQuery(sig)
		hits, err := s.Research.Search(ctx, query, resultsPerLookup)
		if err != nil {
			if !errors.Is(err, research.ErrNotConfigured) {
				telemetry.Warn("analysis.evidence_lookup_failed", map[string]any{
					"article_id": articleID,
					"query":      query,
					"error":      sanitizeError(err),
				})
			}
			continue
		}
		for _, hit := range hits {
			evidence = append(evidence, llm.EvidenceItem{
				Title:   hit.Title,
				URL:     hit.URL,
				Snippet: hit.Snippet,
				Source:  hit.Source,
			})
		}
	}
	return evidence
}

// callWithRetry issues one model call and retries once on a transient
// failure. The failed attempt's usage is discarded so cost reflects the
// attempt that produced output.
func (s *Service) callWithRetry(ctx context.Context, articleID, stage string, call func(context.Context) (json.RawMessage, llm.Usage, error)) (json.RawMessage, llm.Usage, error) {
	raw, usage, err := call(ctx)
	if err == nil || !isTransient(err) {
		return raw, usage, err
	}

	telemetry.Warn("analysis.llm_retry", map[string]any{
		"article_id": articleID,
		"stage":      stage,
		"error":      sanitizeError(err),
	})
	delay := s.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, llm.Usage{}, ctx.Err()
	}
	return call(ctx)
}

func (s *Service) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

func resultFromDocument(articleID string, doc llm.AnalysisDocument) AnalysisResult {
	result := AnalysisResult{
		ArticleID:      articleID,
		Sentiment:      doc.Sentiment,
		ImpactScore:    doc.ImpactScore,
		Summary:        doc.Summary,
		Confidence:     doc.Confidence,
		SignalStrength: doc.SignalStrength,
		Uniqueness:     doc.Uniqueness,
	}
	for _, sig := range doc.WeakSignals {
		result.WeakSignals = append(result.WeakSignals, WeakSignal{
			Type:         sig.Type,
			Description:  sig.Description,
			Confidence:   sig.Confidence,
			Implications: sig.Implications,
			Evidence:     sig.Evidence,
			Timeframe:    sig.Timeframe,
		})
	}
	for _, anomaly := range doc.PatternAnomalies {
		result.PatternAnomalies = append(result.PatternAnomalies, PatternAnomaly{
			ExpectedPattern:   anomaly.ExpectedPattern,
			ObservedPattern:   anomaly.ObservedPattern,
			Significance:      anomaly.Significance,
			HistoricalContext: anomaly.HistoricalContext,
			CandidateCauses:   anomaly.CandidateCauses,
		})
	}
	for _, conn := range doc.AdjacentConnections {
		result.AdjacentConnections = append(result.AdjacentConnections, AdjacentConnection{
			CryptoElement:   conn.CryptoElement,
			Domain:          conn.Domain,
			ConnectionType:  conn.ConnectionType,
			Relevance:       conn.Relevance,
			Opportunity:     conn.Opportunity,
			WatchIndicators: conn.WatchIndicators,
		})
	}
	return result
}

func buildEvidenceQuery(sig WeakSignal) string {
	desc := sig.Description
	if len(desc) > maxQuerySignalLen {
		desc = desc[:maxQuerySignalLen]
	}
	if sig.Type == "" {
		return "crypto " + desc
	}
	return fmt.Sprintf("crypto %s %s", sig.Type, desc)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return true
	}
	if strings.Contains(msg, "timeout") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}
	return false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
