package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"signals-backend/internal/analysis"
	"signals-backend/internal/research"
	"signals-backend/internal/shared/metrics"
	"signals-backend/internal/shared/telemetry"
)

// Settings tune the aggregation thresholds.
type Settings struct {
	WindowHours          int
	MinSupport           int
	CorrelationThreshold float64
	EvidenceThreshold    float64
	TrendConfidenceBar   float64
	PatternMinAgeDays    int
	MaxQueriesPerTheme   int
}

// DefaultSettings returns the standard aggregation knobs.
func DefaultSettings() Settings {
	return Settings{
		WindowHours:          72,
		MinSupport:           3,
		CorrelationThreshold: 0.7,
		EvidenceThreshold:    0.6,
		TrendConfidenceBar:   0.75,
		PatternMinAgeDays:    30,
		MaxQueriesPerTheme:   3,
	}
}

const (
	minWindowHours = 48
	maxWindowHours = 168

	crossPublisherBonus = 0.05
	crossDomainBonus    = 0.05
	supportBonusStep    = 0.02
	maxSupportBonus     = 0.10
)

// Service runs aggregation cycles over the trailing analysis window.
type Service struct {
	Analyses analysis.Repo
	Repo     Repo
	Research research.Client
	Settings Settings

	now func() time.Time
}

// NewService constructs an aggregation service.
func NewService(analysisRepo analysis.Repo, repo Repo, researchClient research.Client, settings Settings) *Service {
	if settings.MinSupport <= 0 {
		settings = DefaultSettings()
	}
	return &Service{
		Analyses: analysisRepo,
		Repo:     repo,
		Research: researchClient,
		Settings: settings,
		now:      time.Now,
	}
}

// CycleStats summarizes one aggregation run.
type CycleStats struct {
	Results           int `json:"results"`
	Signals           int `json:"signals"`
	Clusters          int `json:"clusters"`
	Candidates        int `json:"candidates"`
	PatternsPromoted  int `json:"patternsPromoted"`
	TrendsPromoted    int `json:"trendsPromoted"`
	StagesTransitions int `json:"stageTransitions"`
}

// RunCycle clusters the trailing window's signals, promotes qualifying
// clusters to patterns and themes to trends, and re-evaluates lifecycle
// stages. External validation failures degrade to non-promotion.
func (s *Service) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	now := s.clock()().UTC()
	from := now.Add(-s.window())

	results, err := s.Analyses.ListWindow(ctx, from, now)
	if err != nil {
		return stats, fmt.Errorf("list window: %w", err)
	}
	stats.Results = len(results)

	signals := collectSignals(results)
	stats.Signals = len(signals)

	clusters := BuildClusters(signals)
	stats.Clusters = len(clusters)

	for _, cluster := range clusters {
		if cluster.Support() < s.Settings.MinSupport {
			continue
		}
		if cluster.Correlation() < s.Settings.CorrelationThreshold {
			continue
		}
		stats.Candidates++

		if err := ctx.Err(); err != nil {
			return stats, err
		}
		promoted, err := s.promotePattern(ctx, cluster, now)
		if err != nil {
			return stats, err
		}
		if promoted {
			stats.PatternsPromoted++
		}
	}

	trends, err := s.promoteTrends(ctx, signals, now)
	if err != nil {
		return stats, err
	}
	stats.TrendsPromoted = trends

	transitions, err := s.reevaluateLifecycle(ctx, now)
	if err != nil {
		return stats, err
	}
	stats.StagesTransitions = transitions

	telemetry.Info("aggregator.cycle", map[string]any{
		"results":    stats.Results,
		"signals":    stats.Signals,
		"clusters":   stats.Clusters,
		"candidates": stats.Candidates,
		"patterns":   stats.PatternsPromoted,
		"trends":     stats.TrendsPromoted,
	})
	return stats, nil
}

// collectSignals flattens validated-or-pending weak signals out of window
// results. Contradicted signals never aggregate.
func collectSignals(results []analysis.WindowResult) []ClusterSignal {
	var out []ClusterSignal
	for _, r := range results {
		for _, sig := range r.WeakSignals {
			if sig.ValidationState == analysis.SignalContradicted {
				continue
			}
			out = append(out, ClusterSignal{
				ResultID:    r.ID,
				ArticleID:   r.ArticleID,
				Publisher:   r.Publisher,
				Sentiment:   r.Sentiment,
				Type:        sig.Type,
				Description: sig.Description,
				Confidence:  sig.Confidence,
				Uniqueness:  r.Uniqueness,
			})
		}
	}
	return out
}

func (s *Service) promotePattern(ctx context.Context, cluster Cluster, now time.Time) (bool, error) {
	theme := cluster.Theme()
	publishers := cluster.Publishers()
	confidence := cluster.MeanConfidence()
	if len(publishers) >= 2 {
		confidence += crossPublisherBonus
	}
	if len(cluster.SignalTypes()) >= 2 {
		confidence += crossDomainBonus
	}
	if confidence > 1 {
		confidence = 1
	}

	sources, evidenceConfidence := s.validateExternally(ctx, theme)
	if evidenceConfidence < s.Settings.EvidenceThreshold {
		telemetry.Info("aggregator.candidate_unconfirmed", map[string]any{
			"theme":               theme,
			"support":             cluster.Support(),
			"evidence_confidence": evidenceConfidence,
		})
		return false, nil
	}

	resultIDs := distinctResultIDs(cluster)
	pattern := EmergingPattern{
		Theme:              theme,
		PatternType:        dominantType(cluster),
		Description:        cluster.Signals[0].Description,
		Confidence:         confidence,
		MarketSignificance: cluster.Correlation() * confidence,
		SupportingResults:  resultIDs,
		SignalCount:        len(cluster.Signals),
		Publishers:         publishers,
		CrossPublisher:     len(publishers) >= 2,
		ValidationSources:  sources,
		LifecycleStage:     StageEmerging,
		Implications:       strongestImplications(cluster),
		FirstDetectedAt:    now,
		LastUpdatedAt:      now,
	}

	existing, err := s.Repo.GetPatternByTheme(ctx, theme)
	switch {
	case err == nil:
		pattern.ID = existing.ID
		pattern.FirstDetectedAt = existing.FirstDetectedAt
		pattern.LifecycleStage = existing.LifecycleStage
		pattern.RealizedAccuracy = existing.RealizedAccuracy
		pattern.SupportingResults = mergeStrings(existing.SupportingResults, resultIDs)
		pattern.SignalCount = existing.SignalCount + len(cluster.Signals)
		pattern.Publishers = mergeStrings(existing.Publishers, publishers)
		pattern.CrossPublisher = existing.CrossPublisher || len(pattern.Publishers) >= 2
	case errors.Is(err, ErrNotFound):
		pattern.ID = uuid.NewString()
	default:
		return false, fmt.Errorf("get pattern by theme: %w", err)
	}

	if err := s.Repo.UpsertPattern(ctx, pattern); err != nil {
		return false, fmt.Errorf("upsert pattern: %w", err)
	}
	metrics.IncPatternPromoted()
	return true, nil
}

// validateExternally issues a small set of searches for the theme. Each
// query contributes hits/3 capped at 1; the mean is the evidence
// confidence. Unavailable search degrades to zero confidence.
func (s *Service) validateExternally(ctx context.Context, theme string) ([]string, float64) {
	if s.Research == nil {
		return nil, 0
	}
	queries := themeQueries(theme, s.maxQueries())

	var sources []string
	total := 0.0
	for _, q := range queries {
		hits, err := s.Research.Search(ctx, q, 3)
		if err != nil {
			if !errors.Is(err, research.ErrNotConfigured) {
				telemetry.Warn("aggregator.validation_lookup_failed", map[string]any{
					"query": q,
					"error": err.Error(),
				})
			}
			continue
		}
		score := float64(len(hits)) / 3
		if score > 1 {
			score = 1
		}
		total += score
		for _, h := range hits {
			if h.URL != "" {
				sources = append(sources, h.URL)
			}
		}
	}
	if len(queries) == 0 {
		return sources, 0
	}
	return sources, total / float64(len(queries))
}

func themeQueries(theme string, max int) []string {
	base := strings.TrimSpace(theme)
	if base == "" {
		return nil
	}
	all := []string{
		"crypto " + base,
		base + " market impact",
		base + " news",
	}
	if max < len(all) {
		all = all[:max]
	}
	return all
}

// promoteTrends groups signals by type theme and promotes groups whose
// composite confidence clears the trend bar.
func (s *Service) promoteTrends(ctx context.Context, signals []ClusterSignal, now time.Time) (int, error) {
	groups := make(map[string][]ClusterSignal)
	for _, sig := range signals {
		key := strings.ToLower(strings.TrimSpace(sig.Type))
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], sig)
	}

	type candidate struct {
		theme     string
		signals   []ClusterSignal
		composite float64
	}
	var candidates []candidate
	for theme, group := range groups {
		support := distinctArticles(group)
		if support < s.Settings.MinSupport {
			continue
		}
		composite := meanConfidence(group)
		composite += crossPublisherBonusFor(group)
		composite += supportBonus(support, s.Settings.MinSupport)
		if composite > 1 {
			composite = 1
		}
		if composite <= s.Settings.TrendConfidenceBar {
			continue
		}
		candidates = append(candidates, candidate{theme: theme, signals: group, composite: composite})
	}

	// Newsletter priority ranks by composite confidence.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].composite > candidates[j].composite
	})

	promoted := 0
	for rank, cand := range candidates {
		trend := EmergingTrend{
			Theme:              cand.theme,
			Description:        cand.signals[0].Description,
			Direction:          trendDirection(cand.signals),
			Confidence:         cand.composite,
			NewsletterPriority: rank + 1,
			SupportingSignals:  len(cand.signals),
			Publishers:         distinctPublishers(cand.signals),
			LifecycleStage:     StageEmerging,
			FirstDetectedAt:    now,
			LastUpdatedAt:      now,
		}

		existing, err := s.Repo.GetTrendByTheme(ctx, cand.theme)
		switch {
		case err == nil:
			trend.ID = existing.ID
			trend.FirstDetectedAt = existing.FirstDetectedAt
			trend.LifecycleStage = existing.LifecycleStage
			trend.SupportingSignals = existing.SupportingSignals + len(cand.signals)
			trend.Publishers = mergeStrings(existing.Publishers, trend.Publishers)
		case errors.Is(err, ErrNotFound):
			trend.ID = uuid.NewString()
		default:
			return promoted, fmt.Errorf("get trend by theme: %w", err)
		}

		if err := s.Repo.UpsertTrend(ctx, trend); err != nil {
			return promoted, fmt.Errorf("upsert trend: %w", err)
		}
		metrics.IncTrendPromoted()
		promoted++
	}
	return promoted, nil
}

// reevaluateLifecycle advances or retires non-obsolete patterns and trends
// based on accumulated support and staleness.
func (s *Service) reevaluateLifecycle(ctx context.Context, now time.Time) (int, error) {
	transitions := 0

	patterns, err := s.Repo.ListPatterns(ctx, ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("list patterns: %w", err)
	}
	for _, p := range patterns {
		if p.LifecycleStage == StageObsolete {
			continue
		}
		next := s.nextPatternStage(p, now)
		if next == p.LifecycleStage {
			continue
		}
		p.LifecycleStage = next
		if err := s.Repo.UpsertPattern(ctx, p); err != nil {
			return transitions, fmt.Errorf("update pattern stage: %w", err)
		}
		transitions++
	}

	trends, err := s.Repo.ListTrends(ctx, ListOptions{})
	if err != nil {
		return transitions, fmt.Errorf("list trends: %w", err)
	}
	for _, tr := range trends {
		if tr.LifecycleStage == StageObsolete {
			continue
		}
		next := s.nextTrendStage(tr, now)
		if next == tr.LifecycleStage {
			continue
		}
		tr.LifecycleStage = next
		if err := s.Repo.UpsertTrend(ctx, tr); err != nil {
			return transitions, fmt.Errorf("update trend stage: %w", err)
		}
		transitions++
	}
	return transitions, nil
}

func (s *Service) nextPatternStage(p EmergingPattern, now time.Time) string {
	stale := now.Sub(p.LastUpdatedAt)
	age := now.Sub(p.FirstDetectedAt)

	if stale > 30*24*time.Hour {
		return StageObsolete
	}
	if stale > 2*s.window() {
		return StageDeclining
	}
	switch p.LifecycleStage {
	case StageEmerging:
		if p.SignalCount >= 2*s.Settings.MinSupport {
			return StageDeveloping
		}
	case StageDeveloping:
		if age >= 14*24*time.Hour && p.SignalCount >= 4*s.Settings.MinSupport {
			return StageMature
		}
	case StageDeclining:
		// Fresh support resurrects a declining pattern.
		if stale <= s.window() {
			return StageDeveloping
		}
	}
	return p.LifecycleStage
}

func (s *Service) nextTrendStage(tr EmergingTrend, now time.Time) string {
	stale := now.Sub(tr.LastUpdatedAt)
	age := now.Sub(tr.FirstDetectedAt)

	if stale > 30*24*time.Hour {
		return StageObsolete
	}
	if stale > 2*s.window() {
		return StageDeclining
	}
	switch tr.LifecycleStage {
	case StageEmerging:
		if tr.SupportingSignals >= 2*s.Settings.MinSupport {
			return StageDeveloping
		}
	case StageDeveloping:
		if age >= 14*24*time.Hour && tr.SupportingSignals >= 4*s.Settings.MinSupport {
			return StageMature
		}
	}
	return tr.LifecycleStage
}

// ValidateHistorical scores patterns older than the minimum age against
// the recent window: realized accuracy is the share of theme tokens still
// appearing in fresh signals.
func (s *Service) ValidateHistorical(ctx context.Context) (int, error) {
	now := s.clock()().UTC()
	minAge := time.Duration(s.Settings.PatternMinAgeDays) * 24 * time.Hour

	patterns, err := s.Repo.ListPatterns(ctx, ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("list patterns: %w", err)
	}

	results, err := s.Analyses.ListWindow(ctx, now.Add(-s.window()), now)
	if err != nil {
		return 0, fmt.Errorf("list window: %w", err)
	}
	recent := tokenize(joinSignalText(results))

	scored := 0
	for _, p := range patterns {
		if now.Sub(p.FirstDetectedAt) < minAge {
			continue
		}
		themeTokens := tokenize(p.Theme)
		if len(themeTokens) == 0 {
			continue
		}
		hits := 0
		for tok := range themeTokens {
			if recent[tok] {
				hits++
			}
		}
		accuracy := float64(hits) / float64(len(themeTokens))
		if err := s.Repo.SetPatternAccuracy(ctx, p.ID, accuracy); err != nil {
			return scored, fmt.Errorf("set pattern accuracy: %w", err)
		}
		scored++
	}
	return scored, nil
}

// AverageAccuracy reports the mean realized accuracy across scored
// patterns and how many have been scored.
func (s *Service) AverageAccuracy(ctx context.Context) (float64, int, error) {
	patterns, err := s.Repo.ListPatterns(ctx, ListOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("list patterns: %w", err)
	}
	sum := 0.0
	scored := 0
	for _, p := range patterns {
		if p.RealizedAccuracy == nil {
			continue
		}
		sum += *p.RealizedAccuracy
		scored++
	}
	if scored == 0 {
		return 0, 0, nil
	}
	return sum / float64(scored), scored, nil
}

func (s *Service) window() time.Duration {
	hours := s.Settings.WindowHours
	if hours < minWindowHours {
		hours = minWindowHours
	}
	if hours > maxWindowHours {
		hours = maxWindowHours
	}
	return time.Duration(hours) * time.Hour
}

func (s *Service) maxQueries() int {
	if s.Settings.MaxQueriesPerTheme > 0 {
		return s.Settings.MaxQueriesPerTheme
	}
	return 3
}

func (s *Service) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

func distinctResultIDs(c Cluster) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sig := range c.Signals {
		if !seen[sig.ResultID] {
			seen[sig.ResultID] = true
			out = append(out, sig.ResultID)
		}
	}
	return out
}

func dominantType(c Cluster) string {
	counts := make(map[string]int)
	best, bestN := "", 0
	for _, sig := range c.Signals {
		counts[sig.Type]++
		if counts[sig.Type] > bestN {
			best, bestN = sig.Type, counts[sig.Type]
		}
	}
	return best
}

func strongestImplications(c Cluster) string {
	best := ""
	bestConf := -1.0
	for _, sig := range c.Signals {
		if sig.Confidence > bestConf && sig.Description != "" {
			best = sig.Description
			bestConf = sig.Confidence
		}
	}
	return best
}

func distinctArticles(signals []ClusterSignal) int {
	seen := make(map[string]bool)
	for _, sig := range signals {
		seen[sig.ArticleID] = true
	}
	return len(seen)
}

func distinctPublishers(signals []ClusterSignal) []string {
	seen := make(map[string]bool)
	for _, sig := range signals {
		if sig.Publisher != "" {
			seen[sig.Publisher] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func meanConfidence(signals []ClusterSignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	sum := 0.0
	for _, sig := range signals {
		sum += sig.Confidence
	}
	return sum / float64(len(signals))
}

func crossPublisherBonusFor(signals []ClusterSignal) float64 {
	if len(distinctPublishers(signals)) >= 2 {
		return crossPublisherBonus
	}
	return 0
}

func supportBonus(support, minSupport int) float64 {
	extra := support - minSupport
	if extra <= 0 {
		return 0
	}
	bonus := float64(extra) * supportBonusStep
	if bonus > maxSupportBonus {
		bonus = maxSupportBonus
	}
	return bonus
}

func trendDirection(signals []ClusterSignal) string {
	bullish, bearish, mixed := 0, 0, 0
	uniqueness := 0.0
	for _, sig := range signals {
		switch sig.Sentiment {
		case analysis.SentimentBullish:
			bullish++
		case analysis.SentimentBearish:
			bearish++
		case analysis.SentimentMixed:
			mixed++
		}
		uniqueness += sig.Uniqueness
	}
	n := len(signals)
	if n == 0 {
		return DirectionNeutral
	}
	if uniqueness/float64(n) > 0.7 && mixed*2 >= n {
		return DirectionDisruptive
	}
	if bullish > bearish*2 {
		return DirectionBullish
	}
	if bearish > bullish*2 {
		return DirectionBearish
	}
	return DirectionNeutral
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func joinSignalText(results []analysis.WindowResult) string {
	var b strings.Builder
	for _, r := range results {
		for _, sig := range r.WeakSignals {
			b.WriteString(sig.Type)
			b.WriteByte(' ')
			b.WriteString(sig.Description)
			b.WriteByte(' ')
		}
	}
	return b.String()
}
