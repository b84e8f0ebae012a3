package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"signals-backend/internal/analysis"
	"signals-backend/internal/articles"
	"signals-backend/internal/research"
)

// fakeResearch returns a fixed number of hits for every query.
type fakeResearch struct {
	hits int
	err  error
}

func (f *fakeResearch) Search(ctx context.Context, query string, limit int) ([]research.Evidence, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]research.Evidence, 0, f.hits)
	for i := 0; i < f.hits; i++ {
		out = append(out, research.Evidence{
			Query:   query,
			Title:   fmt.Sprintf("coverage %d", i),
			URL:     fmt.Sprintf("https://example.com/%s/%d", query, i),
			Snippet: "corroborating coverage",
			Source:  "example.com",
		})
	}
	return out, nil
}

type aggFixture struct {
	svc      *Service
	repo     *MemoryRepo
	analyses *analysis.MemoryRepo
	articles *articles.MemoryRepo
	now      time.Time
}

func newAggFixture(t *testing.T, client research.Client) *aggFixture {
	t.Helper()
	articleRepo := articles.NewMemoryRepo()
	analysisRepo := analysis.NewMemoryRepo(articleRepo)
	repo := NewMemoryRepo()
	svc := NewService(analysisRepo, repo, client, DefaultSettings())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return &aggFixture{svc: svc, repo: repo, analyses: analysisRepo, articles: articleRepo, now: now}
}

// seedResult inserts one article plus its analysis result carrying a single
// weak signal of the given type and description.
func (f *aggFixture) seedResult(t *testing.T, n int, publisher, sigType, description string, confidence float64, sentiment string) {
	t.Helper()
	ctx := context.Background()
	articleID := fmt.Sprintf("art-%s-%d", sigType, n)
	err := f.articles.Insert(ctx, articles.Article{
		ID:          articleID,
		Title:       description,
		Publisher:   publisher,
		Body:        description,
		Language:    "en",
		Status:      articles.StatusActive,
		PublishedAt: f.now.Add(-6 * time.Hour),
		CreatedAt:   f.now.Add(-6 * time.Hour),
	})
	if err != nil {
		t.Fatalf("insert article: %v", err)
	}
	err = f.analyses.Create(ctx, analysis.AnalysisResult{
		ID:        "res-" + articleID,
		ArticleID: articleID,
		Version:   analysis.CurrentVersion,
		Sentiment: sentiment,
		Summary:   description,
		WeakSignals: []analysis.WeakSignal{{
			Type:            sigType,
			Description:     description,
			Confidence:      confidence,
			ValidationState: analysis.SignalValidated,
		}},
		Confidence:       confidence,
		SignalStrength:   confidence,
		Uniqueness:       0.4,
		ValidationStatus: analysis.ValidationValidated,
		CreatedAt:        f.now.Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create result: %v", err)
	}
}

func seedCustodyCluster(t *testing.T, f *aggFixture) {
	publishers := []string{"CoinDesk", "The Block", "Decrypt", "CoinDesk", "The Block"}
	for i, pub := range publishers {
		f.seedResult(t, i, pub, "adoption",
			"institutional custody adoption accelerating across major banks",
			0.75, analysis.SentimentBullish)
	}
}

func TestRunCyclePromotesCrossPublisherPattern(t *testing.T) {
	f := newAggFixture(t, &fakeResearch{hits: 2})
	seedCustodyCluster(t, f)

	stats, err := f.svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Results != 5 || stats.Signals != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Candidates != 1 || stats.PatternsPromoted != 1 {
		t.Fatalf("expected one promoted candidate, got %+v", stats)
	}

	patterns, err := f.repo.ListPatterns(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("list patterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if !p.CrossPublisher {
		t.Fatalf("expected cross-publisher validation")
	}
	if len(p.Publishers) != 3 {
		t.Fatalf("expected 3 publishers, got %v", p.Publishers)
	}
	if p.SignalCount != 5 {
		t.Fatalf("expected 5 supporting signals, got %d", p.SignalCount)
	}
	if p.LifecycleStage != StageEmerging {
		t.Fatalf("expected emerging stage, got %s", p.LifecycleStage)
	}
	if len(p.ValidationSources) == 0 {
		t.Fatalf("expected external validation sources recorded")
	}
	if p.Confidence <= 0.75 {
		t.Fatalf("expected cross-publisher bonus applied, got %v", p.Confidence)
	}
}

func TestRunCyclePromotesTrendWithPriority(t *testing.T) {
	f := newAggFixture(t, &fakeResearch{hits: 2})
	seedCustodyCluster(t, f)

	stats, err := f.svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.TrendsPromoted != 1 {
		t.Fatalf("expected one trend promoted, got %+v", stats)
	}

	trends, err := f.repo.ListTrends(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("list trends: %v", err)
	}
	if len(trends) != 1 {
		t.Fatalf("expected one trend, got %d", len(trends))
	}
	tr := trends[0]
	if tr.Theme != "adoption" {
		t.Fatalf("unexpected trend theme %q", tr.Theme)
	}
	if tr.NewsletterPriority != 1 {
		t.Fatalf("expected top newsletter priority, got %d", tr.NewsletterPriority)
	}
	if tr.Direction != DirectionBullish {
		t.Fatalf("expected bullish direction, got %s", tr.Direction)
	}
	if tr.Confidence <= f.svc.Settings.TrendConfidenceBar {
		t.Fatalf("trend confidence %v should clear the bar", tr.Confidence)
	}
}

func TestRunCycleSkipsBelowMinSupport(t *testing.T) {
	f := newAggFixture(t, &fakeResearch{hits: 2})
	f.seedResult(t, 0, "CoinDesk", "adoption",
		"institutional custody adoption accelerating", 0.9, analysis.SentimentBullish)
	f.seedResult(t, 1, "Decrypt", "adoption",
		"institutional custody adoption accelerating", 0.9, analysis.SentimentBullish)

	stats, err := f.svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Candidates != 0 || stats.PatternsPromoted != 0 || stats.TrendsPromoted != 0 {
		t.Fatalf("two articles must not promote anything: %+v", stats)
	}
}

func TestRunCycleHoldsCandidateWithoutEvidence(t *testing.T) {
	// One hit per query scores 1/3, below the evidence threshold.
	f := newAggFixture(t, &fakeResearch{hits: 1})
	seedCustodyCluster(t, f)

	stats, err := f.svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.Candidates != 1 {
		t.Fatalf("cluster should still qualify as candidate: %+v", stats)
	}
	if stats.PatternsPromoted != 0 {
		t.Fatalf("weak external evidence must not promote: %+v", stats)
	}
	patterns, _ := f.repo.ListPatterns(context.Background(), ListOptions{})
	if len(patterns) != 0 {
		t.Fatalf("expected no stored patterns, got %d", len(patterns))
	}
}

func TestRunCycleDegradesWhenSearchUnconfigured(t *testing.T) {
	f := newAggFixture(t, research.PlaceholderClient{})
	seedCustodyCluster(t, f)

	stats, err := f.svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle should tolerate unconfigured search: %v", err)
	}
	if stats.PatternsPromoted != 0 {
		t.Fatalf("no external evidence means no promotion: %+v", stats)
	}
}

func TestRunCycleMergesExistingPattern(t *testing.T) {
	f := newAggFixture(t, &fakeResearch{hits: 2})
	seedCustodyCluster(t, f)

	if _, err := f.svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	first, err := f.repo.ListPatterns(context.Background(), ListOptions{})
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one pattern after first cycle: %v", err)
	}

	if _, err := f.svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	second, _ := f.repo.ListPatterns(context.Background(), ListOptions{})
	if len(second) != 1 {
		t.Fatalf("re-observation must merge, not duplicate: got %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("pattern identity must survive merging")
	}
	if !second[0].FirstDetectedAt.Equal(first[0].FirstDetectedAt) {
		t.Fatalf("first detection timestamp must be preserved")
	}
	if second[0].SignalCount != first[0].SignalCount+5 {
		t.Fatalf("expected signal count to accumulate, got %d", second[0].SignalCount)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	f := newAggFixture(t, &fakeResearch{hits: 2})
	ctx := context.Background()

	// Fresh pattern with doubled support advances to developing.
	developing := EmergingPattern{
		ID: "pat-dev", Theme: "custody adoption", PatternType: "adoption",
		Confidence: 0.8, SignalCount: 2 * f.svc.Settings.MinSupport,
		LifecycleStage:  StageEmerging,
		FirstDetectedAt: f.now.Add(-48 * time.Hour),
		LastUpdatedAt:   f.now.Add(-1 * time.Hour),
	}
	// Pattern untouched for ten days falls to declining.
	declining := EmergingPattern{
		ID: "pat-dec", Theme: "exchange outage", PatternType: "anomaly",
		Confidence: 0.7, SignalCount: 3,
		LifecycleStage:  StageDeveloping,
		FirstDetectedAt: f.now.Add(-20 * 24 * time.Hour),
		LastUpdatedAt:   f.now.Add(-10 * 24 * time.Hour),
	}
	// Pattern untouched beyond thirty days retires.
	obsolete := EmergingPattern{
		ID: "pat-obs", Theme: "nft mania", PatternType: "adoption",
		Confidence: 0.6, SignalCount: 3,
		LifecycleStage:  StageDeclining,
		FirstDetectedAt: f.now.Add(-90 * 24 * time.Hour),
		LastUpdatedAt:   f.now.Add(-40 * 24 * time.Hour),
	}
	for _, p := range []EmergingPattern{developing, declining, obsolete} {
		if err := f.repo.UpsertPattern(ctx, p); err != nil {
			t.Fatalf("seed pattern: %v", err)
		}
	}

	stats, err := f.svc.RunCycle(ctx)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if stats.StagesTransitions != 3 {
		t.Fatalf("expected 3 lifecycle transitions, got %d", stats.StagesTransitions)
	}

	assertStage := func(theme, want string) {
		t.Helper()
		p, err := f.repo.GetPatternByTheme(ctx, theme)
		if err != nil {
			t.Fatalf("get pattern %q: %v", theme, err)
		}
		if p.LifecycleStage != want {
			t.Fatalf("pattern %q: expected stage %s, got %s", theme, want, p.LifecycleStage)
		}
	}
	assertStage("custody adoption", StageDeveloping)
	assertStage("exchange outage", StageDeclining)
	assertStage("nft mania", StageObsolete)
}

func TestValidateHistoricalScoresOldPatterns(t *testing.T) {
	f := newAggFixture(t, &fakeResearch{hits: 2})
	ctx := context.Background()
	seedCustodyCluster(t, f)

	aged := EmergingPattern{
		ID: "pat-aged", Theme: "custody adoption", PatternType: "adoption",
		Confidence: 0.8, SignalCount: 5,
		LifecycleStage:  StageMature,
		FirstDetectedAt: f.now.Add(-45 * 24 * time.Hour),
		LastUpdatedAt:   f.now.Add(-1 * time.Hour),
	}
	stale := EmergingPattern{
		ID: "pat-stale", Theme: "mining difficulty", PatternType: "anomaly",
		Confidence: 0.7, SignalCount: 4,
		LifecycleStage:  StageMature,
		FirstDetectedAt: f.now.Add(-45 * 24 * time.Hour),
		LastUpdatedAt:   f.now.Add(-1 * time.Hour),
	}
	young := EmergingPattern{
		ID: "pat-young", Theme: "etf flows", PatternType: "adoption",
		Confidence: 0.8, SignalCount: 4,
		LifecycleStage:  StageEmerging,
		FirstDetectedAt: f.now.Add(-2 * 24 * time.Hour),
		LastUpdatedAt:   f.now.Add(-1 * time.Hour),
	}
	for _, p := range []EmergingPattern{aged, stale, young} {
		if err := f.repo.UpsertPattern(ctx, p); err != nil {
			t.Fatalf("seed pattern: %v", err)
		}
	}

	scored, err := f.svc.ValidateHistorical(ctx)
	if err != nil {
		t.Fatalf("validate historical: %v", err)
	}
	if scored != 2 {
		t.Fatalf("expected the two aged patterns scored, got %d", scored)
	}

	got, err := f.repo.GetPatternByTheme(ctx, "custody adoption")
	if err != nil {
		t.Fatalf("get aged pattern: %v", err)
	}
	if got.RealizedAccuracy == nil || *got.RealizedAccuracy != 1 {
		t.Fatalf("expected full realized accuracy, got %v", got.RealizedAccuracy)
	}

	missed, err := f.repo.GetPatternByTheme(ctx, "mining difficulty")
	if err != nil {
		t.Fatalf("get stale pattern: %v", err)
	}
	if missed.RealizedAccuracy == nil || *missed.RealizedAccuracy != 0 {
		t.Fatalf("expected zero realized accuracy, got %v", missed.RealizedAccuracy)
	}

	fresh, err := f.repo.GetPatternByTheme(ctx, "etf flows")
	if err != nil {
		t.Fatalf("get young pattern: %v", err)
	}
	if fresh.RealizedAccuracy != nil {
		t.Fatalf("young pattern must not be scored yet")
	}
}
