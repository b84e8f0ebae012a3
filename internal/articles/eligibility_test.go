package articles

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testPolicy() EligibilityPolicy {
	return NewEligibilityPolicy(
		2000,
		[]string{"CoinDesk", "The Block", "Decrypt"},
		[]string{"CoinDesk", "The Block"},
		[]string{"en"},
	)
}

func eligibleArticle() Article {
	return Article{
		ID:          "a1",
		Title:       "Custody adoption accelerates",
		Publisher:   "CoinDesk",
		Body:        strings.Repeat("x", 2000),
		Language:    "en",
		Status:      StatusActive,
		PublishedAt: time.Now(),
	}
}

func TestEligibilityPasses(t *testing.T) {
	policy := testPolicy()
	if err := policy.Check(eligibleArticle()); err != nil {
		t.Fatalf("expected eligible article to pass, got: %v", err)
	}
}

func TestEligibilityBodyTooShort(t *testing.T) {
	policy := testPolicy()
	a := eligibleArticle()
	a.Body = strings.Repeat("x", 1999)

	err := policy.Check(a)
	var ineligible *IneligibleError
	if !errors.As(err, &ineligible) {
		t.Fatalf("expected IneligibleError, got: %v", err)
	}
	if !strings.Contains(ineligible.Reason, "body") {
		t.Fatalf("expected body reason, got %q", ineligible.Reason)
	}
}

func TestEligibilityUnapprovedPublisher(t *testing.T) {
	policy := testPolicy()
	a := eligibleArticle()
	a.Publisher = "Random Blog"

	var ineligible *IneligibleError
	if !errors.As(policy.Check(a), &ineligible) {
		t.Fatalf("expected unapproved publisher to be rejected")
	}
}

func TestEligibilityPublisherCaseInsensitive(t *testing.T) {
	policy := testPolicy()
	a := eligibleArticle()
	a.Publisher = "coindesk"

	if err := policy.Check(a); err != nil {
		t.Fatalf("expected case-insensitive publisher match, got: %v", err)
	}
}

func TestEligibilityUnsupportedLanguage(t *testing.T) {
	policy := testPolicy()
	a := eligibleArticle()
	a.Language = "de"

	var ineligible *IneligibleError
	if !errors.As(policy.Check(a), &ineligible) {
		t.Fatalf("expected unsupported language to be rejected")
	}
}

func TestEligibilityInactiveStatus(t *testing.T) {
	policy := testPolicy()
	a := eligibleArticle()
	a.Status = "archived"

	var ineligible *IneligibleError
	if !errors.As(policy.Check(a), &ineligible) {
		t.Fatalf("expected inactive article to be rejected")
	}
}

func TestPublisherTier(t *testing.T) {
	policy := testPolicy()
	if tier := policy.Tier("CoinDesk"); tier != 0 {
		t.Fatalf("expected quality publisher tier 0, got %d", tier)
	}
	if tier := policy.Tier("Decrypt"); tier != 1 {
		t.Fatalf("expected standard publisher tier 1, got %d", tier)
	}
}

func TestMemoryRepoListAnalyzable(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	policy := testPolicy()

	older := eligibleArticle()
	older.ID = "old"
	older.PublishedAt = time.Now().Add(-time.Hour)
	newer := eligibleArticle()
	newer.ID = "new"
	short := eligibleArticle()
	short.ID = "short"
	short.Body = "too short"

	for _, a := range []Article{older, newer, short} {
		if err := repo.Insert(ctx, a); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := repo.ListAnalyzable(ctx, policy, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 eligible articles, got %d", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "old" {
		t.Fatalf("expected newest-first ordering, got %s then %s", got[0].ID, got[1].ID)
	}
}
