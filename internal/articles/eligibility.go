package articles

import "strings"

// IneligibleError signals that an article does not qualify for paid analysis.
// It is not a processing failure.
type IneligibleError struct {
	Reason string
}

func (e *IneligibleError) Error() string { return "article ineligible: " + e.Reason }

// EligibilityPolicy is the gate that decides whether an article qualifies
// for analysis and which priority tier its publisher belongs to.
type EligibilityPolicy struct {
	MinBodyChars       int
	approvedPublishers map[string]struct{}
	qualityPublishers  map[string]struct{}
	languages          map[string]struct{}
}

// NewEligibilityPolicy builds a policy from configured publisher and language lists.
func NewEligibilityPolicy(minBodyChars int, approved, quality, languages []string) EligibilityPolicy {
	return EligibilityPolicy{
		MinBodyChars:       minBodyChars,
		approvedPublishers: toSet(approved),
		qualityPublishers:  toSet(quality),
		languages:          toSet(languages),
	}
}

// Check returns nil if the article qualifies for analysis, or an
// *IneligibleError naming the first failed gate.
func (p EligibilityPolicy) Check(a Article) error {
	if a.Status != StatusActive {
		return &IneligibleError{Reason: "article not active"}
	}
	if len(a.Body) < p.MinBodyChars {
		return &IneligibleError{Reason: "body below minimum length"}
	}
	if _, ok := p.approvedPublishers[normalize(a.Publisher)]; !ok {
		return &IneligibleError{Reason: "publisher not approved"}
	}
	if _, ok := p.languages[normalize(a.Language)]; !ok {
		return &IneligibleError{Reason: "language not supported"}
	}
	return nil
}

// Tier returns 0 for quality-tier publishers and 1 otherwise. Lower sorts first.
func (p EligibilityPolicy) Tier(publisher string) int {
	if _, ok := p.qualityPublishers[normalize(publisher)]; ok {
		return 0
	}
	return 1
}

// ApprovedPublishers returns the approved publisher names, for query filters.
func (p EligibilityPolicy) ApprovedPublishers() []string {
	out := make([]string, 0, len(p.approvedPublishers))
	for pub := range p.approvedPublishers {
		out = append(out, pub)
	}
	return out
}

// Languages returns the supported language codes, for query filters.
func (p EligibilityPolicy) Languages() []string {
	out := make([]string, 0, len(p.languages))
	for lang := range p.languages {
		out = append(out, lang)
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := normalize(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
