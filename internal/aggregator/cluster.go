package aggregator

import (
	"sort"
	"strings"
)

// joinThreshold is the token similarity needed to join a signal into an
// existing cluster.
const joinThreshold = 0.3

// ClusterSignal is one weak signal flattened out of an analysis result for
// clustering.
type ClusterSignal struct {
	ResultID    string
	ArticleID   string
	Publisher   string
	Sentiment   string
	Type        string
	Description string
	Confidence  float64
	Uniqueness  float64

	tokens map[string]bool
}

// Cluster is a group of thematically similar signals.
type Cluster struct {
	Signals []ClusterSignal
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "into": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "their": true, "this": true, "to": true, "with": true,
}

// tokenize lowercases, strips punctuation and drops stopwords.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		word := b.String()
		b.Reset()
		if len(word) < 3 || stopwords[word] {
			return
		}
		tokens[word] = true
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// BuildClusters greedily groups signals by token overlap: each signal joins
// the first cluster it is similar enough to, or starts a new one.
func BuildClusters(signals []ClusterSignal) []Cluster {
	for i := range signals {
		signals[i].tokens = tokenize(signals[i].Type + " " + signals[i].Description)
	}

	var clusters []Cluster
	for _, sig := range signals {
		joined := false
		for i := range clusters {
			if clusterSimilarity(clusters[i], sig) >= joinThreshold {
				clusters[i].Signals = append(clusters[i].Signals, sig)
				joined = true
				break
			}
		}
		if !joined {
			clusters = append(clusters, Cluster{Signals: []ClusterSignal{sig}})
		}
	}
	return clusters
}

// clusterSimilarity is the mean similarity between the candidate and the
// cluster's members.
func clusterSimilarity(c Cluster, sig ClusterSignal) float64 {
	if len(c.Signals) == 0 {
		return 0
	}
	sum := 0.0
	for _, member := range c.Signals {
		sum += jaccard(member.tokens, sig.tokens)
	}
	return sum / float64(len(c.Signals))
}

// Support counts distinct supporting articles.
func (c Cluster) Support() int {
	seen := make(map[string]bool)
	for _, sig := range c.Signals {
		seen[sig.ArticleID] = true
	}
	return len(seen)
}

// Publishers returns the distinct publishers, sorted.
func (c Cluster) Publishers() []string {
	seen := make(map[string]bool)
	for _, sig := range c.Signals {
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

// Correlation is the mean pairwise token similarity across members. A
// single-signal cluster has correlation 1.
func (c Cluster) Correlation() float64 {
	n := len(c.Signals)
	if n <= 1 {
		return 1
	}
	sum := 0.0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += jaccard(c.Signals[i].tokens, c.Signals[j].tokens)
			pairs++
		}
	}
	return sum / float64(pairs)
}

// MeanConfidence averages member signal confidences.
func (c Cluster) MeanConfidence() float64 {
	if len(c.Signals) == 0 {
		return 0
	}
	sum := 0.0
	for _, sig := range c.Signals {
		sum += sig.Confidence
	}
	return sum / float64(len(c.Signals))
}

// SignalTypes returns the distinct signal types in the cluster.
func (c Cluster) SignalTypes() []string {
	seen := make(map[string]bool)
	for _, sig := range c.Signals {
		if sig.Type != "" {
			seen[sig.Type] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Theme derives a stable label from tokens shared by at least half of the
// cluster's signals, in the order they appear in the first signal.
func (c Cluster) Theme() string {
	if len(c.Signals) == 0 {
		return ""
	}
	counts := make(map[string]int)
	for _, sig := range c.Signals {
		for t := range sig.tokens {
			counts[t]++
		}
	}
	need := (len(c.Signals) + 1) / 2

	first := c.Signals[0]
	ordered := orderedTokens(first.Type + " " + first.Description)
	var parts []string
	for _, t := range ordered {
		if counts[t] >= need && !stopwords[t] && len(t) >= 3 {
			parts = append(parts, t)
		}
		if len(parts) == 4 {
			break
		}
	}
	if len(parts) == 0 {
		return strings.ToLower(strings.TrimSpace(first.Description))
	}
	return strings.Join(parts, " ")
}

func orderedTokens(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
		})
		if word == "" || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
	}
	return out
}
