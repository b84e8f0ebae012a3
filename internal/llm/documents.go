package llm

// AnalysisDocument is the structured output of the content analysis call.
type AnalysisDocument struct {
	Sentiment           string               `json:"sentiment" jsonschema:"enum=bullish,enum=bearish,enum=neutral,enum=mixed" jsonschema_description:"Overall market sentiment conveyed by the article"`
	ImpactScore         float64              `json:"impactScore" jsonschema_description:"Estimated market impact between 0 and 1"`
	Summary             string               `json:"summary" jsonschema_description:"Two to four sentence summary of the article"`
	WeakSignals         []SignalDocument     `json:"weakSignals" jsonschema_description:"Early, low-visibility signals worth tracking"`
	PatternAnomalies    []AnomalyDocument    `json:"patternAnomalies" jsonschema_description:"Deviations from expected market or narrative patterns"`
	AdjacentConnections []ConnectionDocument `json:"adjacentConnections" jsonschema_description:"Links between the crypto topic and adjacent domains"`
	Confidence          float64              `json:"confidence" jsonschema_description:"Model confidence in the analysis between 0 and 1"`
	SignalStrength      float64              `json:"signalStrength" jsonschema_description:"Aggregate strength of the detected signals between 0 and 1"`
	Uniqueness          float64              `json:"uniqueness" jsonschema_description:"How novel the insights are versus common coverage, 0 to 1"`
}

// SignalDocument describes a single weak signal.
type SignalDocument struct {
	Type         string   `json:"type" jsonschema_description:"Short category label, e.g. regulatory, adoption, technical"`
	Description  string   `json:"description" jsonschema_description:"What the signal is"`
	Confidence   float64  `json:"confidence" jsonschema_description:"Confidence in the signal between 0 and 1"`
	Implications string   `json:"implications" jsonschema_description:"What the signal implies if it holds"`
	Evidence     []string `json:"evidence" jsonschema_description:"Phrases from the article supporting the signal"`
	Timeframe    string   `json:"timeframe" jsonschema_description:"Expected horizon, e.g. weeks, months"`
}

// AnomalyDocument describes a deviation from an expected pattern.
type AnomalyDocument struct {
	ExpectedPattern   string   `json:"expectedPattern" jsonschema_description:"What usually happens"`
	ObservedPattern   string   `json:"observedPattern" jsonschema_description:"What the article reports instead"`
	Significance      float64  `json:"significance" jsonschema_description:"How meaningful the deviation is, 0 to 1"`
	HistoricalContext string   `json:"historicalContext" jsonschema_description:"Prior occurrences of similar deviations"`
	CandidateCauses   []string `json:"candidateCauses" jsonschema_description:"Plausible explanations for the deviation"`
}

// ConnectionDocument links the crypto topic to an adjacent domain.
type ConnectionDocument struct {
	CryptoElement   string  `json:"cryptoElement" jsonschema_description:"The crypto-side element involved"`
	Domain          string  `json:"domain" jsonschema_description:"The adjacent domain, e.g. payments, gaming, AI"`
	ConnectionType  string  `json:"connectionType" jsonschema_description:"Nature of the link, e.g. dependency, competition"`
	Relevance       float64 `json:"relevance" jsonschema_description:"Relevance of the connection, 0 to 1"`
	Opportunity     string  `json:"opportunity" jsonschema_description:"The opportunity the connection suggests"`
	WatchIndicators string  `json:"watchIndicators" jsonschema_description:"What to monitor to confirm the connection"`
}

// ValidationDocument is the structured output of the signal validation call.
type ValidationDocument struct {
	Verdicts           []VerdictDocument `json:"verdicts" jsonschema_description:"One verdict per submitted signal, addressed by index"`
	AdditionalSignals  []SignalDocument  `json:"additionalSignals" jsonschema_description:"Signals the validation pass surfaced that stage one missed"`
	EvidenceConfidence float64           `json:"evidenceConfidence" jsonschema_description:"Confidence in the external evidence base, 0 to 1"`
}

// VerdictDocument is the validation outcome for one signal.
type VerdictDocument struct {
	Index      int     `json:"index" jsonschema_description:"Index of the signal this verdict addresses"`
	State      string  `json:"state" jsonschema:"enum=validated,enum=contradicted,enum=inconclusive" jsonschema_description:"Validation outcome"`
	Confidence float64 `json:"confidence" jsonschema_description:"Adjusted confidence after validation, 0 to 1"`
	Notes      string  `json:"notes" jsonschema_description:"Reasoning behind the verdict"`
}
