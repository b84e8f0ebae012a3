package analysis

import (
	"encoding/json"
	"fmt"

	"signals-backend/internal/llm"
)

// SchemaError reports a structured output that does not satisfy the
// contract. Schema mismatches are permanent failures, never coerced.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llm output schema: field %q %s", e.Field, e.Reason)
}

var validSentiments = map[string]bool{
	SentimentBullish: true,
	SentimentBearish: true,
	SentimentNeutral: true,
	SentimentMixed:   true,
}

var validVerdictStates = map[string]bool{
	SignalValidated:    true,
	SignalContradicted: true,
	SignalInconclusive: true,
}

// ParseAnalysisDocument strictly decodes and validates a content analysis
// output.
func ParseAnalysisDocument(raw json.RawMessage) (llm.AnalysisDocument, error) {
	var doc llm.AnalysisDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return llm.AnalysisDocument{}, &SchemaError{Field: "document", Reason: fmt.Sprintf("does not decode: %v", err)}
	}
	if !validSentiments[doc.Sentiment] {
		return llm.AnalysisDocument{}, &SchemaError{Field: "sentiment", Reason: fmt.Sprintf("has unknown value %q", doc.Sentiment)}
	}
	if doc.Summary == "" {
		return llm.AnalysisDocument{}, &SchemaError{Field: "summary", Reason: "is empty"}
	}
	for field, v := range map[string]float64{
		"impactScore":    doc.ImpactScore,
		"confidence":     doc.Confidence,
		"signalStrength": doc.SignalStrength,
		"uniqueness":     doc.Uniqueness,
	} {
		if v < 0 || v > 1 {
			return llm.AnalysisDocument{}, &SchemaError{Field: field, Reason: fmt.Sprintf("is out of range: %v", v)}
		}
	}
	for i, s := range doc.WeakSignals {
		if s.Description == "" {
			return llm.AnalysisDocument{}, &SchemaError{Field: fmt.Sprintf("weakSignals[%d].description", i), Reason: "is empty"}
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return llm.AnalysisDocument{}, &SchemaError{Field: fmt.Sprintf("weakSignals[%d].confidence", i), Reason: fmt.Sprintf("is out of range: %v", s.Confidence)}
		}
	}
	for i, a := range doc.PatternAnomalies {
		if a.Significance < 0 || a.Significance > 1 {
			return llm.AnalysisDocument{}, &SchemaError{Field: fmt.Sprintf("patternAnomalies[%d].significance", i), Reason: fmt.Sprintf("is out of range: %v", a.Significance)}
		}
	}
	for i, c := range doc.AdjacentConnections {
		if c.Relevance < 0 || c.Relevance > 1 {
			return llm.AnalysisDocument{}, &SchemaError{Field: fmt.Sprintf("adjacentConnections[%d].relevance", i), Reason: fmt.Sprintf("is out of range: %v", c.Relevance)}
		}
	}
	return doc, nil
}

// ParseValidationDocument strictly decodes and validates a signal
// validation output. signalCount bounds the verdict indices.
func ParseValidationDocument(raw json.RawMessage, signalCount int) (llm.ValidationDocument, error) {
	var doc llm.ValidationDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return llm.ValidationDocument{}, &SchemaError{Field: "document", Reason: fmt.Sprintf("does not decode: %v", err)}
	}
	for i, v := range doc.Verdicts {
		if v.Index < 0 || v.Index >= signalCount {
			return llm.ValidationDocument{}, &SchemaError{Field: fmt.Sprintf("verdicts[%d].index", i), Reason: fmt.Sprintf("is out of range: %d", v.Index)}
		}
		if !validVerdictStates[v.State] {
			return llm.ValidationDocument{}, &SchemaError{Field: fmt.Sprintf("verdicts[%d].state", i), Reason: fmt.Sprintf("has unknown value %q", v.State)}
		}
		if v.Confidence < 0 || v.Confidence > 1 {
			return llm.ValidationDocument{}, &SchemaError{Field: fmt.Sprintf("verdicts[%d].confidence", i), Reason: fmt.Sprintf("is out of range: %v", v.Confidence)}
		}
	}
	if doc.EvidenceConfidence < 0 || doc.EvidenceConfidence > 1 {
		return llm.ValidationDocument{}, &SchemaError{Field: "evidenceConfidence", Reason: fmt.Sprintf("is out of range: %v", doc.EvidenceConfidence)}
	}
	for i, s := range doc.AdditionalSignals {
		if s.Description == "" {
			return llm.ValidationDocument{}, &SchemaError{Field: fmt.Sprintf("additionalSignals[%d].description", i), Reason: "is empty"}
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			return llm.ValidationDocument{}, &SchemaError{Field: fmt.Sprintf("additionalSignals[%d].confidence", i), Reason: fmt.Sprintf("is out of range: %v", s.Confidence)}
		}
	}
	return doc, nil
}
