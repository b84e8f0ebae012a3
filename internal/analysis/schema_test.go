package analysis

import (
	"encoding/json"
	"errors"
	"testing"

	"signals-backend/internal/llm"
)

func validAnalysisJSON(t *testing.T) json.RawMessage {
	t.Helper()
	doc := llm.AnalysisDocument{
		Sentiment:   SentimentBullish,
		ImpactScore: 0.7,
		Summary:     "Institutional custody products are expanding faster than coverage suggests.",
		WeakSignals: []llm.SignalDocument{
			{
				Type:        "adoption",
				Description: "regional banks quietly piloting custody",
				Confidence:  0.65,
				Evidence:    []string{"three pilots mentioned in passing"},
				Timeframe:   "months",
			},
		},
		Confidence:     0.8,
		SignalStrength: 0.6,
		Uniqueness:     0.55,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return raw
}

func TestParseAnalysisDocument(t *testing.T) {
	doc, err := ParseAnalysisDocument(validAnalysisJSON(t))
	if err != nil {
		t.Fatalf("expected valid document to parse, got: %v", err)
	}
	if doc.Sentiment != SentimentBullish || len(doc.WeakSignals) != 1 {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestParseAnalysisDocumentRejectsUnknownSentiment(t *testing.T) {
	raw := []byte(`{"sentiment":"moon","impactScore":0.5,"summary":"s","weakSignals":[],"patternAnomalies":[],"adjacentConnections":[],"confidence":0.5,"signalStrength":0.5,"uniqueness":0.5}`)

	_, err := ParseAnalysisDocument(raw)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got: %v", err)
	}
	if schemaErr.Field != "sentiment" {
		t.Fatalf("expected sentiment field, got %q", schemaErr.Field)
	}
}

func TestParseAnalysisDocumentRejectsOutOfRangeScore(t *testing.T) {
	raw := []byte(`{"sentiment":"neutral","impactScore":1.4,"summary":"s","weakSignals":[],"patternAnomalies":[],"adjacentConnections":[],"confidence":0.5,"signalStrength":0.5,"uniqueness":0.5}`)

	var schemaErr *SchemaError
	if !errors.As(mustFailAnalysis(t, raw), &schemaErr) {
		t.Fatalf("expected SchemaError for out-of-range impact score")
	}
}

func TestParseAnalysisDocumentRejectsEmptySummary(t *testing.T) {
	raw := []byte(`{"sentiment":"neutral","impactScore":0.4,"summary":"","weakSignals":[],"patternAnomalies":[],"adjacentConnections":[],"confidence":0.5,"signalStrength":0.5,"uniqueness":0.5}`)

	var schemaErr *SchemaError
	if !errors.As(mustFailAnalysis(t, raw), &schemaErr) {
		t.Fatalf("expected SchemaError for empty summary")
	}
	if schemaErr.Field != "summary" {
		t.Fatalf("expected summary field, got %q", schemaErr.Field)
	}
}

func TestParseAnalysisDocumentRejectsMalformedJSON(t *testing.T) {
	var schemaErr *SchemaError
	if !errors.As(mustFailAnalysis(t, []byte(`{"sentiment":`)), &schemaErr) {
		t.Fatalf("expected SchemaError for malformed JSON")
	}
}

func TestParseValidationDocument(t *testing.T) {
	raw := []byte(`{"verdicts":[{"index":0,"state":"validated","confidence":0.8,"notes":"supported by two sources"}],"additionalSignals":[],"evidenceConfidence":0.7}`)

	doc, err := ParseValidationDocument(raw, 1)
	if err != nil {
		t.Fatalf("expected valid validation document, got: %v", err)
	}
	if len(doc.Verdicts) != 1 || doc.Verdicts[0].State != SignalValidated {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestParseValidationDocumentRejectsBadIndex(t *testing.T) {
	raw := []byte(`{"verdicts":[{"index":3,"state":"validated","confidence":0.8,"notes":""}],"additionalSignals":[],"evidenceConfidence":0.7}`)

	var schemaErr *SchemaError
	if _, err := ParseValidationDocument(raw, 2); !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError for verdict index out of range, got: %v", err)
	}
}

func TestParseValidationDocumentRejectsUnknownState(t *testing.T) {
	raw := []byte(`{"verdicts":[{"index":0,"state":"maybe","confidence":0.8,"notes":""}],"additionalSignals":[],"evidenceConfidence":0.7}`)

	var schemaErr *SchemaError
	if _, err := ParseValidationDocument(raw, 1); !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError for unknown verdict state, got: %v", err)
	}
}

func mustFailAnalysis(t *testing.T, raw []byte) error {
	t.Helper()
	_, err := ParseAnalysisDocument(raw)
	if err == nil {
		t.Fatalf("expected parse to fail")
	}
	return err
}
