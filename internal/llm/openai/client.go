// Package openai implements the model client against the OpenAI responses
// API with strict structured outputs.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"signals-backend/internal/llm"
)

var (
	analysisSchema   = generateSchema[llm.AnalysisDocument]()
	validationSchema = generateSchema[llm.ValidationDocument]()
)

// Client calls OpenAI and prices each call from configured token rates.
type Client struct {
	client          *openai.Client
	model           string
	inputCostPer1K  float64
	outputCostPer1K float64
	maxOutputTokens int64
}

var _ llm.Client = (*Client)(nil)

// NewClient constructs a Client. Costs are dollars per 1000 tokens.
func NewClient(apiKey, model string, inputCostPer1K, outputCostPer1K float64) *Client {
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client:          &c,
		model:           model,
		inputCostPer1K:  inputCostPer1K,
		outputCostPer1K: outputCostPer1K,
		maxOutputTokens: 4000,
	}
}

// AnalyzeArticle runs the content analysis call and returns the raw
// structured output.
func (c *Client) AnalyzeArticle(ctx context.Context, in llm.AnalyzeInput) (json.RawMessage, llm.Usage, error) {
	input := buildAnalyzePrompt(in)
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "ArticleAnalysis",
			Schema:      analysisSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Structured crypto article analysis"),
			Type:        "json_schema",
		},
	}
	return c.call(ctx, analyzeInstructions, input, format)
}

// ValidateSignals runs the validation call over stage-one signals and any
// external evidence.
func (c *Client) ValidateSignals(ctx context.Context, in llm.ValidateInput) (json.RawMessage, llm.Usage, error) {
	input := buildValidatePrompt(in)
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "SignalValidation",
			Schema:      validationSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Signal validation verdicts"),
			Type:        "json_schema",
		},
	}
	return c.call(ctx, validateInstructions, input, format)
}

func (c *Client) call(ctx context.Context, instructions, input string, format responses.ResponseFormatTextConfigUnionParam) (json.RawMessage, llm.Usage, error) {
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(c.maxOutputTokens),
		Instructions:    openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("openai responses: %w", err)
	}

	usage := llm.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	usage.CostUSD = c.cost(usage)

	out := strings.TrimSpace(resp.OutputText())
	if out == "" {
		return nil, usage, fmt.Errorf("openai responses: empty output")
	}
	return json.RawMessage(out), usage, nil
}

func (c *Client) cost(u llm.Usage) float64 {
	return float64(u.PromptTokens)/1000*c.inputCostPer1K +
		float64(u.CompletionTokens)/1000*c.outputCostPer1K
}

func buildAnalyzePrompt(in llm.AnalyzeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	fmt.Fprintf(&b, "Publisher: %s\n", in.Publisher)
	if !in.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", in.PublishedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\nArticle body:\n")
	b.WriteString(in.Body)
	return b.String()
}

func buildValidatePrompt(in llm.ValidateInput) string {
	var b strings.Builder
	b.WriteString("Article summary:\n")
	b.WriteString(in.Summary)
	b.WriteString("\n\nSignals to validate:\n")
	for _, s := range in.Signals {
		fmt.Fprintf(&b, "[%d] (%s, confidence %.2f) %s\n", s.Index, s.Type, s.Confidence, s.Description)
	}
	if len(in.Evidence) == 0 {
		b.WriteString("\nNo external evidence was available.\n")
		return b.String()
	}
	b.WriteString("\nExternal evidence:\n")
	for i, e := range in.Evidence {
		fmt.Fprintf(&b, "- [%d] %s (%s)\n  %s\n", i+1, e.Title, e.Source, e.Snippet)
	}
	return b.String()
}
