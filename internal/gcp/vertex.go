package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Evaluator Model Prompts ---
const EvaluatorSystemPrompt = "You are a meticulous accounts-payable reviewer. You compare invoices against written spending policies and answer strictly in JSON."

// --- Extraction Model Prompts ---
const ExtractionSystemPrompt = "You are a document parser specialised in invoices and receipts. You read the document and return only the requested fields as JSON."
const ExtractionUserPrompt = `Extract the following fields from the attached invoice:

- "invoice_number": the invoice or receipt number as printed, or "" if absent.
- "invoice_date": the issue date as printed, or "" if absent.
- "total_price": the grand total as a plain number string without currency symbols.
- "currency": ISO currency code if it can be determined, otherwise "".
- "vendor": the issuing business name, or "".
- "items": an array of line items, each {"item_name": string, "item_price": plain number string}.
  Skip address, phone, tax id and subtotal rows.

Return a single JSON object with exactly these keys and nothing else.`

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// VertexClient holds the pre-configured generative models used by the service.
type VertexClient struct {
	EvaluatorModel  *genai.GenerativeModel
	ExtractionModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding the evaluator and extraction models.
func NewVertexClient(ctx context.Context, projectID, region, evaluatorModelName, extractionModelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	evaluatorModel := baseClient.GenerativeModel(evaluatorModelName)
	evaluatorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(EvaluatorSystemPrompt)},
	}
	evaluatorModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	extractionModel := baseClient.GenerativeModel(extractionModelName)
	extractionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractionSystemPrompt)},
	}
	extractionModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		EvaluatorModel:  evaluatorModel,
		ExtractionModel: extractionModel,
		baseClient:      baseClient,
	}, nil
}

// Generate sends a text prompt to the evaluator model.
func (c *VertexClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.EvaluatorModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("evaluator GenerateContent: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ExtractDocument sends an inline document to the extraction model.
func (c *VertexClient) ExtractDocument(ctx context.Context, mimeType string, data []byte) (string, error) {
	resp, err := c.ExtractionModel.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(ExtractionUserPrompt))
	if err != nil {
		return "", fmt.Errorf("extraction GenerateContent: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}
