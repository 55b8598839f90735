package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Title block reader prompts ---
const TitleBlockSystemPrompt = "You are an engineering drawing indexer. Your task is to read the title block of a scanned drawing page and report the values it contains. You must output your response as a single valid JSON object."
const TitleBlockUserPrompt = `You will be provided with one page of an engineering drawing.

Read the title block (usually in the bottom right corner) and return a JSON object with these keys:
- "title": the drawing title.
- "drawingNumber": the drawing number.
- "revision": the current revision letter or number. If a revision table is present, use its latest row.
- "drawingDate": the date of the drawing, formatted YYYY-MM-DD.
- "site", "area", "building", "discipline": if printed.

Each value must be an array of strings, most likely first. Use an empty array when a value is not printed. Do not guess.
Do not include any text before or after the JSON object.`

// VertexClient holds the generative model the OCR worker uses.
type VertexClient struct {
	TitleBlockModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding the title block model.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel("gemini-1.5-pro")
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TitleBlockSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &VertexClient{
		TitleBlockModel: model,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
