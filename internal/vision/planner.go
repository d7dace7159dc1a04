package vision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/fill"
)

// planChunkSize bounds how many field rows one planning call carries.
const planChunkSize = 150

// Planner turns user instructions into a fill plan for a mapped form.
type Planner interface {
	Plan(ctx context.Context, m *fields.Mapping, annotatedPDF []byte, instructions string) (*fill.Plan, error)
}

// GeminiPlanner asks Gemini to match the instructions against the
// field table, chunking large forms across calls.
type GeminiPlanner struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

func NewGeminiPlanner(ctx context.Context, apiKey, model string, log zerolog.Logger) (*GeminiPlanner, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiPlanner{
		client: client,
		model:  model,
		log:    log.With().Str("component", "planner").Logger(),
	}, nil
}

func (p *GeminiPlanner) Plan(ctx context.Context, m *fields.Mapping, annotatedPDF []byte, instructions string) (*fill.Plan, error) {
	plan := &fill.Plan{}

	for start := 0; start < len(m.Fields); start += planChunkSize {
		end := start + planChunkSize
		if end > len(m.Fields) {
			end = len(m.Fields)
		}
		chunk := m.Fields[start:end]

		items, err := p.planChunk(ctx, chunk, annotatedPDF, instructions)
		if err != nil {
			return nil, fmt.Errorf("plan rows %d-%d: %w", chunk[0].Row, chunk[len(chunk)-1].Row, err)
		}
		plan.Items = append(plan.Items, items...)
	}

	p.log.Info().Int("items", len(plan.Items)).Int("fields", len(m.Fields)).Msg("plan generated")
	return plan, nil
}

func (p *GeminiPlanner) planChunk(ctx context.Context, chunk []fields.Descriptor, annotatedPDF []byte, instructions string) ([]fill.Item, error) {
	parts := []*genai.Part{
		{Text: planningPrompt(chunk, instructions)},
		{
			InlineData: &genai.Blob{
				MIMEType: "application/pdf",
				Data:     annotatedPDF,
			},
		},
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	parsed, err := fill.ParsePlan([]byte(cleanModelJSON(raw)))
	if err != nil {
		return nil, err
	}

	// Keep only items addressing this chunk; models sometimes answer
	// for rows they were not asked about.
	lo, hi := chunk[0].Row, chunk[len(chunk)-1].Row
	items := parsed.Items[:0]
	for _, it := range parsed.Items {
		if it.Row >= lo && it.Row <= hi {
			items = append(items, it)
		}
	}
	return items, nil
}

var _ Planner = (*GeminiPlanner)(nil)
