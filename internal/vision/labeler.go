package vision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/acroflow/acroflow/internal/fields"
)

const (
	// labelBatchSize bounds how many rows go into one model call.
	labelBatchSize = 100
	// historyWindow is how many already-labeled rows each batch sees,
	// so multi-batch documents keep a consistent voice.
	historyWindow = 10
)

// GeminiLabeler rewrites a base mapping's descriptions by showing the
// stamped page images to Gemini.
type GeminiLabeler struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

func NewGeminiLabeler(ctx context.Context, apiKey, model string, log zerolog.Logger) (*GeminiLabeler, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiLabeler{
		client: client,
		model:  model,
		log:    log.With().Str("component", "labeler").Logger(),
	}, nil
}

type labelResult struct {
	Row         int    `json:"row"`
	Description string `json:"description"`
}

// Enrich labels every row of the mapping in batches. Rows the model
// skips keep their extracted label, so the result always covers the
// whole mapping.
func (l *GeminiLabeler) Enrich(ctx context.Context, m *fields.Mapping, pages [][]byte) (*fields.Mapping, error) {
	out := *m
	out.Fields = append([]fields.Descriptor(nil), m.Fields...)

	for start := 0; start < len(out.Fields); start += labelBatchSize {
		end := start + labelBatchSize
		if end > len(out.Fields) {
			end = len(out.Fields)
		}
		batch := out.Fields[start:end]

		histStart := start - historyWindow
		if histStart < 0 {
			histStart = 0
		}
		history := out.Fields[histStart:start]

		labels, err := l.labelBatch(ctx, batch, history, pages)
		if err != nil {
			return nil, fmt.Errorf("label rows %d-%d: %w", batch[0].Row, batch[len(batch)-1].Row, err)
		}

		for i := range batch {
			if desc, ok := labels[batch[i].Row]; ok && desc != "" {
				batch[i].RichDescription = desc
			}
		}
	}

	l.log.Info().Int("fields", len(out.Fields)).Msg("mapping labeled")
	return &out, nil
}

func (l *GeminiLabeler) labelBatch(ctx context.Context, batch, history []fields.Descriptor, pages [][]byte) (map[int]string, error) {
	parts := []*genai.Part{{Text: labelingPrompt(batch, history)}}
	for _, pageNr := range batchPages(batch) {
		if pageNr < 1 || pageNr > len(pages) {
			continue
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "image/png",
				Data:     pages[pageNr-1],
			},
		})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := l.client.Models.GenerateContent(ctx, l.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var results []labelResult
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &results); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}

	labels := make(map[int]string, len(results))
	for _, r := range results {
		labels[r.Row] = r.Description
	}
	return labels, nil
}

// batchPages returns the distinct page numbers a batch spans, in order.
func batchPages(batch []fields.Descriptor) []int {
	seen := make(map[int]bool)
	var pages []int
	for _, d := range batch {
		if !seen[d.Page] {
			seen[d.Page] = true
			pages = append(pages, d.Page)
		}
	}
	return pages
}
