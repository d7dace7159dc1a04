package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/jobs"
	"github.com/acroflow/acroflow/internal/logger"
	"github.com/acroflow/acroflow/internal/mapping"
	"github.com/acroflow/acroflow/internal/render"
	"github.com/acroflow/acroflow/internal/store"
)

type staticExtractor struct{}

func (staticExtractor) Extract(_ context.Context, _ []byte) (*fields.Mapping, *render.Verification, error) {
	m := &fields.Mapping{
		Fields: []fields.Descriptor{
			{Row: 1, RawLabel: "Name", RichDescription: "Name", Page: 1,
				BBox: fields.BoundingBox{X1: 10, Y1: 10, X2: 110, Y2: 25}, Kind: fields.KindText},
		},
	}
	v := &render.Verification{AnnotatedPDF: []byte("%PDF annotated"), Pages: [][]byte{[]byte("png")}}
	return m, v, nil
}

func newTestServer(t *testing.T) (*Server, *jobs.Store, *mapping.Cache) {
	t.Helper()
	blobs := store.NewMemStore()
	log := logger.Nop()

	jobStore := jobs.NewStore(blobs, log)
	queue := jobs.NewQueue(16, log)
	cache := mapping.NewCache(blobs, staticExtractor{}, nil, log)

	s, err := NewServer("acroflow", "test", jobStore, queue, cache, log)
	require.NoError(t, err)
	return s, jobStore, cache
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	switch content := result.Content[0].(type) {
	case mcp.TextContent:
		return content.Text
	case *mcp.TextContent:
		return content.Text
	}
	t.Fatal("expected text content")
	return ""
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer("acroflow", "test", nil, nil, nil, logger.Nop())
	assert.Error(t, err)
}

func TestFillFormSubmit(t *testing.T) {
	s, jobStore, _ := newTestServer(t)

	path := filepath.Join(t.TempDir(), "form.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 test form"), 0o640))

	result, err := s.handleFillFormSubmit(context.Background(), toolRequest(map[string]interface{}{
		"path":         path,
		"instructions": "fill for Jane",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	text := resultText(t, result)
	assert.Contains(t, text, "Job ID:")
	assert.Contains(t, text, "Document ID:")

	list, err := jobStore.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, jobs.StateQueued, list[0].State)
	assert.Equal(t, "fill for Jane", list[0].Instructions)
}

func TestFillFormSubmitRejectsNonPDF(t *testing.T) {
	s, _, _ := newTestServer(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o640))

	result, err := s.handleFillFormSubmit(context.Background(), toolRequest(map[string]interface{}{
		"path":         path,
		"instructions": "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestFillFormSubmitMissingArgs(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleFillFormSubmit(context.Background(), toolRequest(map[string]interface{}{
		"path": "/tmp/x.pdf",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "instructions are required")
}

func TestFillJobStatus(t *testing.T) {
	s, jobStore, _ := newTestServer(t)

	require.NoError(t, jobStore.Create(&jobs.Job{ID: "j1", PDFID: "abc", Instructions: "x"}))

	result, err := s.handleFillJobStatus(context.Background(), toolRequest(map[string]interface{}{
		"job_id": "j1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Job j1")
	assert.Contains(t, text, "State: queued")

	result, err = s.handleFillJobStatus(context.Background(), toolRequest(map[string]interface{}{
		"job_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestFormMappingInspect(t *testing.T) {
	s, _, cache := newTestServer(t)

	doc := []byte("%PDF-1.7 doc")
	id := mapping.Identity(doc)
	_, err := cache.GetOrCreate(context.Background(), id, doc)
	require.ErrorIs(t, err, mapping.ErrNotEnriched)

	result, err := s.handleFormMappingInspect(context.Background(), toolRequest(map[string]interface{}{
		"pdf_id": id,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "awaiting review")
	assert.Contains(t, text, "form_entry_description")

	result, err = s.handleFormMappingInspect(context.Background(), toolRequest(map[string]interface{}{
		"pdf_id": "absent",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestFormatJobStatus(t *testing.T) {
	job := &jobs.Job{
		ID:       "j1",
		State:    jobs.StateNeedsMapping,
		Progress: jobs.ProgressReview,
		Message:  "field mapping needs review",
		Links:    map[string]string{"annotated_pdf": "/api/mappings/abc/annotated"},
	}
	text := formatJobStatus(job)
	assert.Contains(t, text, "needs_mapping")
	assert.Contains(t, text, "/api/mappings/abc/annotated")
}
