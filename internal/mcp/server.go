// Package mcp exposes the fill pipeline as MCP tools over stdio, for
// agents that drive form filling from a chat session.
package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/jobs"
	"github.com/acroflow/acroflow/internal/mapping"
	"github.com/acroflow/acroflow/internal/store"
)

// Server wraps the MCP stdio transport around the pipeline services.
type Server struct {
	jobStore  *jobs.Store
	queue     *jobs.Queue
	cache     *mapping.Cache
	mcpServer *server.MCPServer
	log       zerolog.Logger
}

// NewServer builds the MCP server and registers its tools.
func NewServer(name, version string, jobStore *jobs.Store, queue *jobs.Queue, cache *mapping.Cache, log zerolog.Logger) (*Server, error) {
	if jobStore == nil || queue == nil || cache == nil {
		return nil, fmt.Errorf("mcp server needs the job store, the queue and the mapping cache")
	}

	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		jobStore:  jobStore,
		queue:     queue,
		cache:     cache,
		mcpServer: mcpServer,
		log:       log.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	submitTool := mcp.NewTool(
		"fill_form_submit",
		mcp.WithDescription("Submit a PDF form for automatic filling. Returns a job id to poll with fill_job_status."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF form on disk"),
		),
		mcp.WithString("instructions",
			mcp.Required(),
			mcp.Description("What to fill in, in plain language"),
		),
	)
	s.mcpServer.AddTool(submitTool, s.handleFillFormSubmit)

	statusTool := mcp.NewTool(
		"fill_job_status",
		mcp.WithDescription("Check the state and progress of a fill job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("Job id returned by fill_form_submit"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleFillJobStatus)

	inspectTool := mcp.NewTool(
		"form_mapping_inspect",
		mcp.WithDescription("Inspect the cached field mapping of a form by its document id"),
		mcp.WithString("pdf_id",
			mcp.Required(),
			mcp.Description("Document id of the form"),
		),
	)
	s.mcpServer.AddTool(inspectTool, s.handleFormMappingInspect)
}

func (s *Server) handleFillFormSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	instructions, err := request.RequireString("instructions")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
	}
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		return mcp.NewToolResultError(fmt.Sprintf("%s is not a PDF document", path)), nil
	}

	job := &jobs.Job{
		ID:           uuid.New().String(),
		PDFID:        mapping.Identity(doc),
		Filename:     path,
		Instructions: instructions,
	}
	if err := s.jobStore.Create(job); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.jobStore.SaveInput(job.ID, doc); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.queue.Submit(ctx, job.ID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := fmt.Sprintf("Fill job accepted.\nJob ID: %s\nDocument ID: %s\nPoll with fill_job_status.", job.ID, job.PDFID)
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleFillJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, err := s.jobStore.Get(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no job %s", jobID)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatJobStatus(job)), nil
}

func (s *Server) handleFormMappingInspect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pdfID, err := request.RequireString("pdf_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	m, err := s.cache.Enriched(pdfID)
	reviewed := err == nil
	if errors.Is(err, store.ErrNotFound) {
		m, err = s.cache.Base(pdfID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no mapping for document %s", pdfID)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	table, err := fields.MarshalCSV(m)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	state := "extracted, awaiting review"
	if reviewed {
		state = "reviewed"
	}
	text := fmt.Sprintf("Mapping for document %s (%s, %d fields):\n\n%s", pdfID, state, len(m.Fields), table)
	return mcp.NewToolResultText(text), nil
}

func formatJobStatus(job *jobs.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", job.ID)
	fmt.Fprintf(&b, "State: %s (%d%%)\n", job.State, job.Progress)
	if job.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", job.Message)
	}
	if job.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", job.Error)
	}
	if len(job.Links) > 0 {
		b.WriteString("Review links:\n")
		for name, link := range job.Links {
			fmt.Fprintf(&b, "  %s: %s\n", name, link)
		}
	}
	if job.ResultID != "" {
		fmt.Fprintf(&b, "Result ID: %s (applied %d, skipped %d)\n", job.ResultID, job.Applied, len(job.Skipped))
	}
	return b.String()
}

// Run serves tools over stdio until the transport closes.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Msg("serving MCP over stdio")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve stdio: %w", err)
	}
	return nil
}
