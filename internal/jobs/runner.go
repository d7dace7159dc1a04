package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/completed"
	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/fill"
	"github.com/acroflow/acroflow/internal/mapping"
)

// MappingProvider is the slice of the mapping cache the pipeline uses.
type MappingProvider interface {
	GetOrCreate(ctx context.Context, identity string, doc []byte) (*mapping.Entry, error)
	IsEnriched(identity string) bool
	Enriched(identity string) (*fields.Mapping, error)
	Verification(identity string) ([]byte, error)
}

// Planner turns instructions into a fill plan.
type Planner interface {
	Plan(ctx context.Context, m *fields.Mapping, annotatedPDF []byte, instructions string) (*fill.Plan, error)
}

// Filler applies a plan to a document.
type Filler interface {
	Fill(ctx context.Context, doc []byte, m *fields.Mapping, plan *fill.Plan) (*fill.Result, error)
}

// Archiver stores finished outputs.
type Archiver interface {
	Save(meta completed.Meta, out completed.Outputs) error
}

// Runner executes the fill pipeline for one job at a time. Stages run
// under individual deadlines; a failed stage fails the job, there are
// no retries.
type Runner struct {
	jobs         *Store
	mappings     MappingProvider
	planner      Planner
	filler       Filler
	archive      Archiver
	stageTimeout time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewRunner(jobs *Store, mappings MappingProvider, planner Planner, filler Filler, archive Archiver, stageTimeout time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		jobs:         jobs,
		mappings:     mappings,
		planner:      planner,
		filler:       filler,
		archive:      archive,
		stageTimeout: stageTimeout,
		pollInterval: 2 * time.Second,
		log:          log.With().Str("component", "runner").Logger(),
	}
}

// Handle is the queue handler: it drives one job from queued to a
// terminal state.
func (r *Runner) Handle(ctx context.Context, jobID string) {
	log := r.log.With().Str("job", jobID).Logger()

	job, err := r.jobs.Transition(jobID, StateRunning, func(j *Job) {
		j.Progress = ProgressAccepted
		j.Message = "accepted"
	})
	if err != nil {
		log.Error().Err(err).Msg("cannot start job")
		return
	}

	doc, err := r.jobs.Input(jobID)
	if err != nil {
		r.fail(jobID, fmt.Errorf("load input: %w", err))
		return
	}

	r.progress(jobID, ProgressExtracting, "extracting form fields")
	m, err := r.ensureMapping(ctx, job, doc)
	if err != nil {
		r.fail(jobID, err)
		return
	}
	r.progress(jobID, ProgressPlanning, "planning the fill")
	plan, err := r.buildPlan(ctx, job, m)
	if err != nil {
		r.fail(jobID, err)
		return
	}

	r.progress(jobID, ProgressFilling, "filling the form")
	res, err := r.applyPlan(ctx, doc, m, plan)
	if err != nil {
		r.fail(jobID, err)
		return
	}

	resultID := uuid.New().String()
	planJSON, err := json.MarshalIndent(plan.Items, "", "  ")
	if err != nil {
		r.fail(jobID, fmt.Errorf("serialize plan: %w", err))
		return
	}
	err = r.archive.Save(completed.Meta{
		ID:       resultID,
		JobID:    job.ID,
		PDFID:    job.PDFID,
		Filename: job.Filename,
		Applied:  res.Applied,
		Skipped:  len(res.Skipped),
	}, completed.Outputs{
		Editable:  res.Editable,
		Flattened: res.Flattened,
		Plan:      planJSON,
	})
	if err != nil {
		r.fail(jobID, fmt.Errorf("archive outputs: %w", err))
		return
	}

	_, err = r.jobs.Transition(jobID, StateDone, func(j *Job) {
		j.Progress = ProgressDone
		j.Message = "done"
		j.ResultID = resultID
		j.Applied = res.Applied
		j.Skipped = res.Skipped
		j.Links = nil
	})
	if err != nil {
		log.Error().Err(err).Msg("cannot finish job")
		return
	}
	log.Info().Str("result", resultID).Int("applied", res.Applied).Msg("job done")
}

// stageContext derives the per-stage deadline. A zero timeout
// disables the deadline.
func (r *Runner) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.stageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.stageTimeout)
}

// ensureMapping resolves the enriched mapping for the job's document.
// A mapping the labeling stage just produced is recorded as
// needs_mapping with its review links before the pipeline moves on.
// When enrichment is unavailable the job stays in needs_mapping and
// waits for a reviewed table to appear, bounded by the stage deadline.
func (r *Runner) ensureMapping(ctx context.Context, job *Job, doc []byte) (*fields.Mapping, error) {
	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()

	entry, err := r.mappings.GetOrCreate(stageCtx, job.PDFID, doc)
	if err == nil {
		r.progress(job.ID, ProgressMapped, "mapping ready")
		if !entry.Fresh {
			return entry.Mapping, nil
		}
		if terr := r.recordReview(job, "field mapping produced, open for review"); terr != nil {
			return nil, terr
		}
		if _, terr := r.jobs.Transition(job.ID, StateRunning, func(j *Job) {
			j.Message = "mapping accepted"
			j.Links = nil
		}); terr != nil {
			return nil, terr
		}
		return entry.Mapping, nil
	}
	if !errors.Is(err, mapping.ErrNotEnriched) {
		return nil, err
	}

	if terr := r.recordReview(job, "field mapping needs review"); terr != nil {
		return nil, terr
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stageCtx.Done():
			return nil, fmt.Errorf("mapping review for %s: %w", job.PDFID, stageCtx.Err())
		case <-ticker.C:
			if !r.mappings.IsEnriched(job.PDFID) {
				continue
			}
			if _, terr := r.jobs.Transition(job.ID, StateRunning, func(j *Job) {
				j.Message = "mapping reviewed"
				j.Links = nil
			}); terr != nil {
				return nil, terr
			}
			return r.mappings.Enriched(job.PDFID)
		}
	}
}

func (r *Runner) buildPlan(ctx context.Context, job *Job, m *fields.Mapping) (*fill.Plan, error) {
	if r.planner == nil {
		return nil, fmt.Errorf("no plan model configured")
	}
	annotated, err := r.mappings.Verification(job.PDFID)
	if err != nil {
		return nil, fmt.Errorf("load annotated pdf: %w", err)
	}

	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()
	return r.planner.Plan(stageCtx, m, annotated, job.Instructions)
}

func (r *Runner) applyPlan(ctx context.Context, doc []byte, m *fields.Mapping, plan *fill.Plan) (*fill.Result, error) {
	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()
	return r.filler.Fill(stageCtx, doc, m, plan)
}

// recordReview moves the job into needs_mapping with the links a
// reviewer needs.
func (r *Runner) recordReview(job *Job, message string) error {
	_, err := r.jobs.Transition(job.ID, StateNeedsMapping, func(j *Job) {
		j.Progress = ProgressReview
		j.Message = message
		j.Links = reviewLinks(job.PDFID)
	})
	return err
}

func (r *Runner) progress(jobID string, progress int, message string) {
	if _, err := r.jobs.Transition(jobID, StateRunning, func(j *Job) {
		j.Progress = progress
		j.Message = message
	}); err != nil {
		r.log.Warn().Err(err).Str("job", jobID).Msg("progress update dropped")
	}
}

func (r *Runner) fail(jobID string, cause error) {
	r.log.Error().Err(cause).Str("job", jobID).Msg("job failed")
	if _, err := r.jobs.Transition(jobID, StateError, func(j *Job) {
		j.Message = "failed"
		j.Error = cause.Error()
	}); err != nil {
		r.log.Error().Err(err).Str("job", jobID).Msg("cannot record failure")
	}
}

// reviewLinks are the API paths a caller needs to finish a paused
// job's mapping review.
func reviewLinks(pdfID string) map[string]string {
	base := "/api/mappings/" + pdfID
	return map[string]string{
		"annotated_pdf": base + "/annotated",
		"mapping_table": base + "/table",
		"save_mapping":  base + "/table",
	}
}
