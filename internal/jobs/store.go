package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/store"
)

const (
	blobStatus = "status.json"
	blobInput  = "input.pdf"
)

// Store persists job records on the blob store, one entry per job with
// the status document and the uploaded input.
type Store struct {
	blobs store.Store
	mu    sync.Mutex
	log   zerolog.Logger
}

func NewStore(blobs store.Store, log zerolog.Logger) *Store {
	return &Store{
		blobs: blobs,
		log:   log.With().Str("component", "job-store").Logger(),
	}
}

// Create persists a fresh job record in the queued state.
func (s *Store) Create(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job.State = StateQueued
	job.Progress = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	return s.save(job)
}

// SaveInput stores the uploaded document next to the job record.
func (s *Store) SaveInput(jobID string, doc []byte) error {
	return s.blobs.Put(store.CollectionJobs, jobID, blobInput, doc)
}

// Input returns the uploaded document for a job.
func (s *Store) Input(jobID string) ([]byte, error) {
	return s.blobs.Get(store.CollectionJobs, jobID, blobInput)
}

// Get loads a job record.
func (s *Store) Get(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(jobID)
}

// Transition moves a job to a new state after validating the move
// against the persisted record, applies mutate, and saves. Terminal
// states are never left; an illegal move is an error, not a write.
func (s *Store) Transition(jobID string, to State, mutate func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.load(jobID)
	if err != nil {
		return nil, err
	}
	if !canTransition(job.State, to) {
		return nil, fmt.Errorf("job %s: illegal transition %s -> %s", jobID, job.State, to)
	}

	now := time.Now().UTC()
	if job.State == StateQueued && to == StateRunning {
		job.StartedAt = &now
	}
	job.State = to
	if to.Terminal() {
		job.CompletedAt = &now
	}
	if mutate != nil {
		mutate(job)
	}
	job.UpdatedAt = now

	if err := s.save(job); err != nil {
		return nil, err
	}
	s.log.Debug().Str("job", jobID).Str("state", string(to)).Int("progress", job.Progress).Msg("job transition")
	return job, nil
}

// List returns all job records, newest first.
func (s *Store) List() ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.blobs.Keys(store.CollectionJobs)
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.load(id)
		if err != nil {
			s.log.Warn().Err(err).Str("job", id).Msg("skipping unreadable job record")
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) save(job *Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return s.blobs.Put(store.CollectionJobs, job.ID, blobStatus, data)
}

func (s *Store) load(jobID string) (*Job, error) {
	data, err := s.blobs.Get(store.CollectionJobs, jobID, blobStatus)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", jobID, err)
	}
	return &job, nil
}
