package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler processes one job by id.
type Handler func(ctx context.Context, jobID string)

// Queue is a channel-backed worker pool for fill jobs. It is a
// single-instance queue: jobs do not survive a process restart in the
// queued state, though their records do.
type Queue struct {
	jobChan   chan string
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	log       zerolog.Logger
}

func NewQueue(bufferSize int, log zerolog.Logger) *Queue {
	return &Queue{
		jobChan:   make(chan string, bufferSize),
		closeChan: make(chan struct{}),
		log:       log.With().Str("component", "queue").Logger(),
	}
}

// Submit enqueues a job id for processing. It blocks when the buffer
// is full, honoring context cancellation.
func (q *Queue) Submit(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.jobChan <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start launches the worker pool. Workers exit when the context is
// canceled or the queue is stopped.
func (q *Queue) Start(ctx context.Context, workers int, handler Handler) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.log.Info().Int("workers", workers).Msg("queue started")
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case jobID := <-q.jobChan:
			handler(ctx, jobID)
		}
	}
}

// Stop closes the queue and waits for in-flight jobs, bounded by the
// context deadline.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	}
}
