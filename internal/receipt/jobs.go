package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned when no more jobs can be accepted.
var ErrQueueFull = errors.New("job queue is full")

type task struct {
	id  string
	run func(ctx context.Context) (any, error)
}

// JobQueue runs receipt processing and retraining in background workers and
// records each job's progress in the database.
type JobQueue struct {
	db          DB
	service     *Service
	idGenerator IDGenerator
	timeSource  TimeSource
	workers     int

	tasks  chan task
	group  *errgroup.Group
	mu     sync.RWMutex
	closed bool
}

// NewJobQueue creates a queue with the given number of workers and pending
// job capacity.
func NewJobQueue(db DB, service *Service, workers, capacity int) *JobQueue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 100
	}
	return &JobQueue{
		db:          db,
		service:     service,
		idGenerator: service.eventIDs,
		timeSource:  service.timeSource,
		workers:     workers,
		tasks:       make(chan task, capacity),
	}
}

// Start launches the workers. They exit when ctx is cancelled or the queue is
// stopped.
func (q *JobQueue) Start(ctx context.Context) {
	q.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case t, ok := <-q.tasks:
					if !ok {
						return nil
					}
					q.execute(ctx, t)
				}
			}
		})
	}
	slog.Info("Job workers started", "workers", q.workers)
}

// Stop stops accepting jobs, lets workers drain the queue and waits for them.
func (q *JobQueue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	if q.group != nil {
		q.group.Wait()
	}
}

// SubmitReceipt queues an uploaded image for processing.
func (q *JobQueue) SubmitReceipt(filename string, data []byte, contentType string) (*Job, error) {
	metadata := map[string]string{
		"filename":     filename,
		"content_type": contentType,
		"size":         strconv.Itoa(len(data)),
	}
	return q.submit(JobProcessReceipt, metadata, func(ctx context.Context) (any, error) {
		return q.service.ProcessReceipt(ctx, filename, data, contentType)
	})
}

// SubmitRetrain queues a retraining run.
func (q *JobQueue) SubmitRetrain() (*Job, error) {
	return q.submit(JobRetrainModel, nil, func(ctx context.Context) (any, error) {
		return q.service.Retrain(ctx)
	})
}

func (q *JobQueue) submit(jobType JobType, metadata map[string]string, run func(ctx context.Context) (any, error)) (*Job, error) {
	now := q.timeSource.Now()
	job := &Job{
		ID:        q.idGenerator.Generate(),
		Type:      jobType,
		Status:    JobPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.db.SaveJob(job); err != nil {
		return nil, fmt.Errorf("saving job: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return q.reject(job)
	}
	select {
	case q.tasks <- task{id: job.ID, run: run}:
		return job, nil
	default:
		return q.reject(job)
	}
}

func (q *JobQueue) reject(job *Job) (*Job, error) {
	if _, err := q.finish(job.ID, nil, ErrQueueFull); err != nil {
		slog.Error("Failed to mark rejected job", "job_id", job.ID, "error", err)
	}
	return nil, ErrQueueFull
}

func (q *JobQueue) execute(ctx context.Context, t task) {
	_, err := q.db.UpdateJob(t.id, func(j *Job) error {
		j.Status = JobProcessing
		j.UpdatedAt = q.timeSource.Now()
		return nil
	})
	if err != nil {
		slog.Error("Failed to start job", "job_id", t.id, "error", err)
		return
	}

	result, runErr := t.run(ctx)
	job, err := q.finish(t.id, result, runErr)
	if err != nil {
		slog.Error("Failed to record job result", "job_id", t.id, "error", err)
		return
	}
	if runErr != nil {
		slog.Error("Job failed", "job_id", t.id, "type", job.Type, "error", runErr)
		return
	}
	slog.Info("Job completed", "job_id", t.id, "type", job.Type)
}

func (q *JobQueue) finish(id string, result any, runErr error) (*Job, error) {
	var encoded json.RawMessage
	if runErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			runErr = fmt.Errorf("encoding result: %w", err)
		} else {
			encoded = data
		}
	}

	return q.db.UpdateJob(id, func(j *Job) error {
		now := q.timeSource.Now()
		j.UpdatedAt = now
		j.CompletedAt = &now
		if runErr != nil {
			j.Status = JobFailed
			j.Error = runErr.Error()
			return nil
		}
		j.Status = JobCompleted
		j.Result = encoded
		return nil
	})
}

// GetJob retrieves a job by ID
func (q *JobQueue) GetJob(id string) (*Job, error) {
	job, err := q.db.GetJob(id)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs, newest first
func (q *JobQueue) ListJobs() ([]*Job, error) {
	jobs, err := q.db.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}
