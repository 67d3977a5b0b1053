package sync

import (
	"context"
	"errors"
	"sort"
	gosync "sync"
	"time"

	"lpr-manager/core/reconcile"
	"lpr-manager/core/store"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest wraps unusable operator input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobRunning rejects a second resync job for a device that has one.
	ErrJobRunning = errors.New("a resync job is already running for this device")
)

// JobState is the lifecycle state of a resync job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobFinished  JobState = "finished"
	JobCancelled JobState = "cancelled"
)

// finishedJobTTL bounds how long finished jobs stay queryable.
const finishedJobTTL = time.Hour

// Job is one asynchronous full resync.
type Job struct {
	ID         string             `json:"id"`
	DeviceID   uint               `json:"device_id"`
	DeviceName string             `json:"device_name"`
	State      JobState           `json:"state"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Outcome    *reconcile.Outcome `json:"outcome,omitempty"`

	cancel context.CancelFunc
	done   chan struct{}
}

// Jobs tracks resync jobs in memory.
type Jobs struct {
	mu   gosync.Mutex
	jobs map[string]*Job
	wg   gosync.WaitGroup
	now  func() time.Time
}

// NewJobs creates an empty job registry.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*Job), now: time.Now}
}

// Start runs fn for d in the background. The job context is independent of
// the request that started it and ends on Cancel or Shutdown.
func (j *Jobs) Start(d store.Device, fn func(ctx context.Context) *reconcile.Outcome) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.gcLocked()
	for _, job := range j.jobs {
		if job.DeviceID == d.ID && job.State == JobRunning {
			return Job{}, ErrJobRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:         uuid.NewString(),
		DeviceID:   d.ID,
		DeviceName: d.Name,
		State:      JobRunning,
		StartedAt:  j.now().UTC(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	j.jobs[job.ID] = job

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer close(job.done)
		defer cancel()

		o := fn(ctx)

		j.mu.Lock()
		defer j.mu.Unlock()
		finished := j.now().UTC()
		job.FinishedAt = &finished
		job.Outcome = o
		job.State = JobFinished
		if o != nil && o.Status == reconcile.StatusCancelled {
			job.State = JobCancelled
		}
	}()
	return *job, nil
}

// Get returns a copy of a job.
func (j *Jobs) Get(id string) (Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns every known job, newest first.
func (j *Jobs) List() []Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.gcLocked()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	return out
}

// Cancel stops a running job and waits for its outcome.
func (j *Jobs) Cancel(ctx context.Context, id string) (Job, error) {
	j.mu.Lock()
	job, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}

	job.cancel()
	select {
	case <-job.done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	return j.Get(id)
}

// Wait blocks until the job is done.
func (j *Jobs) Wait(ctx context.Context, id string) (Job, error) {
	j.mu.Lock()
	job, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-job.done:
		return j.Get(id)
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Shutdown cancels every running job and waits for them to report.
func (j *Jobs) Shutdown() {
	j.mu.Lock()
	for _, job := range j.jobs {
		job.cancel()
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Jobs) gcLocked() {
	cutoff := j.now().Add(-finishedJobTTL)
	for id, job := range j.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(j.jobs, id)
		}
	}
}
