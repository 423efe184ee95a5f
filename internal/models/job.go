package models

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job status values.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job represents an async operation (build-and-wait, inventory, copy-job).
type Job struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"` // "build", "inventory", "copy-job"
	ConnectionID string      `json:"connection_id"`
	Status       string      `json:"status"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
	Error        string      `json:"error,omitempty"`
	Output       []string    `json:"output"`
	Result       interface{} `json:"result,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Context is cancelled when the job is cancelled.
func (j *Job) Context() context.Context {
	return j.ctx
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// CurrentStatus returns the job status under the job lock.
func (j *Job) CurrentStatus() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// Outcome returns the status and the error message of the job.
func (j *Job) Outcome() (string, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status, j.Error
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.CurrentStatus() != JobRunning
}

// SetResult attaches a JSON-serializable result to the job.
func (j *Job) SetResult(v interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Result = v
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	j.finish(JobCompleted, "")
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.finish(JobFailed, err)
}

// Cancel stops a running job. Operations observe it through Context.
func (j *Job) Cancel() {
	j.finish(JobCancelled, "")
}

func (j *Job) finish(status, err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		j.cancel()
	}
	if j.Status != JobRunning {
		return
	}
	j.Status = status
	j.Error = err
	now := time.Now()
	j.FinishedAt = &now
}

// MarshalJSON encodes the job under its lock, since handlers serialize jobs
// while their goroutines are still appending output.
func (j *Job) MarshalJSON() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	output := make([]string, len(j.Output))
	copy(output, j.Output)
	return json.Marshal(struct {
		ID           string      `json:"id"`
		Type         string      `json:"type"`
		ConnectionID string      `json:"connection_id"`
		Status       string      `json:"status"`
		StartedAt    time.Time   `json:"started_at"`
		FinishedAt   *time.Time  `json:"finished_at,omitempty"`
		Error        string      `json:"error,omitempty"`
		Output       []string    `json:"output"`
		Result       interface{} `json:"result,omitempty"`
	}{j.ID, j.Type, j.ConnectionID, j.Status, j.StartedAt, j.FinishedAt, j.Error, output, j.Result})
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new running job, assigning it a UUID.
func (s *JobStore) Create(jobType, connectionID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:           uuid.New().String(),
		Type:         jobType,
		ConnectionID: connectionID,
		Status:       JobRunning,
		StartedAt:    time.Now(),
		Output:       []string{},
		ctx:          ctx,
		cancel:       cancel,
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}
