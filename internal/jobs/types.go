// Package jobs defines the async import job model and the queue abstractions
// the worker runs on.
package jobs

import (
	"context"
	"time"

	"github.com/finledger/pipeline/internal/domain"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	JobTypeImportFile JobType = "import_file"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// ImportFileJob is a request to run the import pipeline on one source file.
type ImportFileJob struct {
	JobID string `json:"job_id"`

	// URI locates the source file; local path or gs:// object.
	URI string `json:"uri"`

	// SourceType is the declared source type; empty when the file name
	// encodes it.
	SourceType domain.SourceType `json:"source_type,omitempty"`

	// BatchID is filled in once the pipeline has created the audit row.
	BatchID string `json:"batch_id,omitempty"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *ImportFileJob) GetID() string        { return j.JobID }
func (j *ImportFileJob) GetType() JobType     { return JobTypeImportFile }
func (j *ImportFileJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues import jobs. The abstraction keeps the worker loop
// independent of the queue implementation.
type Publisher interface {
	PublishImportFile(ctx context.Context, job *ImportFileJob) error
	Close() error
}

// Consumer delivers queued jobs to a handler.
type Consumer interface {
	// Start begins consuming; the handler is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error marks the job failed and
// eligible for retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state for status lookups and retries.
type JobStore interface {
	SaveJob(ctx context.Context, job *ImportFileJob) error
	GetJob(ctx context.Context, jobID string) (*ImportFileJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ImportFileJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	URI    string
	Status JobStatus
	Limit  int
	Offset int
}
