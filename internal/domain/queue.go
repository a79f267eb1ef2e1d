package domain

import (
	"context"
	"time"
)

// JobState is the queue-side lifecycle of a job.
type JobState string

const (
	JobCreated   JobState = "created"
	JobActive    JobState = "active"
	JobRetry     JobState = "retry"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobExpired   JobState = "expired"
)

// Job is a delivery snapshot handed out by the queue.
type Job struct {
	ID         string
	Name       string
	State      JobState
	RetryCount int
	RetryLimit int
	CreatedAt  time.Time
	StartedAt  time.Time
	LastError  string
}

// ScheduleOptions is the retry and timing policy attached to a schedule.
type ScheduleOptions struct {
	RetryLimit   int
	RetryDelay   time.Duration
	RetryBackoff bool
	ExpireIn     time.Duration
	TZ           string
	SingletonKey string
}

// JobHandler processes one delivery. The returned error is the completion
// signal: nil completes the job, anything else fails the attempt.
type JobHandler func(ctx context.Context, job Job) error

// Queue is the job queue collaborator.
type Queue interface {
	Schedule(name, cronExpr string, opts ScheduleOptions) error
	Work(name string, handler JobHandler) error
	GetJobByID(id string) (Job, error)
	Send(name string) (string, error)
}
