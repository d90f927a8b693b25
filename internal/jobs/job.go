package jobs

import (
	"context"
	"time"
)

// JobFunc is the body of a job. ctx carries the job timeout, if any.
type JobFunc func(ctx context.Context) error

// Job is a named unit of scheduled work. A zero timeout means no deadline.
type Job struct {
	name    string
	fn      JobFunc
	timeout time.Duration
}

// NewJob wraps fn as a named job.
func NewJob(name string, fn JobFunc, timeout time.Duration) Job {
	return Job{name: name, fn: fn, timeout: timeout}
}

func (job Job) Name() string { return job.name }

func (job Job) Run(ctx context.Context) error { return job.fn(ctx) }
