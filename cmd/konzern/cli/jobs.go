package cli

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/konzern/jobs"
)

// JobsCLI bundles the queue client and inspector used by the ops commands.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the queue helpers against the given redis server.
func NewJobsCLI(redisOpt asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{
		client:    jobs.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

// Client returns the enqueuing side.
func (c *JobsCLI) Client() *jobs.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Inspector returns the read side.
func (c *JobsCLI) Inspector() *asynq.Inspector {
	if c == nil {
		return nil
	}
	return c.inspector
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// ListScheduled returns the upcoming scheduled tasks of the default queue.
func (c *JobsCLI) ListScheduled(_ context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
