package rmq

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

type jsonPublisher interface {
	PublishJSONWithHeaders(ctx context.Context, body []byte, headers amqp.Table) error
}

// JobQueue publishes dispatch jobs. It satisfies the enqueue contracts of
// the orchestrator and the stale-message sweep.
type JobQueue struct {
	Pub jsonPublisher
}

func NewJobQueue(p *Publisher) *JobQueue { return &JobQueue{Pub: p} }

func (q *JobQueue) Enqueue(ctx context.Context, job model.DispatchJob) error {
	return q.EnqueueRetry(ctx, job, 0)
}

func (q *JobQueue) EnqueueRetry(ctx context.Context, job model.DispatchJob, retries int) error {
	if job.TraceID == "" {
		job.TraceID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	var headers amqp.Table
	if retries > 0 {
		SetHeaderRetries(&headers, retries)
	}
	return q.Pub.PublishJSONWithHeaders(ctx, body, headers)
}
