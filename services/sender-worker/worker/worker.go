package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Mutter0815/tenantcast/internal/dispatch"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/metrics"
	"github.com/Mutter0815/tenantcast/pkg/model"
	"github.com/Mutter0815/tenantcast/pkg/rmq"
)

type dispatcher interface {
	Dispatch(ctx context.Context, tenantID, messageID int64) (dispatch.Result, error)
}

type retryQueue interface {
	EnqueueRetry(ctx context.Context, job model.DispatchJob, retries int) error
}

type deliverySource interface {
	Consume() (<-chan amqp.Delivery, error)
}

type Worker struct {
	Dispatcher dispatcher
	Source     deliverySource
	Retry      retryQueue
	Workers    int
}

func New(d dispatcher, cons *rmq.Consumer, retry retryQueue, workers int) *Worker {
	if workers <= 0 {
		workers = 1
	}
	return &Worker{Dispatcher: d, Source: cons, Retry: retry, Workers: workers}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.Source.Consume()
	if err != nil {
		return err
	}
	logx.L().Infow("worker_started", "workers", w.Workers)

	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id, msgs)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		logx.L().Infow("worker_stopping")
		return ctx.Err()
	}
	return nil
}

func (w *Worker) loop(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				logx.L().Warnw("consumer_channel_closed", "worker", id)
				return
			}
			w.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery and settles it with exactly one ack or nack.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	metrics.WorkerJobsConsumed.Inc()
	defer func() { metrics.WorkerProcessDuration.Observe(time.Since(start).Seconds()) }()

	var job model.DispatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.MessageID == 0 {
		logx.L().Warnw("job_unmarshal_error", "error", err)
		_ = d.Ack(false)
		return
	}
	fields := []any{
		"message_id", job.MessageID,
		"tenant_id", job.TenantID,
		"trace_id", job.TraceID,
	}

	res, err := w.Dispatcher.Dispatch(ctx, job.TenantID, job.MessageID)
	if err != nil {
		logx.L().Errorw("dispatch_error", append(fields, "error", err)...)
		_ = d.Nack(false, true)
		return
	}

	switch res.Outcome {
	case dispatch.OutcomeSent:
		metrics.WorkerJobsSent.Inc()
		logx.L().Infow("send_success", append(fields, "external_id", res.ExternalID)...)
		_ = d.Ack(false)

	case dispatch.OutcomeFailed:
		kind := "exhausted"
		if res.Permanent {
			kind = "permanent"
		}
		metrics.WorkerJobsFailed.WithLabelValues(kind).Inc()
		logx.L().Warnw("send_failed", append(fields, "kind", kind, "reason", res.Reason)...)
		_ = d.Ack(false)

	case dispatch.OutcomeRetry:
		retries := rmq.HeaderRetries(d.Headers) + 1
		metrics.WorkerJobRetries.Inc()
		logx.L().Infow("retry_requeue", append(fields, "retries", retries, "delay", res.Delay.String())...)
		if err := w.requeue(ctx, job, retries, res.Delay); err != nil {
			// The message is back in QUEUED, so a redelivery is safe.
			logx.L().Errorw("retry_publish_error", append(fields, "retries", retries, "error", err)...)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)

	default:
		logx.L().Debugw("send_skipped", append(fields, "reason", res.Reason)...)
		_ = d.Ack(false)
	}
}

func (w *Worker) requeue(ctx context.Context, job model.DispatchJob, retries int, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return w.Retry.EnqueueRetry(pubCtx, job, retries)
}
