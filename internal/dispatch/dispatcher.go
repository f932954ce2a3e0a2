// Package dispatch sends queued messages and applies delivery callbacks.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

type Store interface {
	GetMessage(ctx context.Context, tenantID, id int64) (model.Message, error)
	FindByExternalID(ctx context.Context, externalID string) (model.Message, error)
	TransitionMessage(ctx context.Context, c store.StatusChange) (bool, error)
}

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSent
	OutcomeRetry
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	}
	return "skipped"
}

type Result struct {
	Outcome    Outcome
	ExternalID string
	// Delay is how long to wait before the job is tried again (OutcomeRetry).
	Delay  time.Duration
	Reason string
	// Permanent is set on OutcomeFailed when the gateway rejected the message.
	Permanent bool
}

const resultWriteTimeout = 10 * time.Second

type Dispatcher struct {
	store       Store
	sender      gateway.Sender
	policy      RetryPolicy
	sendTimeout time.Duration
}

func NewDispatcher(st Store, sender gateway.Sender, policy RetryPolicy, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{store: st, sender: sender, policy: policy, sendTimeout: sendTimeout}
}

// Dispatch sends one message. It is safe to call any number of times for
// the same message: only the caller that claims QUEUED->SENDING sends.
// A returned error means the store failed and the job should be redelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, messageID int64) (Result, error) {
	m, err := d.store.GetMessage(ctx, tenantID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Outcome: OutcomeSkipped, Reason: "message not found"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if m.Status != model.StatusQueued {
		return Result{Outcome: OutcomeSkipped, Reason: "status " + string(m.Status)}, nil
	}

	claimed, err := d.store.TransitionMessage(ctx, store.StatusChange{
		TenantID: m.TenantID, ID: m.ID,
		From: model.StatusQueued, To: model.StatusSending,
		At: time.Now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{Outcome: OutcomeSkipped, Reason: "claimed elsewhere"}, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	extID, sendErr := d.sender.SendTemplate(sendCtx, gateway.SendRequest{
		Reference: strconv.FormatInt(m.ID, 10),
		Phone:     m.Phone,
		Template:  m.TemplateName,
		Language:  m.Language,
		Variables: m.Variables,
	})
	cancel()

	// The message is ours until its result is recorded; a shutdown must not
	// strand it in SENDING.
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
	defer wcancel()

	if sendErr == nil {
		return d.markSent(wctx, m, extID)
	}
	return d.handleFailure(wctx, m, sendErr)
}

func (d *Dispatcher) markSent(ctx context.Context, m model.Message, extID string) (Result, error) {
	ok, err := d.store.TransitionMessage(ctx, store.StatusChange{
		TenantID: m.TenantID, ID: m.ID,
		From: model.StatusSending, To: model.StatusSent,
		At: time.Now().UTC(), ExternalID: extID,
		Counters: []model.RunCounter{model.CounterSent},
	})
	if err != nil {
		return Result{}, err
	}
	if !ok {
		logx.L().Warnw("mark_sent_lost", "message_id", m.ID, "external_id", extID)
	}
	return Result{Outcome: OutcomeSent, ExternalID: extID}, nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, m model.Message, sendErr error) (Result, error) {
	reason := sendErr.Error()
	fields := []any{"message_id", m.ID, "tenant_id", m.TenantID, "retry_count", m.RetryCount, "error", sendErr}

	if gateway.IsTransient(sendErr) && d.policy.CanRetry(m.RetryCount) {
		ok, err := d.store.TransitionMessage(ctx, store.StatusChange{
			TenantID: m.TenantID, ID: m.ID,
			From: model.StatusSending, To: model.StatusQueued,
			At: time.Now().UTC(), Reason: reason,
		})
		if err != nil {
			return Result{}, err
		}
		if ok {
			delay := d.policy.Delay(m.RetryCount)
			logx.L().Infow("send_retry", append(fields, "delay", delay.String())...)
			return Result{Outcome: OutcomeRetry, Delay: delay, Reason: reason}, nil
		}
	}

	permanent := gateway.IsPermanent(sendErr)
	ok, err := d.store.TransitionMessage(ctx, store.StatusChange{
		TenantID: m.TenantID, ID: m.ID,
		From: model.StatusSending, To: model.StatusFailed,
		At: time.Now().UTC(), Reason: reason,
		Counters: []model.RunCounter{model.CounterFailed},
	})
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Outcome: OutcomeSkipped, Reason: "status changed during send"}, nil
	}
	logx.L().Warnw("send_failed", append(fields, "permanent", permanent)...)
	return Result{Outcome: OutcomeFailed, Reason: reason, Permanent: permanent}, nil
}
