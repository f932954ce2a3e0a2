package dispatch

import (
	"context"
	"errors"

	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/metrics"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

type IngestOutcome int

const (
	IngestApplied IngestOutcome = iota
	IngestIgnored
	IngestUnknown
)

func (o IngestOutcome) String() string {
	switch o {
	case IngestApplied:
		return "applied"
	case IngestIgnored:
		return "ignored"
	}
	return "unknown"
}

// maxIngestAttempts bounds re-reads after losing a status race.
const maxIngestAttempts = 3

type Ingester struct {
	store Store
}

func NewIngester(st Store) *Ingester { return &Ingester{store: st} }

// Apply moves the message named by ev forward. Stale, duplicate and
// out-of-order events are ignored; each transition is counted once.
func (in *Ingester) Apply(ctx context.Context, ev gateway.StatusEvent) (IngestOutcome, error) {
	out, err := in.apply(ctx, ev)
	if err == nil {
		metrics.StatusEvents.WithLabelValues(ev.RawStatus, out.String()).Inc()
	}
	return out, err
}

func (in *Ingester) apply(ctx context.Context, ev gateway.StatusEvent) (IngestOutcome, error) {
	if ev.Status == "" {
		logx.L().Debugw("status_unrecognized", "external_id", ev.ExternalID, "status", ev.RawStatus)
		return IngestIgnored, nil
	}

	for attempt := 0; attempt < maxIngestAttempts; attempt++ {
		m, err := in.store.FindByExternalID(ctx, ev.ExternalID)
		if errors.Is(err, store.ErrNotFound) {
			logx.L().Infow("status_unknown_message", "external_id", ev.ExternalID, "status", ev.Status)
			return IngestUnknown, nil
		}
		if err != nil {
			return 0, err
		}
		if !model.CanTransition(m.Status, ev.Status) {
			logx.L().Debugw("status_ignored", "message_id", m.ID, "from", m.Status, "to", ev.Status)
			return IngestIgnored, nil
		}

		change := store.StatusChange{
			TenantID: m.TenantID, ID: m.ID,
			From: m.Status, To: ev.Status,
			At:       ev.Timestamp,
			Counters: countersFor(m.Status, ev.Status),
		}
		if ev.Status == model.StatusFailed {
			change.Reason = ev.Reason
			if change.Reason == "" {
				change.Reason = "gateway reported failure"
			}
		}
		ok, err := in.store.TransitionMessage(ctx, change)
		if err != nil {
			return 0, err
		}
		if ok {
			logx.L().Infow("status_applied", "message_id", m.ID, "tenant_id", m.TenantID, "from", m.Status, "to", ev.Status)
			return IngestApplied, nil
		}
	}
	return IngestIgnored, nil
}

func countersFor(from, to model.MessageStatus) []model.RunCounter {
	switch to {
	case model.StatusSent:
		return []model.RunCounter{model.CounterSent}
	case model.StatusDelivered:
		return []model.RunCounter{model.CounterDelivered}
	case model.StatusRead:
		// A read message was delivered, even if that callback never came.
		if from == model.StatusSent {
			return []model.RunCounter{model.CounterDelivered, model.CounterRead}
		}
		return []model.RunCounter{model.CounterRead}
	case model.StatusFailed:
		return []model.RunCounter{model.CounterFailed}
	}
	return nil
}
