package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

const messageColumns = `id, tenant_id, contact_id, campaign_id, run_id, phone, template_name, language,
	variables, external_id, status, fail_reason, retry_count, queued_at, sending_at, sent_at,
	delivered_at, read_at, failed_at, updated_at`

var statusTimeColumn = map[model.MessageStatus]string{
	model.StatusQueued:    "queued_at",
	model.StatusSending:   "sending_at",
	model.StatusSent:      "sent_at",
	model.StatusDelivered: "delivered_at",
	model.StatusRead:      "read_at",
	model.StatusFailed:    "failed_at",
}

func scanMessage(r rowScanner) (model.Message, error) {
	var (
		m    model.Message
		vars []byte
	)
	err := r.Scan(&m.ID, &m.TenantID, &m.ContactID, &m.CampaignID, &m.RunID, &m.Phone, &m.TemplateName,
		&m.Language, &vars, &m.ExternalID, &m.Status, &m.FailReason, &m.RetryCount, &m.QueuedAt,
		&m.SendingAt, &m.SentAt, &m.DeliveredAt, &m.ReadAt, &m.FailedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &m.Variables); err != nil {
			return m, fmt.Errorf("message %d variables: %w", m.ID, err)
		}
	}
	return m, nil
}

// InsertMessage stores a new message and counts it against its run in the
// same transaction: messages_queued for QUEUED, messages_failed for a message
// born FAILED (no usable translation).
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	if m.Variables == nil {
		m.Variables = []string{}
	}
	vars, err := json.Marshal(m.Variables)
	if err != nil {
		return err
	}
	if m.QueuedAt.IsZero() {
		m.QueuedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = model.StatusQueued
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var failedAt *time.Time
		if m.Status == model.StatusFailed {
			failedAt = &m.QueuedAt
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (tenant_id, contact_id, campaign_id, run_id, phone, template_name,
			                      language, variables, status, fail_reason, queued_at, failed_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$11)
			RETURNING id
		`, m.TenantID, m.ContactID, m.CampaignID, m.RunID, m.Phone, m.TemplateName,
			m.Language, string(vars), m.Status, m.FailReason, m.QueuedAt, failedAt).Scan(&m.ID)
		if err != nil {
			return err
		}
		if m.RunID == nil {
			return nil
		}
		switch m.Status {
		case model.StatusQueued:
			return incrementCounter(ctx, tx, m.TenantID, *m.RunID, model.CounterQueued)
		case model.StatusFailed:
			return incrementCounter(ctx, tx, m.TenantID, *m.RunID, model.CounterFailed)
		}
		return nil
	})
}

func (s *Store) GetMessage(ctx context.Context, tenantID, id int64) (model.Message, error) {
	m, err := scanMessage(s.DB.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		return model.Message{}, notFound(err)
	}
	return m, nil
}

// FindByExternalID resolves a gateway callback. External IDs are globally
// unique, so the lookup is not tenant-scoped; the returned message carries
// the tenant every follow-up write is scoped by.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (model.Message, error) {
	m, err := scanMessage(s.DB.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE external_id = $1
	`, externalID))
	if err != nil {
		return model.Message{}, notFound(err)
	}
	return m, nil
}

// StatusChange is a compare-and-set on a message's status.
type StatusChange struct {
	TenantID   int64
	ID         int64
	From       model.MessageStatus
	To         model.MessageStatus
	At         time.Time
	ExternalID string
	Reason     string
	// Counters are incremented on the message's run only if the change applies.
	Counters []model.RunCounter
}

var ErrIllegalTransition = errors.New("illegal status transition")

// TransitionMessage applies c if the message is still in c.From. It reports
// false when another writer got there first. Counter increments share the
// transaction, so a transition is counted at most once.
func (s *Store) TransitionMessage(ctx context.Context, c StatusChange) (bool, error) {
	requeue := c.To == model.StatusQueued && model.CanRequeue(c.From)
	if !requeue && !model.CanTransition(c.From, c.To) {
		return false, fmt.Errorf("%s -> %s: %w", c.From, c.To, ErrIllegalTransition)
	}
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	set := []string{"status = $1", "updated_at = $2", statusTimeColumn[c.To] + " = $2"}
	args := []any{c.To, c.At}
	if c.To == model.StatusRead {
		set = append(set, "delivered_at = COALESCE(delivered_at, $2)")
	}
	if requeue {
		set = append(set, "retry_count = retry_count + 1")
	}
	if c.ExternalID != "" {
		args = append(args, c.ExternalID)
		set = append(set, fmt.Sprintf("external_id = $%d", len(args)))
	}
	if c.Reason != "" {
		args = append(args, c.Reason)
		set = append(set, fmt.Sprintf("fail_reason = $%d", len(args)))
	}
	args = append(args, c.TenantID, c.ID, c.From)
	n := len(args)
	query := "UPDATE messages SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE tenant_id = $%d AND id = $%d AND status = $%d RETURNING run_id", n-2, n-1, n)

	applied := false
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var runID sql.NullInt64
		err := tx.QueryRowContext(ctx, query, args...).Scan(&runID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("external id %q: %w", c.ExternalID, ErrConflict)
		}
		if err != nil {
			return err
		}
		applied = true
		if !runID.Valid {
			return nil
		}
		for _, counter := range c.Counters {
			if err := incrementCounter(ctx, tx, c.TenantID, runID.Int64, counter); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListStaleQueued finds messages left QUEUED since before cutoff, typically
// because their job was lost between the database and the broker.
func (s *Store) ListStaleQueued(ctx context.Context, cutoff time.Time, limit int) ([]model.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'QUEUED' AND queued_at < $1
		ORDER BY queued_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TouchQueued bumps queued_at so a re-driven message is not swept again at once.
func (s *Store) TouchQueued(ctx context.Context, tenantID, id int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE messages SET queued_at = $1, updated_at = $1
		 WHERE tenant_id = $2 AND id = $3 AND status = 'QUEUED'
	`, at, tenantID, id)
	return err
}
