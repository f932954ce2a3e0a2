package store

import (
	"context"
	"time"
)

// SaveWebhookEvent keeps the raw callback body for audit.
func (s *Store) SaveWebhookEvent(ctx context.Context, payload []byte) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO webhook_events (payload) VALUES ($1) RETURNING id
	`, string(payload)).Scan(&id)
	return id, err
}

func (s *Store) MarkWebhookProcessed(ctx context.Context, id int64, note string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE webhook_events SET processed = TRUE, processed_at = $1, error_note = $2
		 WHERE id = $3
	`, at, note, id)
	return err
}
