package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

// ListEligibleContacts returns the tenant's reachable contacts, narrowed to
// one segment when segment is non-nil.
func (s *Store) ListEligibleContacts(ctx context.Context, tenantID int64, segment *string) ([]model.Contact, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, tenant_id, phone, name, customer_ref, segment, preferred_language, opted_out, is_deleted
		FROM contacts
		WHERE tenant_id = $1
		  AND NOT opted_out AND NOT is_deleted
		  AND ($2::text IS NULL OR segment = $2)
		ORDER BY id
	`, tenantID, segment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.CustomerRef, &c.Segment,
			&c.Language, &c.OptedOut, &c.Deleted); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountContacts(ctx context.Context, tenantID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contacts WHERE tenant_id = $1 AND NOT is_deleted
	`, tenantID).Scan(&n)
	return n, err
}

func (s *Store) GetTemplateTranslation(ctx context.Context, templateID int64, language string) (model.TemplateTranslation, error) {
	var (
		t        model.TemplateTranslation
		bindings []byte
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT template_id, language, gateway_name, bindings, approval_status
		FROM template_translations
		WHERE template_id = $1 AND language = $2
	`, templateID, language).Scan(&t.TemplateID, &t.Language, &t.GatewayName, &bindings, &t.ApprovalStatus)
	if err != nil {
		return t, notFound(err)
	}
	if len(bindings) > 0 {
		if err := json.Unmarshal(bindings, &t.Bindings); err != nil {
			return t, fmt.Errorf("template %d/%s bindings: %w", templateID, language, err)
		}
	}
	return t, nil
}
