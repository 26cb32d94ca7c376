package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/relaywave/wa-core/internal/domain"
)

// ContactRepository is generalized from the teacher's CustomerRepository:
// same GetByID shape, plus GetOrCreateByWAID for the inbound
// handler (§4.5) and ListForCampaign for the executor's stable contact
// ordering (§4.6).
type ContactRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Contact, error)
	GetOrCreateByWAID(ctx context.Context, workspaceID, waID, phone string) (*domain.Contact, error)
	ListForCampaign(ctx context.Context, campaignID string, afterID string, limit int) ([]*domain.Contact, error)
}

type contactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) ContactRepository {
	return &contactRepository{db: db}
}

func scanContact(row scanner) (*domain.Contact, error) {
	var c domain.Contact
	var attrs []byte
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.WAID, &c.Phone, &attrs, &c.OptedOut, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Attributes = map[string]string{}
	if len(attrs) > 0 {
		_ = json.Unmarshal(attrs, &c.Attributes)
	}
	return &c, nil
}

const selectContactColumns = `SELECT id, workspace_id, wa_id, phone, attributes, opted_out, created_at FROM contacts`

func (r *contactRepository) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, selectContactColumns+` WHERE id = $1`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *contactRepository) GetOrCreateByWAID(ctx context.Context, workspaceID, waID, phone string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx, selectContactColumns+` WHERE workspace_id = $1 AND wa_id = $2`, workspaceID, waID)
	c, err := scanContact(row)
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	c = &domain.Contact{WorkspaceID: workspaceID, WAID: waID, Phone: phone, Attributes: map[string]string{}}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, workspace_id, wa_id, phone, attributes, opted_out, created_at)
		VALUES (gen_random_uuid()::text, $1, $2, $3, '{}', false, now())
		ON CONFLICT (workspace_id, wa_id) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id, created_at
	`, workspaceID, waID, phone).Scan(&c.ID, &c.CreatedAt)
	return c, err
}

func (r *contactRepository) ListForCampaign(ctx context.Context, campaignID string, afterID string, limit int) ([]*domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.workspace_id, c.wa_id, c.phone, c.attributes, c.opted_out, c.created_at
		FROM contacts c
		JOIN campaign_contacts cc ON cc.contact_id = c.id
		WHERE cc.campaign_id = $1 AND c.id > $2
		ORDER BY c.id
		LIMIT $3
	`, campaignID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []*domain.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
