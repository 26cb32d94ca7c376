package repository

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
)

// CampaignRepository is generalized from the teacher's
// CampaignRepositoryInterface: CRUD plus the counters the executor and
// status handler need, with the CAS the teacher lacked for Campaign status
// transitions (needed for pause/cancel racing against the executor loop).
type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, workspaceID string, offset, limit int, status string) ([]*domain.Campaign, int, error)
	// ListByStatus is cross-workspace, used only by cmd/worker on startup to
	// re-attach an Executor to campaigns a prior process left SENDING.
	ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error)
	CASStatus(ctx context.Context, id string, expected, next domain.CampaignStatus) (bool, error)
	IsCancelled(ctx context.Context, id string) (bool, error)
	IncrementCounters(ctx context.Context, id string, sent, delivered, read, failed int) error
	SetTotal(ctx context.Context, id string, total int) error
}

type campaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, workspace_id, name, phone_number_id, template_name, language_code, status, scheduled_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, c.ID, c.WorkspaceID, c.Name, c.PhoneNumberID, c.TemplateName, c.LanguageCode, c.Status, c.ScheduledAt)
	return err
}

const selectCampaignColumns = `
	SELECT id, workspace_id, name, phone_number_id, template_name, language_code,
	       status, scheduled_at, cancelled_at, total, sent, delivered, read, failed,
	       created_at, updated_at
	FROM campaigns
`

func scanCampaign(row scanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var scheduledAt, cancelledAt, updatedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.Name, &c.PhoneNumberID, &c.TemplateName, &c.LanguageCode,
		&c.Status, &scheduledAt, &cancelledAt, &c.Total, &c.Sent, &c.Delivered, &c.Read, &c.Failed,
		&c.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if cancelledAt.Valid {
		c.CancelledAt = &cancelledAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = &updatedAt.Time
	}
	return &c, nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, selectCampaignColumns+` WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("campaign", id)
	}
	return c, err
}

func (r *campaignRepository) List(ctx context.Context, workspaceID string, offset, limit int, status string) ([]*domain.Campaign, int, error) {
	query := selectCampaignColumns + ` WHERE workspace_id = $1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE workspace_id = $1`
	args := []any{workspaceID}
	if status != "" {
		query += ` AND status = $2`
		countQuery += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *campaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, selectCampaignColumns+` WHERE status = $1`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *campaignRepository) CASStatus(ctx context.Context, id string, expected, next domain.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status = $1, updated_at = now()`
	args := []any{next}
	if next == domain.CampaignCancelled {
		query += `, cancelled_at = now()`
	}
	query += ` WHERE id = $2 AND status = $3`
	args = append(args, id, expected)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *campaignRepository) IsCancelled(ctx context.Context, id string) (bool, error) {
	var status domain.CampaignStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return false, err
	}
	return status == domain.CampaignCancelled, nil
}

func (r *campaignRepository) IncrementCounters(ctx context.Context, id string, sent, delivered, read, failed int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET sent = sent + $1, delivered = delivered + $2, read = read + $3, failed = failed + $4, updated_at = now()
		WHERE id = $5
	`, sent, delivered, read, failed, id)
	return err
}

func (r *campaignRepository) SetTotal(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET total = $1, updated_at = now() WHERE id = $2`, total, id)
	return err
}
