package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
)

// PhoneNumberRepository resolves the upstream phone id and access token the
// Dispatcher needs to build an OutboundCommand, and stores the quality
// rating reported by webhook quality updates.
type PhoneNumberRepository interface {
	GetByID(ctx context.Context, id string) (*domain.PhoneNumber, error)
	GetByUpstreamPhoneID(ctx context.Context, upstreamPhoneID string) (*domain.PhoneNumber, error)
	UpdateQualityRating(ctx context.Context, id string, rating domain.QualityRating) error
}

type phoneNumberRepository struct {
	db *sql.DB
}

func NewPhoneNumberRepository(db *sql.DB) PhoneNumberRepository {
	return &phoneNumberRepository{db: db}
}

const selectPhoneNumberColumns = `
	SELECT id, workspace_id, upstream_phone_id, encrypted_token, quality_rating,
	       daily_message_cap, created_at, updated_at
	FROM phone_numbers
`

func scanPhoneNumber(row scanner) (*domain.PhoneNumber, error) {
	var p domain.PhoneNumber
	if err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.UpstreamPhoneID, &p.EncryptedToken, &p.QualityRating,
		&p.DailyMessageCap, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *phoneNumberRepository) GetByID(ctx context.Context, id string) (*domain.PhoneNumber, error) {
	row := r.db.QueryRowContext(ctx, selectPhoneNumberColumns+` WHERE id = $1`, id)
	p, err := scanPhoneNumber(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("phone_number", id)
	}
	return p, err
}

func (r *phoneNumberRepository) GetByUpstreamPhoneID(ctx context.Context, upstreamPhoneID string) (*domain.PhoneNumber, error) {
	row := r.db.QueryRowContext(ctx, selectPhoneNumberColumns+` WHERE upstream_phone_id = $1`, upstreamPhoneID)
	p, err := scanPhoneNumber(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("phone_number", upstreamPhoneID)
	}
	return p, err
}

func (r *phoneNumberRepository) UpdateQualityRating(ctx context.Context, id string, rating domain.QualityRating) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE phone_numbers SET quality_rating = $1, updated_at = now() WHERE id = $2
	`, rating, id)
	return err
}
