package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
)

type WorkspaceRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Workspace, error)
	Create(ctx context.Context, w *domain.Workspace) error
}

type workspaceRepository struct {
	db *sql.DB
}

func NewWorkspaceRepository(db *sql.DB) WorkspaceRepository {
	return &workspaceRepository{db: db}
}

func (r *workspaceRepository) GetByID(ctx context.Context, id string) (*domain.Workspace, error) {
	var w domain.Workspace
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, webhook_secret, rate_limit_profile, created_at
		FROM workspaces WHERE id = $1
	`, id).Scan(&w.ID, &w.Name, &w.WebhookSecret, &w.RateLimitProfile, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("workspace", id)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *workspaceRepository) Create(ctx context.Context, w *domain.Workspace) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, webhook_secret, rate_limit_profile, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, w.ID, w.Name, w.WebhookSecret, w.RateLimitProfile)
	return err
}
