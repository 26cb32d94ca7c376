package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
)

// TemplateRepository is a read-only view over templates managed outside
// this service (§1 Non-goals): approval, creation, and editing happen
// through Meta's template manager, and webhook.handleTemplateUpdate only
// logs what Meta reports. The Campaign Executor uses it only to check that
// a campaign's template_name resolves, logging a failed lookup; the body
// text is not used for substitution. Grounded on the teacher's
// BaseTemplate field on Campaign generalized into its own row.
type TemplateRepository interface {
	GetByName(ctx context.Context, workspaceID, name, languageCode string) (*domain.TemplateRef, error)
}

type templateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) GetByName(ctx context.Context, workspaceID, name, languageCode string) (*domain.TemplateRef, error) {
	var t domain.TemplateRef
	err := r.db.QueryRowContext(ctx, `
		SELECT name, language_code, body_text
		FROM templates
		WHERE workspace_id = $1 AND name = $2 AND language_code = $3
	`, workspaceID, name, languageCode).Scan(&t.Name, &t.LanguageCode, &t.BodyText)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("template", name)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
