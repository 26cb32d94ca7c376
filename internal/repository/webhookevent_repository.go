package repository

import (
	"context"
	"database/sql"

	"github.com/relaywave/wa-core/internal/domain"
)

// WebhookEventRepository implements the dedupe set from §4.5 step 5 and
// invariant 3: an atomic insert that reports whether the (event_id,
// workspace) pair was already present, so the caller can skip reprocessing
// silently. Postgres's ON CONFLICT DO NOTHING plus RowsAffected gives us
// the atomicity without a separate SELECT-then-INSERT race.
type WebhookEventRepository interface {
	InsertIfNew(ctx context.Context, e *domain.WebhookEvent) (inserted bool, err error)
	MarkProcessed(ctx context.Context, workspaceID, eventID string) error
}

type webhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) InsertIfNew(ctx context.Context, e *domain.WebhookEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, workspace_id, kind, received_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (workspace_id, event_id) DO NOTHING
	`, e.EventID, e.WorkspaceID, e.Kind)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, workspaceID, eventID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed_at = now() WHERE workspace_id = $1 AND event_id = $2
	`, workspaceID, eventID)
	return err
}
