// Package repository is the row-store access layer, generalized from the
// teacher's internal/repository: every mutation the spec calls a CAS is one
// parameterized UPDATE ... WHERE status = $expected ... RETURNING statement,
// generalizing the teacher's FetchAndLockMessages/UpdateStatus pair (which
// only ever moved pending->processing) to arbitrary expected->next pairs.
package repository

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
)

// MessageRepository is the persistence contract the Dispatcher, Webhook
// handlers and API layer use. The CAS-style mutations (CASStatus,
// AdvanceStatus) report applied bool, where applied=false means the CAS precondition
// did not hold (not an error: the caller is expected to treat it as a
// duplicate/stale-write and move on, per invariant 4).
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByUpstreamID(ctx context.Context, upstreamID string) (*domain.Message, error)

	// CASStatus transitions id from expected to next iff the row's current
	// status equals expected. Used by the Dispatcher's step 3 (QUEUED->SENDING)
	// and step 7 (SENDING->SENT/FAILED/QUEUED).
	CASStatus(ctx context.Context, id string, expected, next domain.Status, opts CASOptions) (bool, error)

	// AdvanceStatus applies the rank-respecting partial order of §4.5: it
	// transitions to next only if next outranks the row's current status,
	// or next is FAILED. Used by the webhook status handler.
	AdvanceStatus(ctx context.Context, upstreamID string, next domain.Status, at time.Time, lastErr *domain.LastError) (*domain.Message, bool, error)

	CountByCampaignStatus(ctx context.Context, campaignID string) (map[domain.Status]int, error)
}

// CASOptions carries the optional side-effects of a status CAS.
type CASOptions struct {
	WorkerID          string
	AttemptIncrement  bool
	Deadline          *time.Time
	AvailableAt       *time.Time
	UpstreamMessageID *string
	LastError         *domain.LastError
}

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository constructs the Postgres-backed MessageRepository.
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, workspace_id, phone_number_id, campaign_id, direction, kind,
			 recipient, payload, status, attempt_count, available_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,now(),now())
	`, m.ID, m.WorkspaceID, m.PhoneNumberID, m.CampaignID, m.Direction, m.Kind,
		m.Recipient, m.Payload, m.Status)
	return err
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, selectMessageColumns+` WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("message", id)
	}
	return m, err
}

func (r *messageRepository) GetByUpstreamID(ctx context.Context, upstreamID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, selectMessageColumns+` WHERE upstream_message_id = $1`, upstreamID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

const selectMessageColumns = `
	SELECT id, workspace_id, phone_number_id, campaign_id, direction, kind,
	       recipient, payload, upstream_message_id, status, attempt_count,
	       worker_id, available_at, deadline, last_error_kind, last_error_code,
	       last_error_message, created_at, queued_at, sent_at, delivered_at,
	       read_at, failed_at
	FROM messages
`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var m domain.Message
	var lastErrKind, lastErrCode, lastErrMessage sql.NullString
	var deadline, queuedAt, sentAt, deliveredAt, readAt, failedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.WorkspaceID, &m.PhoneNumberID, &m.CampaignID, &m.Direction, &m.Kind,
		&m.Recipient, &m.Payload, &m.UpstreamMessageID, &m.Status, &m.AttemptCount,
		&m.WorkerID, &m.AvailableAt, &deadline, &lastErrKind, &lastErrCode,
		&lastErrMessage, &m.CreatedAt, &queuedAt, &sentAt, &deliveredAt,
		&readAt, &failedAt,
	)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		m.Deadline = deadline.Time
	}
	if queuedAt.Valid {
		m.QueuedAt = &queuedAt.Time
	}
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		m.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	if failedAt.Valid {
		m.FailedAt = &failedAt.Time
	}
	if lastErrKind.Valid {
		m.LastError = &domain.LastError{Kind: lastErrKind.String, Code: lastErrCode.String, Message: lastErrMessage.String}
	}
	return &m, nil
}

func (r *messageRepository) CASStatus(ctx context.Context, id string, expected, next domain.Status, opts CASOptions) (bool, error) {
	set := []string{"status = $1"}
	args := []any{next}
	n := 2

	timestampCol := statusTimestampColumn(next)
	if timestampCol != "" {
		set = append(set, timestampCol+" = now()")
	}
	if opts.AttemptIncrement {
		set = append(set, "attempt_count = attempt_count + 1")
	}
	if opts.WorkerID != "" {
		set = append(set, "worker_id = $"+itoa(n))
		args = append(args, opts.WorkerID)
		n++
	}
	if opts.Deadline != nil {
		set = append(set, "deadline = $"+itoa(n))
		args = append(args, *opts.Deadline)
		n++
	}
	if opts.AvailableAt != nil {
		set = append(set, "available_at = $"+itoa(n))
		args = append(args, *opts.AvailableAt)
		n++
	}
	if opts.UpstreamMessageID != nil {
		set = append(set, "upstream_message_id = $"+itoa(n))
		args = append(args, *opts.UpstreamMessageID)
		n++
	}
	if opts.LastError != nil {
		set = append(set, "last_error_kind = $"+itoa(n))
		args = append(args, opts.LastError.Kind)
		n++
		set = append(set, "last_error_code = $"+itoa(n))
		args = append(args, opts.LastError.Code)
		n++
		set = append(set, "last_error_message = $"+itoa(n))
		args = append(args, opts.LastError.Message)
		n++
	}

	query := "UPDATE messages SET " + joinComma(set) +
		" WHERE id = $" + itoa(n) + " AND status = $" + itoa(n+1)
	args = append(args, id, expected)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func statusTimestampColumn(s domain.Status) string {
	switch s {
	case domain.StatusQueued:
		return "queued_at"
	case domain.StatusSent:
		return "sent_at"
	case domain.StatusDelivered:
		return "delivered_at"
	case domain.StatusRead:
		return "read_at"
	case domain.StatusFailed:
		return "failed_at"
	}
	return ""
}

// AdvanceStatus implements the §4.5 partial order: the write applies only if
// next outranks the row's current status or next is FAILED. The whole
// read-compare-write happens inside one statement so concurrent status
// handlers for the same Message cannot race past each other.
func (r *messageRepository) AdvanceStatus(ctx context.Context, upstreamID string, next domain.Status, at time.Time, lastErr *domain.LastError) (*domain.Message, bool, error) {
	rank := next.Rank()
	timestampCol := statusTimestampColumn(next)

	set := "status = $1"
	args := []any{next}
	n := 2
	if timestampCol != "" {
		set += ", " + timestampCol + " = COALESCE(" + timestampCol + ", $" + itoa(n) + ")"
		args = append(args, at)
		n++
	}
	if next == domain.StatusFailed && lastErr != nil {
		set += ", last_error_kind = $" + itoa(n)
		args = append(args, lastErr.Kind)
		n++
		set += ", last_error_code = $" + itoa(n)
		args = append(args, lastErr.Code)
		n++
		set += ", last_error_message = $" + itoa(n)
		args = append(args, lastErr.Message)
		n++
	}
	// DELIVERED/READ imply SENT when it never arrived (§4.5 "implied SENT").
	if next == domain.StatusDelivered || next == domain.StatusRead {
		set += ", sent_at = COALESCE(sent_at, $" + itoa(n) + ")"
		args = append(args, at)
		n++
	}

	rankExpr := `CASE status
		WHEN 'PENDING' THEN 0 WHEN 'QUEUED' THEN 1 WHEN 'SENDING' THEN 2
		WHEN 'SENT' THEN 3 WHEN 'DELIVERED' THEN 4 WHEN 'READ' THEN 5
		ELSE -1 END`

	// A row that is already FAILED is never moved, so a second,
	// distinct-event-id FAILED status doesn't re-apply and double-count
	// downstream counters, and a late SENT/DELIVERED/READ can't revive it.
	query := `UPDATE messages SET ` + set + ` WHERE upstream_message_id = $` + itoa(n) +
		` AND status <> 'FAILED' AND ($` + itoa(n+1) + ` = true OR ` + rankExpr + ` < ` + itoa(rank) + `)
		RETURNING id`
	args = append(args, upstreamID, next == domain.StatusFailed)

	var id string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	m, err := r.GetByID(ctx, id)
	return m, true, err
}

func (r *messageRepository) CountByCampaignStatus(ctx context.Context, campaignID string) (map[domain.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.Status]int{}
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func itoa(n int) string {
	if n < 10 {
		return string([]byte{byte('0' + n)})
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
