package domain

import "time"

// WebhookEventKind demultiplexes an ingested event onto its typed internal
// queue (§4.5, §6).
type WebhookEventKind string

const (
	EventStatusUpdate     WebhookEventKind = "STATUS_UPDATE"
	EventInboundMessage   WebhookEventKind = "INBOUND_MESSAGE"
	EventTemplateUpdate   WebhookEventKind = "TEMPLATE_UPDATE"
	EventPhoneNumberUpdate WebhookEventKind = "PHONE_NUMBER_UPDATE"
)

// WebhookEvent is used exclusively for dedup and audit (§3). Rows are kept:
// nothing in this code deletes or expires them, and the loaded
// config.WebhookDedupeTTL is not applied to them.
type WebhookEvent struct {
	EventID     string           `db:"event_id" json:"event_id"`
	WorkspaceID string           `db:"workspace_id" json:"workspace_id"`
	Kind        WebhookEventKind `db:"kind" json:"kind"`
	ReceivedAt  time.Time        `db:"received_at" json:"received_at"`
	ProcessedAt *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
}
