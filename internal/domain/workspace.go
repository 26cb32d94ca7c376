package domain

import "time"

// Workspace is the tenant boundary. Every other entity is scoped to one.
type Workspace struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	WebhookSecret    string    `db:"webhook_secret" json:"-"`
	RateLimitProfile string    `db:"rate_limit_profile" json:"rate_limit_profile"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// QualityRating mirrors the upstream-assigned reputation tier for a phone number.
type QualityRating string

const (
	QualityGreen   QualityRating = "GREEN"
	QualityYellow  QualityRating = "YELLOW"
	QualityRed     QualityRating = "RED"
	QualityUnknown QualityRating = "UNKNOWN"
)
