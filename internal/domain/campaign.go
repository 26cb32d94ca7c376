package domain

import "time"

// CampaignStatus is the state machine defined in spec §4.6.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// Campaign is a (template, phone-number, contact-set) tuple driven through
// the state machine by the Campaign Executor (C6).
type Campaign struct {
	ID            string         `db:"id" json:"id"`
	WorkspaceID   string         `db:"workspace_id" json:"workspace_id"`
	Name          string         `db:"name" json:"name"`
	PhoneNumberID string         `db:"phone_number_id" json:"phone_number_id"`
	TemplateName  string         `db:"template_name" json:"template_name"`
	LanguageCode  string         `db:"language_code" json:"language_code"`
	Status        CampaignStatus `db:"status" json:"status"`
	ScheduledAt   *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CancelledAt   *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`

	Total     int `db:"total" json:"total"`
	Sent      int `db:"sent" json:"sent"`
	Delivered int `db:"delivered" json:"delivered"`
	Read      int `db:"read" json:"read"`
	Failed    int `db:"failed" json:"failed"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Contact is a WhatsApp end-user known to a workspace (§3 supplement,
// grounded on the teacher's Customer entity).
type Contact struct {
	ID          string            `db:"id" json:"id"`
	WorkspaceID string            `db:"workspace_id" json:"workspace_id"`
	WAID        string            `db:"wa_id" json:"wa_id"`
	Phone       string            `db:"phone" json:"phone"`
	Attributes  map[string]string `db:"attributes" json:"attributes"`
	OptedOut    bool              `db:"opted_out" json:"opted_out"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}

// TemplateRef is the minimal read-only view of an externally-managed
// Template that the Renderer and Campaign Executor need.
type TemplateRef struct {
	Name         string
	LanguageCode string
	BodyText     string // template body as stored; nothing in the core reads it
}
