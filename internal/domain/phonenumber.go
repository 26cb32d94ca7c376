package domain

import "time"

// PhoneNumber is a registered WhatsApp Business number belonging to a Workspace.
type PhoneNumber struct {
	ID                 string        `db:"id" json:"id"`
	WorkspaceID        string        `db:"workspace_id" json:"workspace_id"`
	UpstreamPhoneID    string        `db:"upstream_phone_id" json:"upstream_phone_id"`
	EncryptedToken     string        `db:"encrypted_token" json:"-"`
	QualityRating      QualityRating `db:"quality_rating" json:"quality_rating"`
	DailyMessageCap    int           `db:"daily_message_cap" json:"daily_message_cap"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}
