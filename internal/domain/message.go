package domain

import "time"

// Direction of a Message relative to the BSP.
type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

// Kind identifies the wire shape a Message carries.
type Kind string

const (
	KindText               Kind = "TEXT"
	KindTemplate           Kind = "TEMPLATE"
	KindMedia              Kind = "MEDIA"
	KindInteractiveButtons Kind = "INTERACTIVE_BUTTONS"
	KindInteractiveList    Kind = "INTERACTIVE_LIST"
	KindLocation           Kind = "LOCATION"
	KindReaction           Kind = "REACTION"
	KindMarkAsRead         Kind = "MARK_AS_READ"
)

// Status is the lifecycle state of a Message. Transitions are monotonic in
// rank order, except that any state may jump to Failed.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// statusRank orders the forward-progress statuses so the status handler
// (§4.5) can reject out-of-order regressions. Failed has no rank: it is
// terminal and accepted from any status other than FAILED itself.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusQueued:    1,
	StatusSending:   2,
	StatusSent:      3,
	StatusDelivered: 4,
	StatusRead:      5,
}

// Rank returns the forward-progress rank of s, or -1 if s has no rank
// (currently only Failed, which is terminal and unranked).
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// AdvancesTo reports whether transitioning from s to next is legal under the
// monotonic-forward-or-failed rule (invariant 1 / §4.5's partial order).
func (s Status) AdvancesTo(next Status) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.Rank() > s.Rank()
}

// LastError records a classified failure reason on a terminal Message.
type LastError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Message is a single outbound or inbound WhatsApp message.
type Message struct {
	ID                string     `db:"id" json:"id"`
	WorkspaceID       string     `db:"workspace_id" json:"workspace_id"`
	PhoneNumberID     string     `db:"phone_number_id" json:"phone_number_id"`
	CampaignID        *string    `db:"campaign_id" json:"campaign_id,omitempty"`
	Direction         Direction  `db:"direction" json:"direction"`
	Kind              Kind       `db:"kind" json:"kind"`
	Recipient         string     `db:"recipient" json:"recipient"`
	Payload           []byte     `db:"payload" json:"payload"`
	UpstreamMessageID *string    `db:"upstream_message_id" json:"upstream_message_id,omitempty"`
	Status            Status     `db:"status" json:"status"`
	AttemptCount      int        `db:"attempt_count" json:"attempt_count"`
	WorkerID          string     `db:"worker_id" json:"-"`
	AvailableAt       time.Time  `db:"available_at" json:"-"`
	Deadline          time.Time  `db:"deadline" json:"-"`
	LastError         *LastError `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	QueuedAt          *time.Time `db:"queued_at" json:"queued_at,omitempty"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time `db:"read_at" json:"read_at,omitempty"`
	FailedAt          *time.Time `db:"failed_at" json:"failed_at,omitempty"`
}

// IsTerminal reports whether status admits no further transitions other
// than the explicit-requeue-as-new-Message escape hatch.
func (s Status) IsTerminal() bool {
	return s == StatusFailed
}
