package webhook

// payload mirrors the Meta WhatsApp Business Account webhook envelope.
// Only the fields the Ingestor and its async handlers read are modeled;
// everything else is dropped on the floor the way
// original_source/server/api/webhooks.py's json.loads + dict.get does.
type payload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         metadata  `json:"metadata"`
	Contacts         []contact `json:"contacts"`
	Messages         []message `json:"messages"`
	Statuses         []status  `json:"statuses"`

	MessageTemplateStatusUpdate *templateStatusUpdate `json:"message_template_status_update,omitempty"`
	PhoneNumberQualityUpdate    *qualityUpdate        `json:"phone_number_quality_update,omitempty"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type contact struct {
	WAID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Context *struct {
		ID string `json:"id"`
	} `json:"context,omitempty"`
}

type status struct {
	ID          string `json:"id"` // wa_message_id
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

type templateStatusUpdate struct {
	MessageTemplateID   string `json:"message_template_id"`
	MessageTemplateName string `json:"message_template_name"`
	Event               string `json:"event"`
	Reason              string `json:"reason"`
}

type qualityUpdate struct {
	PhoneNumber          string `json:"display_phone_number"`
	CurrentQualityRating string `json:"current_quality_rating"`
}

// The routed*Event types are what the Ingestor places on the typed queues
// of §5: one per item so a single webhook delivery carrying a batch of
// statuses/messages fans out into independently retriable units.

type routedStatusEvent struct {
	EventID       string `json:"event_id"`
	PhoneNumberID string `json:"phone_number_id"`
	WAMessageID   string `json:"wa_message_id"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

type routedMessageEvent struct {
	EventID       string `json:"event_id"`
	PhoneNumberID string `json:"phone_number_id"`
	From          string `json:"from"`
	WAMessageID   string `json:"wa_message_id"`
	Timestamp     string `json:"timestamp"`
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	ContactName   string `json:"contact_name,omitempty"`
}

type routedTemplateEvent struct {
	EventID      string `json:"event_id"`
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`
	Event        string `json:"event"`
	Reason       string `json:"reason,omitempty"`
}

type routedPhoneNumberEvent struct {
	EventID       string `json:"event_id"`
	PhoneNumber   string `json:"phone_number"`
	QualityRating string `json:"quality_rating"`
}
