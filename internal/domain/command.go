package domain

// OutboundCommand is the in-flight unit of work placed on the OUTBOUND
// queue. It is self-contained: the Dispatcher never joins against other
// tables to render and send it, only to record the outcome.
//
// IdempotencyKey is always the originating Message's ID (invariant 4).
type OutboundCommand struct {
	MessageID       string `json:"message_id"`
	IdempotencyKey  string `json:"idempotency_key"`
	WorkspaceID     string `json:"workspace_id"`
	PhoneNumberID   string `json:"phone_number_id"`
	UpstreamPhoneID string `json:"upstream_phone_id"`
	AccessToken     string `json:"access_token"`
	CampaignID      string `json:"campaign_id,omitempty"`

	Kind Kind `json:"kind"`

	// ToNumber is the E.164 recipient, with or without a leading '+'.
	ToNumber string `json:"to_number"`

	// Fields below are a union over command kinds; only the ones relevant
	// to Kind are populated. The Renderer (C2) is the only reader.
	Text              string            `json:"text,omitempty"`
	PreviewURL        bool              `json:"preview_url,omitempty"`
	ReplyToMessageID  string            `json:"reply_to_message_id,omitempty"`
	TemplateName      string            `json:"template_name,omitempty"`
	LanguageCode      string            `json:"language_code,omitempty"`
	TemplateComponents []map[string]any `json:"template_components,omitempty"`
	MediaType         string            `json:"media_type,omitempty"`
	MediaID           string            `json:"media_id,omitempty"`
	MediaURL          string            `json:"media_url,omitempty"`
	Caption           string            `json:"caption,omitempty"`
	Filename          string            `json:"filename,omitempty"`
	HeaderText        string            `json:"header_text,omitempty"`
	FooterText        string            `json:"footer_text,omitempty"`
	BodyText          string            `json:"body_text,omitempty"`
	Buttons           []Button          `json:"buttons,omitempty"`
	ListButtonText    string            `json:"list_button_text,omitempty"`
	Sections          []ListSection     `json:"sections,omitempty"`
	Latitude          float64           `json:"latitude,omitempty"`
	Longitude         float64           `json:"longitude,omitempty"`
	LocationName      string            `json:"location_name,omitempty"`
	LocationAddress   string            `json:"location_address,omitempty"`
	TargetMessageID   string            `json:"target_message_id,omitempty"`
	Emoji             string            `json:"emoji,omitempty"`
}

// Button is one reply button in an INTERACTIVE_BUTTONS command (max 3).
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one selectable row within an INTERACTIVE_LIST section.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a title in an INTERACTIVE_LIST command.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}
