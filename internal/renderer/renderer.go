// Package renderer converts an OutboundCommand into the WhatsApp Cloud API
// JSON payload. Ported function-for-function from
// original_source/server/whatsapp/renderer.py: one render func per Kind,
// dispatched by a switch instead of isinstance checks.
package renderer

import (
	"fmt"
	"strings"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
)

// Render dispatches on cmd.Kind and returns the API payload ready for
// json.Marshal. It is pure and total (§4.2): malformed commands are
// rejected up-front by validate, and an unknown Kind is its own rejection,
// mirroring the original's ValueError branch. The Dispatcher treats a
// non-nil error here as invalid_command (step 4 of §4.4), never retried.
func Render(cmd *domain.OutboundCommand) (map[string]any, error) {
	if err := validate(cmd); err != nil {
		return nil, err
	}

	switch cmd.Kind {
	case domain.KindText:
		return renderText(cmd), nil
	case domain.KindTemplate:
		return renderTemplate(cmd), nil
	case domain.KindMedia:
		return renderMedia(cmd), nil
	case domain.KindInteractiveButtons:
		return renderInteractiveButtons(cmd), nil
	case domain.KindInteractiveList:
		return renderInteractiveList(cmd), nil
	case domain.KindLocation:
		return renderLocation(cmd), nil
	case domain.KindReaction:
		return renderReaction(cmd), nil
	case domain.KindMarkAsRead:
		return renderMarkAsRead(cmd), nil
	default:
		return nil, fmt.Errorf("renderer: unknown command kind %q", cmd.Kind)
	}
}

var validMediaTypes = map[string]bool{
	"image": true, "video": true, "audio": true, "document": true, "sticker": true,
}

// validate enforces the per-kind schema §4.2 requires up-front, before any
// rendering happens: required fields present, interactive buttons capped
// at 3, media/location values in range. MARK_AS_READ has no recipient
// field in its wire envelope, so it alone is exempt from the "to" check.
func validate(cmd *domain.OutboundCommand) error {
	if cmd.Kind != domain.KindMarkAsRead && cmd.ToNumber == "" {
		return invalidf("missing recipient")
	}

	switch cmd.Kind {
	case domain.KindText:
		if cmd.Text == "" {
			return invalidf("text command requires non-empty text")
		}
	case domain.KindTemplate:
		if cmd.TemplateName == "" {
			return invalidf("template command requires template_name")
		}
		if cmd.LanguageCode == "" {
			return invalidf("template command requires language_code")
		}
	case domain.KindMedia:
		if !validMediaTypes[cmd.MediaType] {
			return invalidf("unsupported media_type %q", cmd.MediaType)
		}
		if cmd.MediaID == "" && cmd.MediaURL == "" {
			return invalidf("media command requires media_id or media_url")
		}
	case domain.KindInteractiveButtons:
		if cmd.BodyText == "" {
			return invalidf("interactive buttons command requires body_text")
		}
		if len(cmd.Buttons) == 0 || len(cmd.Buttons) > 3 {
			return invalidf("interactive buttons command requires 1-3 buttons, got %d", len(cmd.Buttons))
		}
		for _, b := range cmd.Buttons {
			if b.ID == "" || b.Title == "" {
				return invalidf("interactive button requires id and title")
			}
		}
	case domain.KindInteractiveList:
		if cmd.BodyText == "" {
			return invalidf("interactive list command requires body_text")
		}
		if cmd.ListButtonText == "" {
			return invalidf("interactive list command requires list_button_text")
		}
		if len(cmd.Sections) == 0 {
			return invalidf("interactive list command requires at least one section")
		}
		for _, s := range cmd.Sections {
			if len(s.Rows) == 0 {
				return invalidf("interactive list section %q has no rows", s.Title)
			}
			for _, row := range s.Rows {
				if row.ID == "" || row.Title == "" {
					return invalidf("interactive list row requires id and title")
				}
			}
		}
	case domain.KindLocation:
		if cmd.Latitude < -90 || cmd.Latitude > 90 || cmd.Longitude < -180 || cmd.Longitude > 180 {
			return invalidf("location coordinates out of range")
		}
	case domain.KindReaction:
		if cmd.TargetMessageID == "" {
			return invalidf("reaction command requires target_message_id")
		}
	case domain.KindMarkAsRead:
		if cmd.TargetMessageID == "" {
			return invalidf("mark_as_read command requires target_message_id")
		}
	default:
		// handled by Render's own switch default; nothing to validate.
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return apperrors.New(apperrors.KindInvalidCommand, fmt.Sprintf(format, args...))
}

func basePayload(cmd *domain.OutboundCommand) map[string]any {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                strings.TrimPrefix(cmd.ToNumber, "+"),
	}
	if cmd.ReplyToMessageID != "" {
		payload["context"] = map[string]any{"message_id": cmd.ReplyToMessageID}
	}
	return payload
}

func renderText(cmd *domain.OutboundCommand) map[string]any {
	payload := basePayload(cmd)
	payload["type"] = "text"
	payload["text"] = map[string]any{
		"body":        cmd.Text,
		"preview_url": cmd.PreviewURL,
	}
	return payload
}

func renderTemplate(cmd *domain.OutboundCommand) map[string]any {
	payload := basePayload(cmd)
	payload["type"] = "template"
	tmpl := map[string]any{
		"name":     cmd.TemplateName,
		"language": map[string]any{"code": cmd.LanguageCode},
	}
	if len(cmd.TemplateComponents) > 0 {
		tmpl["components"] = cmd.TemplateComponents
	}
	payload["template"] = tmpl
	return payload
}

func renderMedia(cmd *domain.OutboundCommand) map[string]any {
	payload := basePayload(cmd)
	payload["type"] = cmd.MediaType

	media := map[string]any{}
	if cmd.MediaID != "" {
		media["id"] = cmd.MediaID
	} else if cmd.MediaURL != "" {
		media["link"] = cmd.MediaURL
	}
	if cmd.Caption != "" && (cmd.MediaType == "image" || cmd.MediaType == "video" || cmd.MediaType == "document") {
		media["caption"] = cmd.Caption
	}
	if cmd.Filename != "" && cmd.MediaType == "document" {
		media["filename"] = cmd.Filename
	}
	payload[cmd.MediaType] = media
	return payload
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func renderInteractiveButtons(cmd *domain.OutboundCommand) map[string]any {
	payload := basePayload(cmd)
	payload["type"] = "interactive"

	buttons := make([]map[string]any, 0, len(cmd.Buttons))
	for _, b := range cmd.Buttons {
		buttons = append(buttons, map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": b.ID, "title": truncate(b.Title, 20)},
		})
	}

	interactive := map[string]any{
		"type": "button",
		"body": map[string]any{"text": cmd.BodyText},
		"action": map[string]any{
			"buttons": buttons,
		},
	}
	if cmd.HeaderText != "" {
		interactive["header"] = map[string]any{"type": "text", "text": truncate(cmd.HeaderText, 60)}
	}
	if cmd.FooterText != "" {
		interactive["footer"] = map[string]any{"text": truncate(cmd.FooterText, 60)}
	}
	payload["interactive"] = interactive
	return payload
}

func renderInteractiveList(cmd *domain.OutboundCommand) map[string]any {
	payload := basePayload(cmd)
	payload["type"] = "interactive"

	sections := make([]map[string]any, 0, len(cmd.Sections))
	for _, s := range cmd.Sections {
		rows := make([]map[string]any, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, map[string]any{
				"id":          r.ID,
				"title":       r.Title,
				"description": r.Description,
			})
		}
		sections = append(sections, map[string]any{"title": s.Title, "rows": rows})
	}

	interactive := map[string]any{
		"type": "list",
		"body": map[string]any{"text": cmd.BodyText},
		"action": map[string]any{
			"button":   truncate(cmd.ListButtonText, 20),
			"sections": sections,
		},
	}
	if cmd.HeaderText != "" {
		interactive["header"] = map[string]any{"type": "text", "text": truncate(cmd.HeaderText, 60)}
	}
	if cmd.FooterText != "" {
		interactive["footer"] = map[string]any{"text": truncate(cmd.FooterText, 60)}
	}
	payload["interactive"] = interactive
	return payload
}

func renderLocation(cmd *domain.OutboundCommand) map[string]any {
	payload := basePayload(cmd)
	payload["type"] = "location"
	location := map[string]any{
		"latitude":  cmd.Latitude,
		"longitude": cmd.Longitude,
	}
	if cmd.LocationName != "" {
		location["name"] = cmd.LocationName
	}
	if cmd.LocationAddress != "" {
		location["address"] = cmd.LocationAddress
	}
	payload["location"] = location
	return payload
}

func renderReaction(cmd *domain.OutboundCommand) map[string]any {
	payload := basePayload(cmd)
	payload["type"] = "reaction"
	payload["reaction"] = map[string]any{
		"message_id": cmd.TargetMessageID,
		"emoji":      cmd.Emoji,
	}
	return payload
}

// renderMarkAsRead has its own envelope (no messaging_product/recipient_type
// wrapper), matching the original's special case.
func renderMarkAsRead(cmd *domain.OutboundCommand) map[string]any {
	return map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        cmd.TargetMessageID,
	}
}
