package renderer

import (
	"testing"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
)

func TestRenderText(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.KindText, ToNumber: "+15551234567", Text: "Hi"}
	payload, err := Render(cmd)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if payload["to"] != "15551234567" {
		t.Errorf("to = %v, want leading + stripped", payload["to"])
	}
	if payload["type"] != "text" {
		t.Errorf("type = %v", payload["type"])
	}
	text, ok := payload["text"].(map[string]any)
	if !ok || text["body"] != "Hi" {
		t.Errorf("text.body = %v", payload["text"])
	}
}

func TestRenderTemplate(t *testing.T) {
	cmd := &domain.OutboundCommand{
		Kind: domain.KindTemplate, ToNumber: "15551234567",
		TemplateName: "order_confirmation", LanguageCode: "en_US",
	}
	payload, err := Render(cmd)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	tmpl := payload["template"].(map[string]any)
	if tmpl["name"] != "order_confirmation" {
		t.Errorf("template.name = %v", tmpl["name"])
	}
	lang := tmpl["language"].(map[string]any)
	if lang["code"] != "en_US" {
		t.Errorf("template.language.code = %v", lang)
	}
}

func TestRenderInteractiveButtonsTruncatesTitle(t *testing.T) {
	cmd := &domain.OutboundCommand{
		Kind: domain.KindInteractiveButtons, ToNumber: "15551234567",
		BodyText: "Pick one",
		Buttons: []domain.Button{
			{ID: "a", Title: "this button title is definitely over twenty characters long"},
		},
	}
	payload, err := Render(cmd)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	interactive := payload["interactive"].(map[string]any)
	action := interactive["action"].(map[string]any)
	buttons := action["buttons"].([]map[string]any)
	title := buttons[0]["reply"].(map[string]any)["title"].(string)
	if len(title) > 20 {
		t.Errorf("button title not truncated: %q (%d chars)", title, len(title))
	}
}

func TestRenderRejectsTooManyButtons(t *testing.T) {
	cmd := &domain.OutboundCommand{
		Kind: domain.KindInteractiveButtons, ToNumber: "15551234567", BodyText: "Pick one",
		Buttons: []domain.Button{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}, {ID: "c", Title: "C"}, {ID: "d", Title: "D"}},
	}
	_, err := Render(cmd)
	assertInvalidCommand(t, err)
}

func TestRenderRejectsZeroButtons(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.KindInteractiveButtons, ToNumber: "15551234567", BodyText: "Pick one"}
	_, err := Render(cmd)
	assertInvalidCommand(t, err)
}

func TestRenderRejectsMissingRecipient(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.KindText, Text: "hi"}
	_, err := Render(cmd)
	assertInvalidCommand(t, err)
}

func TestRenderMarkAsReadHasNoRecipientField(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.KindMarkAsRead, TargetMessageID: "wamid.ABC"}
	payload, err := Render(cmd)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if _, ok := payload["to"]; ok {
		t.Errorf("mark_as_read payload should not carry a to field, got %v", payload)
	}
	if payload["status"] != "read" {
		t.Errorf("status = %v", payload["status"])
	}
}

func TestRenderRejectsUnsupportedMediaType(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.KindMedia, ToNumber: "15551234567", MediaType: "gif", MediaID: "123"}
	_, err := Render(cmd)
	assertInvalidCommand(t, err)
}

func TestRenderMediaPrefersID(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.KindMedia, ToNumber: "15551234567", MediaType: "image", MediaID: "abc123", MediaURL: "https://example.com/x.jpg"}
	payload, err := Render(cmd)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	image := payload["image"].(map[string]any)
	if image["id"] != "abc123" {
		t.Errorf("expected media id to be used over link, got %v", image)
	}
	if _, ok := image["link"]; ok {
		t.Errorf("link should not be set when id is present")
	}
}

func TestRenderLocationRejectsOutOfRangeCoordinates(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.KindLocation, ToNumber: "15551234567", Latitude: 200, Longitude: 10}
	_, err := Render(cmd)
	assertInvalidCommand(t, err)
}

func TestRenderUnknownKind(t *testing.T) {
	cmd := &domain.OutboundCommand{Kind: domain.Kind("BOGUS"), ToNumber: "15551234567"}
	if _, err := Render(cmd); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func assertInvalidCommand(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if !apperrors.Is(err, apperrors.KindInvalidCommand) {
		t.Fatalf("expected KindInvalidCommand, got %v", err)
	}
}
