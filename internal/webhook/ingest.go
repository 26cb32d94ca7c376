// Package webhook is the Webhook Ingestor (C5): the HTTP entry point for
// every Meta WhatsApp Business Account event, plus the async handlers that
// apply those events to the row store. Grounded on
// filiponegrao-penelope_chatbot_backend/controllers/webhook.go for the
// HTTP shape (signature verification, GET challenge echo) and
// original_source/server/api/webhooks.py and server/workers/webhook.py for
// the ingest-fast/process-async split and per-event-type routing.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/repository"
)

// defaultMaxBodyBytes mirrors webhook.max_body_bytes's spec default of 1 MiB,
// used when Ingestor.MaxBodyBytes is left zero.
const defaultMaxBodyBytes = 1 << 20

// Ingestor is mounted at GET/POST /webhook. It must answer within Meta's
// ~3 second window, so every handler here does signature verification,
// dedup, and a queue publish, then returns — no joins beyond resolving the
// workspace a phone number belongs to.
type Ingestor struct {
	AppSecret    string
	VerifyToken  string
	MaxBodyBytes int64

	PhoneNumbers repository.PhoneNumberRepository
	Events       repository.WebhookEventRepository
	Queue        queue.Queue
	Log          *zap.Logger
}

// Verify handles GET /webhook: Meta's one-time subscription challenge.
func (i *Ingestor) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == i.VerifyToken && challenge != "" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

// Receive handles POST /webhook: bounded read, signature check, then parse
// and fan out. A malformed payload is the caller's fault (§7 bad_payload),
// so it gets a 400 rather than the 200 used to avoid retry-storms on our own
// downstream errors once the payload is known-good (§4.5 contract).
func (i *Ingestor) Receive(w http.ResponseWriter, r *http.Request) {
	maxBodyBytes := i.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		i.Log.Warn("webhook: body read failed or exceeded max size", zap.Error(err))
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !verifySignature(r.Header.Get("X-Hub-Signature-256"), raw, i.AppSecret) {
		i.Log.Warn("webhook: signature verification failed")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		i.Log.Warn("webhook: invalid json payload", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, e := range p.Entry {
		for ci, c := range e.Changes {
			i.routeChange(ctx, e.ID, ci, c)
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (i *Ingestor) routeChange(ctx context.Context, entryID string, changeIndex int, c change) {
	phoneNumberID := c.Value.Metadata.PhoneNumberID

	for mi, m := range c.Value.Messages {
		eventID := entryID + ":msg:" + itoa(changeIndex) + ":" + itoa(mi) + ":" + m.ID
		i.dedupeAndPublish(ctx, phoneNumberID, eventID, domain.EventInboundMessage, func() ([]byte, error) {
			name := ""
			if mi < len(c.Value.Contacts) {
				name = c.Value.Contacts[mi].Profile.Name
			}
			return json.Marshal(routedMessageEvent{
				EventID:       eventID,
				PhoneNumberID: phoneNumberID,
				From:          m.From,
				WAMessageID:   m.ID,
				Timestamp:     m.Timestamp,
				Type:          m.Type,
				Text:          m.Text.Body,
				ContactName:   name,
			})
		}, queue.QueueInboundMessages)
	}

	for si, s := range c.Value.Statuses {
		eventID := entryID + ":status:" + itoa(changeIndex) + ":" + itoa(si) + ":" + s.ID + ":" + s.Status
		i.dedupeAndPublish(ctx, phoneNumberID, eventID, domain.EventStatusUpdate, func() ([]byte, error) {
			ev := routedStatusEvent{
				EventID:       eventID,
				PhoneNumberID: phoneNumberID,
				WAMessageID:   s.ID,
				Status:        s.Status,
				Timestamp:     s.Timestamp,
			}
			if len(s.Errors) > 0 {
				ev.ErrorCode = itoa(s.Errors[0].Code)
				ev.ErrorMessage = s.Errors[0].Message
			}
			return json.Marshal(ev)
		}, queue.QueueStatusUpdates)
	}

	if tpl := c.Value.MessageTemplateStatusUpdate; tpl != nil {
		eventID := entryID + ":tpl:" + itoa(changeIndex) + ":" + tpl.MessageTemplateID
		i.dedupeAndPublish(ctx, phoneNumberID, eventID, domain.EventTemplateUpdate, func() ([]byte, error) {
			return json.Marshal(routedTemplateEvent{
				EventID:      eventID,
				TemplateID:   tpl.MessageTemplateID,
				TemplateName: tpl.MessageTemplateName,
				Event:        tpl.Event,
				Reason:       tpl.Reason,
			})
		}, queue.QueueTemplateUpdates)
	}

	if q := c.Value.PhoneNumberQualityUpdate; q != nil {
		eventID := entryID + ":quality:" + itoa(changeIndex) + ":" + phoneNumberID
		i.dedupeAndPublish(ctx, phoneNumberID, eventID, domain.EventPhoneNumberUpdate, func() ([]byte, error) {
			return json.Marshal(routedPhoneNumberEvent{
				EventID:       eventID,
				PhoneNumber:   phoneNumberID,
				QualityRating: q.CurrentQualityRating,
			})
		}, queue.QueuePhoneNumberUpdates)
	}
}

// dedupeAndPublish implements §4.5 step 5 / invariant 3: the workspace is
// resolved from the phone number so the dedupe set is tenant-scoped, the
// insert is attempted, and a publish only happens on a fresh insert.
func (i *Ingestor) dedupeAndPublish(ctx context.Context, phoneNumberID, eventID string, kind domain.WebhookEventKind, encode func() ([]byte, error), queueName string) {
	phone, err := i.PhoneNumbers.GetByUpstreamPhoneID(ctx, phoneNumberID)
	if err != nil {
		i.Log.Warn("webhook: unknown phone number on event, dropping", zap.String("phone_number_id", phoneNumberID), zap.Error(err))
		return
	}

	inserted, err := i.Events.InsertIfNew(ctx, &domain.WebhookEvent{
		EventID:     eventID,
		WorkspaceID: phone.WorkspaceID,
		Kind:        kind,
		ReceivedAt:  time.Now(),
	})
	if err != nil {
		i.Log.Error("webhook: dedupe insert failed", zap.Error(err))
		return
	}
	if !inserted {
		i.Log.Debug("webhook: duplicate event, skipping", zap.String("event_id", eventID))
		return
	}

	body, err := encode()
	if err != nil {
		i.Log.Error("webhook: encode routed event failed", zap.Error(err))
		return
	}
	if err := i.Queue.Publish(ctx, queueName, body); err != nil {
		i.Log.Error("webhook: publish failed", zap.Error(err))
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
