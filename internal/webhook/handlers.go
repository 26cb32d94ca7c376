package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/repository"
)

// Handlers runs the four async consumers fanned out to by the Ingestor.
// Each one drains its own queue in a dedicated goroutine so a slow contact
// lookup on the message queue never backs up status processing, matching
// the per-event-type worker split in original_source/server/workers/webhook.py.
type Handlers struct {
	Messages     repository.MessageRepository
	Contacts     repository.ContactRepository
	PhoneNumbers repository.PhoneNumberRepository
	Campaigns    repository.CampaignRepository
	Queue        queue.Queue
	Log          *zap.Logger
}

// Run starts one consumer goroutine per queue until ctx is cancelled.
func (h *Handlers) Run(ctx context.Context) error {
	for queueName, fn := range map[string]func(context.Context, queue.Delivery){
		queue.QueueStatusUpdates:      h.handleStatus,
		queue.QueueInboundMessages:    h.handleInboundMessage,
		queue.QueueTemplateUpdates:    h.handleTemplateUpdate,
		queue.QueuePhoneNumberUpdates: h.handlePhoneNumberUpdate,
	} {
		deliveries, err := h.Queue.Consume(ctx, queueName)
		if err != nil {
			return err
		}
		go h.drain(ctx, deliveries, fn)
	}
	return nil
}

func (h *Handlers) drain(ctx context.Context, deliveries <-chan queue.Delivery, fn func(context.Context, queue.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			fn(ctx, d)
		}
	}
}

// handleStatus implements §4.5's rank-respecting partial order: a status
// event only advances a Message's status if it outranks the current one, or
// is FAILED, via MessageRepository.AdvanceStatus's single-statement
// read-compare-write. Out-of-order or duplicate deliveries are silently
// dropped, not retried — they are not errors, just stale information.
func (h *Handlers) handleStatus(ctx context.Context, d queue.Delivery) {
	var ev routedStatusEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		h.Log.Warn("webhook: malformed status event, dropping", zap.Error(err))
		d.Ack()
		return
	}

	next := toMessageStatus(ev.Status)
	if next == "" {
		h.Log.Debug("webhook: unrecognized status value, dropping", zap.String("status", ev.Status))
		d.Ack()
		return
	}

	at := parseTimestamp(ev.Timestamp)

	var lastErr *domain.LastError
	if next == domain.StatusFailed && ev.ErrorMessage != "" {
		lastErr = &domain.LastError{Kind: "permanent_upstream", Code: ev.ErrorCode, Message: ev.ErrorMessage}
	}

	msg, applied, err := h.Messages.AdvanceStatus(ctx, ev.WAMessageID, next, at, lastErr)
	if err != nil {
		h.Log.Error("webhook: advance status failed", zap.String("wa_message_id", ev.WAMessageID), zap.Error(err))
		d.Nack(time.Second)
		return
	}
	if !applied {
		h.Log.Debug("webhook: status event did not advance message, dropping",
			zap.String("wa_message_id", ev.WAMessageID), zap.String("status", ev.Status))
		d.Ack()
		return
	}
	if msg.CampaignID != nil {
		switch next {
		case domain.StatusDelivered:
			h.Campaigns.IncrementCounters(ctx, *msg.CampaignID, 0, 1, 0, 0)
		case domain.StatusRead:
			h.Campaigns.IncrementCounters(ctx, *msg.CampaignID, 0, 0, 1, 0)
		case domain.StatusFailed:
			h.Campaigns.IncrementCounters(ctx, *msg.CampaignID, 0, 0, 0, 1)
		}
	}
	d.Ack()
}

// handleInboundMessage implements §4.5's inbound path: resolve or create
// the Contact by wa_id, then persist the Message as already DELIVERED —
// there is no SENDING step for something we never sent, matching
// status=MessageStatus.DELIVERED.value in the Python original.
func (h *Handlers) handleInboundMessage(ctx context.Context, d queue.Delivery) {
	var ev routedMessageEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		h.Log.Warn("webhook: malformed inbound message event, dropping", zap.Error(err))
		d.Ack()
		return
	}

	phone, err := h.PhoneNumbers.GetByUpstreamPhoneID(ctx, ev.PhoneNumberID)
	if err != nil {
		h.Log.Warn("webhook: inbound message for unknown phone number, dropping", zap.Error(err))
		d.Ack()
		return
	}

	contact, err := h.Contacts.GetOrCreateByWAID(ctx, phone.WorkspaceID, ev.From, ev.From)
	if err != nil {
		h.Log.Error("webhook: get-or-create contact failed", zap.Error(err))
		d.Nack(time.Second)
		return
	}

	payload, err := json.Marshal(map[string]any{"type": ev.Type, "text": ev.Text, "contact_name": ev.ContactName})
	if err != nil {
		h.Log.Error("webhook: marshal inbound payload failed", zap.Error(err))
		d.Ack()
		return
	}

	msg := &domain.Message{
		ID:                uuid.NewString(),
		WorkspaceID:       phone.WorkspaceID,
		PhoneNumberID:     phone.ID,
		Direction:         domain.DirectionInbound,
		Kind:              inboundKind(ev.Type),
		Recipient:         contact.ID,
		Payload:           payload,
		UpstreamMessageID: &ev.WAMessageID,
		Status:            domain.StatusDelivered,
	}
	if err := h.Messages.Create(ctx, msg); err != nil {
		h.Log.Error("webhook: create inbound message failed", zap.Error(err))
		d.Nack(time.Second)
		return
	}
	d.Ack()
}

// handleTemplateUpdate logs Meta's template review outcome. Template
// definitions are managed outside this service (§1 Non-goals), so there is
// no row to mutate here; this exists purely so an operator can see why a
// campaign using this template started failing to queue.
func (h *Handlers) handleTemplateUpdate(ctx context.Context, d queue.Delivery) {
	var ev routedTemplateEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		h.Log.Warn("webhook: malformed template event, dropping", zap.Error(err))
		d.Ack()
		return
	}

	h.Log.Info("webhook: template status update",
		zap.String("template_id", ev.TemplateID),
		zap.String("template_name", ev.TemplateName),
		zap.String("event", ev.Event),
		zap.String("status", mapTemplateStatus(ev.Event)),
		zap.String("reason", ev.Reason))
	d.Ack()
}

// handlePhoneNumberUpdate writes Meta's reported quality rating straight
// onto the owning PhoneNumber. The rating is only stored: neither the rate
// limiter nor the campaign executor reads it.
func (h *Handlers) handlePhoneNumberUpdate(ctx context.Context, d queue.Delivery) {
	var ev routedPhoneNumberEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		h.Log.Warn("webhook: malformed phone number event, dropping", zap.Error(err))
		d.Ack()
		return
	}

	phone, err := h.PhoneNumbers.GetByUpstreamPhoneID(ctx, ev.PhoneNumber)
	if err != nil {
		h.Log.Warn("webhook: quality update for unknown phone number, dropping", zap.Error(err))
		d.Ack()
		return
	}

	rating := domain.QualityRating(ev.QualityRating)
	if err := h.PhoneNumbers.UpdateQualityRating(ctx, phone.ID, rating); err != nil {
		h.Log.Error("webhook: update quality rating failed", zap.Error(err))
		d.Nack(time.Second)
		return
	}
	d.Ack()
}

func toMessageStatus(s string) domain.Status {
	switch s {
	case "sent":
		return domain.StatusSent
	case "delivered":
		return domain.StatusDelivered
	case "read":
		return domain.StatusRead
	case "failed":
		return domain.StatusFailed
	default:
		return ""
	}
}

func mapTemplateStatus(event string) string {
	switch event {
	case "APPROVED":
		return "APPROVED"
	case "REJECTED", "FLAGGED":
		return "REJECTED"
	case "DISABLED", "PENDING_DELETION":
		return "DISABLED"
	default:
		return event
	}
}

func inboundKind(waType string) domain.Kind {
	switch waType {
	case "text":
		return domain.KindText
	case "button", "interactive":
		return domain.KindInteractiveButtons
	case "location":
		return domain.KindLocation
	case "reaction":
		return domain.KindReaction
	default:
		return domain.KindText
	}
}

func parseTimestamp(unixSeconds string) time.Time {
	if unixSeconds == "" {
		return time.Now()
	}
	var n int64
	for _, c := range unixSeconds {
		if c < '0' || c > '9' {
			return time.Now()
		}
		n = n*10 + int64(c-'0')
	}
	return time.Unix(n, 0)
}
