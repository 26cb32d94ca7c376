// Package campaign is the Campaign Executor (C6): drives a Campaign's
// contact list through the OUTBOUND queue in bounded batches, honoring
// pause/cancel and the dispatcher's own back-pressure. Grounded on the
// teacher's CampaignService.SendCampaign loop (fetch campaign, iterate
// recipients, create-or-get the outbound row, render, publish, advance
// status), generalized from "publish every recipient at once" to batched
// materialization so memory stays bounded per §4.6/§5.
package campaign

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/repository"
)

// DefaultBatchSize mirrors campaign.batch_size's default in §6.
const DefaultBatchSize = 500

const defaultPollInterval = 2 * time.Second

// Executor drives one Campaign at a time; Registry owns one Executor
// instance shared across every running campaign (it is stateless between
// Run calls).
type Executor struct {
	Campaigns    repository.CampaignRepository
	Contacts     repository.ContactRepository
	Messages     repository.MessageRepository
	PhoneNumbers repository.PhoneNumberRepository
	Templates    repository.TemplateRepository
	Queue        queue.Queue
	Log          *zap.Logger

	BatchSize    int
	PollInterval time.Duration
}

// Run drives campaignID from SENDING through its contact list until the
// list is exhausted (-> COMPLETED) or the campaign is paused/cancelled out
// from under it. The caller (Registry) is expected to have already CAS'd
// the campaign into SENDING.
func (e *Executor) Run(ctx context.Context, campaignID string) error {
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	pollInterval := e.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	log := e.Log.With(zap.String("campaign_id", campaignID))

	c, err := e.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	phone, err := e.PhoneNumbers.GetByID(ctx, c.PhoneNumberID)
	if err != nil {
		return err
	}

	if c.TemplateName != "" {
		if _, err := e.Templates.GetByName(ctx, c.WorkspaceID, c.TemplateName, c.LanguageCode); err != nil {
			log.Warn("campaign: template lookup failed, sending by name anyway", zap.Error(err))
		}
	}

	afterID := ""
	enqueuedTotal := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		current, err := e.Campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return err
		}
		if current.Status != domain.CampaignSending {
			log.Info("campaign: no longer SENDING, stopping executor", zap.String("status", string(current.Status)))
			return nil
		}

		contacts, err := e.Contacts.ListForCampaign(ctx, campaignID, afterID, batchSize)
		if err != nil {
			return err
		}
		if len(contacts) == 0 {
			applied, err := e.Campaigns.CASStatus(ctx, campaignID, domain.CampaignSending, domain.CampaignCompleted)
			if err != nil {
				return err
			}
			if applied {
				log.Info("campaign: exhausted contact list, marking COMPLETED", zap.Int("total_enqueued", enqueuedTotal))
			}
			return nil
		}

		for _, contact := range contacts {
			if contact.OptedOut {
				afterID = contact.ID
				continue
			}
			if err := e.enqueueOne(ctx, c, phone, contact); err != nil {
				log.Error("campaign: failed to enqueue contact", zap.String("contact_id", contact.ID), zap.Error(err))
			}
			afterID = contact.ID
			enqueuedTotal++
		}

		if err := e.Campaigns.SetTotal(ctx, campaignID, enqueuedTotal); err != nil {
			log.Warn("campaign: set total failed", zap.Error(err))
		}

		if err := e.awaitBatchDrained(ctx, campaignID, enqueuedTotal, pollInterval); err != nil {
			return err
		}
	}
}

// awaitBatchDrained blocks until every Message enqueued so far has left the
// dispatcher's in-flight states (PENDING/QUEUED/SENDING), so the executor
// never holds more than one batch's worth of commands in flight (§5
// resource bound), then re-checks for pause/cancel before materializing the
// next batch (so pause/cancel take effect within one batch, per §4.6).
func (e *Executor) awaitBatchDrained(ctx context.Context, campaignID string, enqueuedTotal int, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			counts, err := e.Messages.CountByCampaignStatus(ctx, campaignID)
			if err != nil {
				return err
			}
			inFlight := counts[domain.StatusPending] + counts[domain.StatusQueued] + counts[domain.StatusSending]
			if inFlight == 0 {
				return nil
			}
		}
	}
}

// enqueueOne builds contact's OutboundCommand and writes the backing
// Message row PENDING before publishing, mirroring the teacher's
// create-then-render-then-publish ordering in SendCampaign. The command is
// a TEMPLATE with the campaign's template name and language when the
// campaign names a template, else a TEXT with empty text; no contact
// attributes are applied (substitute is not called).
func (e *Executor) enqueueOne(ctx context.Context, c *domain.Campaign, phone *domain.PhoneNumber, contact *domain.Contact) error {
	cmd := domain.OutboundCommand{
		MessageID:       uuid.NewString(),
		WorkspaceID:     c.WorkspaceID,
		PhoneNumberID:   phone.ID,
		UpstreamPhoneID: phone.UpstreamPhoneID,
		AccessToken:     phone.EncryptedToken,
		CampaignID:      c.ID,
		ToNumber:        contact.Phone,
	}
	cmd.IdempotencyKey = cmd.MessageID

	if c.TemplateName != "" {
		cmd.Kind = domain.KindTemplate
		cmd.TemplateName = c.TemplateName
		cmd.LanguageCode = c.LanguageCode
	} else {
		cmd.Kind = domain.KindText
		cmd.Text = ""
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	msg := &domain.Message{
		ID:            cmd.MessageID,
		WorkspaceID:   c.WorkspaceID,
		PhoneNumberID: phone.ID,
		CampaignID:    &c.ID,
		Direction:     domain.DirectionOutbound,
		Kind:          cmd.Kind,
		Recipient:     contact.Phone,
		Payload:       payload,
		Status:        domain.StatusPending,
	}
	if err := e.Messages.Create(ctx, msg); err != nil {
		return err
	}

	applied, err := e.Messages.CASStatus(ctx, msg.ID, domain.StatusPending, domain.StatusQueued, repository.CASOptions{})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	return e.Queue.Publish(ctx, queue.QueueOutbound, payload)
}

// substitute fills {placeholder} tokens from attrs, falling back to
// "<unknown>" for an empty or missing value, matching the teacher's
// replace() helper in campaign_service.go.
func substitute(template string, attrs map[string]string) string {
	out := template
	for key, value := range attrs {
		if value == "" {
			value = "<unknown>"
		}
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
