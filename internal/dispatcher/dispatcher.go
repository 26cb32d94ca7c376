// Package dispatcher is the Dispatcher (C4): the worker pool that drains
// the OUTBOUND queue and drives Messages from QUEUED to a terminal state.
// Grounded on the teacher's cmd/worker/main.go consume loop (declare,
// consume, ack/nack-with-requeue) and internal/service.Worker's
// JobChan-driven shape, generalized from a single mock-send step to the
// CAS -> rate-limit -> render -> send -> CAS pipeline of §4.4, with backoff and
// idempotency lifted from original_source/server/workers/outbound.py.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/ratelimiter"
	"github.com/relaywave/wa-core/internal/renderer"
	"github.com/relaywave/wa-core/internal/repository"
	"github.com/relaywave/wa-core/internal/upstream"
)

// Dispatcher owns one worker pool draining queue.QueueOutbound.
type Dispatcher struct {
	Queue        queue.Queue
	Messages     repository.MessageRepository
	Campaigns    repository.CampaignRepository
	RateLimiter  ratelimiter.Limiter
	// WorkspaceLimiter is the third, coarser bucket of §4.1: a noisy
	// tenant is throttled here before it ever reaches the per-number
	// bucket. Nil disables workspace-level throttling.
	WorkspaceLimiter ratelimiter.Limiter
	Upstream         *upstream.Client
	Idempotency      *idempotencyGuard
	Backoff          BackoffConfig
	Log              *zap.Logger
	// SendDeadline is recorded as the row's deadline when step 3 claims it.
	// The claim CAS only moves rows out of QUEUED, so no code path reclaims
	// a SENDING row once its deadline has passed.
	SendDeadline     time.Duration
}

// New wires a Dispatcher. redisClient may be nil, disabling the
// idempotency fast path (the Postgres CAS is always correct, just slower
// under a duplicate-delivery storm).
func New(q queue.Queue, messages repository.MessageRepository, campaigns repository.CampaignRepository, limiter, workspaceLimiter ratelimiter.Limiter, upstreamClient *upstream.Client, redisClient *redis.Client, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		Queue:            q,
		Messages:         messages,
		Campaigns:        campaigns,
		RateLimiter:      limiter,
		WorkspaceLimiter: workspaceLimiter,
		Upstream:         upstreamClient,
		Idempotency:      newIdempotencyGuard(redisClient),
		Backoff:          DefaultBackoffConfig(),
		Log:              log,
		SendDeadline:     2 * time.Minute,
	}
}

// Run starts n worker goroutines consuming queue.QueueOutbound until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context, workers int) error {
	deliveries, err := d.Queue.Consume(ctx, queue.QueueOutbound)
	if err != nil {
		return err
	}

	for i := 0; i < workers; i++ {
		workerID := uuid.NewString()
		go d.runWorker(ctx, workerID, deliveries)
	}
	return nil
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID string, deliveries <-chan queue.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			d.handle(ctx, workerID, delivery)
		}
	}
}

// handle implements the §4.4 worker loop for a single delivery.
func (d *Dispatcher) handle(ctx context.Context, workerID string, delivery queue.Delivery) {
	var cmd domain.OutboundCommand
	if err := json.Unmarshal(delivery.Body, &cmd); err != nil {
		d.Log.Warn("dispatcher: malformed command, dropping", zap.Error(err))
		delivery.Ack()
		return
	}

	log := d.Log.With(zap.String("message_id", cmd.MessageID), zap.String("worker_id", workerID))

	// Step 1: idempotency fast path.
	if d.Idempotency.alreadySent(ctx, cmd.IdempotencyKey) {
		log.Debug("dispatcher: duplicate delivery, already sent")
		delivery.Ack()
		return
	}

	// Step 2: cancellation tombstone check (campaign messages only).
	if cmd.CampaignID != "" {
		cancelled, err := d.Campaigns.IsCancelled(ctx, cmd.CampaignID)
		if err != nil {
			log.Error("dispatcher: campaign cancellation check failed", zap.Error(err))
			delivery.Nack(calculateBackoff(d.Backoff, 1))
			return
		}
		if cancelled {
			log.Debug("dispatcher: campaign cancelled, dropping command", zap.String("campaign_id", cmd.CampaignID))
			d.failMessage(ctx, cmd.MessageID, apperrors.KindCancelled, "campaign cancelled")
			d.Campaigns.IncrementCounters(ctx, cmd.CampaignID, 0, 0, 0, 1)
			delivery.Ack()
			return
		}
	}

	// Step 3: CAS QUEUED -> SENDING, claiming the row for this worker.
	deadline := time.Now().Add(d.SendDeadline)
	applied, err := d.Messages.CASStatus(ctx, cmd.MessageID, domain.StatusQueued, domain.StatusSending, repository.CASOptions{
		WorkerID:         workerID,
		AttemptIncrement: true,
		Deadline:         &deadline,
	})
	if err != nil {
		log.Error("dispatcher: CAS to SENDING failed", zap.Error(err))
		delivery.Nack(calculateBackoff(d.Backoff, 1))
		return
	}
	if !applied {
		// Another worker already claimed it, or it is no longer QUEUED
		// (already terminal). Either way this delivery is stale.
		log.Debug("dispatcher: CAS to SENDING did not apply, dropping stale delivery")
		delivery.Ack()
		return
	}

	// Step 4: rate limit acquire, now that the row is claimed. The
	// workspace bucket is checked first (it's the coarsest and cheapest
	// way to shed a noisy tenant); the per-number bucket (which itself
	// layers the process-global bucket, §4.1) is only consumed once the
	// workspace has budget. A miss releases the claim back to QUEUED
	// rather than leaving the row stuck in SENDING, where the claim CAS
	// of a later delivery could not pick it up again, and nacks with the bucket's own wait hint instead of polling on a
	// fixed interval.
	if d.WorkspaceLimiter != nil {
		wsAcquired, wait, err := d.WorkspaceLimiter.Acquire(ctx, cmd.WorkspaceID, 1)
		if err != nil {
			log.Warn("dispatcher: workspace rate limiter error, treating as not acquired", zap.Error(err))
			wsAcquired = false
		}
		if !wsAcquired {
			d.releaseClaim(ctx, cmd.MessageID)
			delivery.Nack(orDefaultWait(wait))
			return
		}
	}

	acquired, wait, err := d.RateLimiter.Acquire(ctx, cmd.PhoneNumberID, 1)
	if err != nil {
		log.Warn("dispatcher: rate limiter error, treating as not acquired", zap.Error(err))
		acquired = false
	}
	if !acquired {
		d.releaseClaim(ctx, cmd.MessageID)
		delivery.Nack(orDefaultWait(wait))
		return
	}

	// Step 5: render.
	payload, err := renderer.Render(&cmd)
	if err != nil {
		log.Error("dispatcher: render failed", zap.Error(err))
		d.failMessage(ctx, cmd.MessageID, apperrors.KindInvalidCommand, err.Error())
		delivery.Ack()
		return
	}

	// Step 6: send. The idempotency key travels as a request header so the
	// upstream can itself collapse a retried request (invariant 4); the
	// Postgres CAS in step 3 remains the authoritative guard either way.
	result := d.Upstream.Send(ctx, cmd.AccessToken, cmd.UpstreamPhoneID, cmd.IdempotencyKey, payload)

	// Step 7: apply outcome.
	d.applyOutcome(ctx, log, &cmd, delivery, result)
}

func (d *Dispatcher) applyOutcome(ctx context.Context, log *zap.Logger, cmd *domain.OutboundCommand, delivery queue.Delivery, result upstream.Result) {
	msg, err := d.Messages.GetByID(ctx, cmd.MessageID)
	attempt := 1
	if err == nil && msg != nil {
		attempt = msg.AttemptCount
	}

	switch result.Outcome {
	case upstream.Accepted:
		upstreamID := result.UpstreamMessageID
		applied, err := d.Messages.CASStatus(ctx, cmd.MessageID, domain.StatusSending, domain.StatusSent, repository.CASOptions{
			UpstreamMessageID: &upstreamID,
		})
		if err != nil || !applied {
			log.Warn("dispatcher: CAS to SENT did not apply", zap.Error(err))
		} else if cmd.CampaignID != "" {
			d.Campaigns.IncrementCounters(ctx, cmd.CampaignID, 1, 0, 0, 0)
		}
		d.Idempotency.markSent(ctx, cmd.IdempotencyKey, upstreamID)
		delivery.Ack()

	case upstream.RateLimited:
		delay := calculateBackoff(d.Backoff, attempt)
		if result.RetryAfter > 0 {
			delay = result.RetryAfter
		}
		d.RateLimiter.Penalize(ctx, cmd.PhoneNumberID, delay)
		if attempt >= d.Backoff.MaxAttempts {
			d.failMessage(ctx, cmd.MessageID, apperrors.KindRateLimited, result.Err.Error())
			if cmd.CampaignID != "" {
				d.Campaigns.IncrementCounters(ctx, cmd.CampaignID, 0, 0, 0, 1)
			}
			delivery.Ack()
			return
		}
		availableAt := time.Now().Add(delay)
		d.Messages.CASStatus(ctx, cmd.MessageID, domain.StatusSending, domain.StatusQueued, repository.CASOptions{
			AvailableAt: &availableAt,
		})
		delivery.Nack(delay)

	case upstream.TransientFailure:
		if attempt >= d.Backoff.MaxAttempts {
			d.failMessage(ctx, cmd.MessageID, apperrors.KindTransientUpstream, result.Err.Error())
			if cmd.CampaignID != "" {
				d.Campaigns.IncrementCounters(ctx, cmd.CampaignID, 0, 0, 0, 1)
			}
			delivery.Ack()
			return
		}
		delay := calculateBackoff(d.Backoff, attempt)
		availableAt := time.Now().Add(delay)
		d.Messages.CASStatus(ctx, cmd.MessageID, domain.StatusSending, domain.StatusQueued, repository.CASOptions{
			AvailableAt: &availableAt,
		})
		delivery.Nack(delay)

	case upstream.PermanentFailure:
		msg := "unknown permanent failure"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		d.failMessage(ctx, cmd.MessageID, apperrors.KindPermanentUpstream, msg)
		if cmd.CampaignID != "" {
			d.Campaigns.IncrementCounters(ctx, cmd.CampaignID, 0, 0, 0, 1)
		}
		delivery.Ack()
	}
}

// releaseClaim reverts a SENDING claim back to QUEUED when a rate-limit
// acquire fails after the CAS claim, so the row doesn't sit unreachable
// in SENDING just because this worker lost the token race.
func (d *Dispatcher) releaseClaim(ctx context.Context, messageID string) {
	if _, err := d.Messages.CASStatus(ctx, messageID, domain.StatusSending, domain.StatusQueued, repository.CASOptions{}); err != nil {
		d.Log.Warn("dispatcher: failed to release claim back to queued", zap.Error(err), zap.String("message_id", messageID))
	}
}

// orDefaultWait falls back to a fixed poll interval when a limiter could
// not supply a wait hint, e.g. after a limiter error.
func orDefaultWait(wait time.Duration) time.Duration {
	if wait <= 0 {
		return 200 * time.Millisecond
	}
	return wait
}

func (d *Dispatcher) failMessage(ctx context.Context, messageID string, kind apperrors.Kind, message string) {
	lastErr := &domain.LastError{Kind: string(kind), Message: message}
	// FAILED is reachable from any status (invariant 1), so try each
	// plausible predecessor (SENDING, QUEUED, PENDING) rather than threading the current status
	// through every caller.
	for _, from := range []domain.Status{domain.StatusSending, domain.StatusQueued, domain.StatusPending} {
		applied, err := d.Messages.CASStatus(ctx, messageID, from, domain.StatusFailed, repository.CASOptions{LastError: lastErr})
		if err == nil && applied {
			return
		}
	}
}
