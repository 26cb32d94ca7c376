package campaign

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/repository"
)

// Registry tracks which campaigns currently have a running Executor
// goroutine, per §5's "tracked in a registry for pause/cancel signaling".
// Pause and cancel themselves are plain CAS writes the Executor's own loop
// observes on its next poll; the registry's job is narrower: stop a
// campaign from being started twice, and let the worker process shut its
// executors down cleanly.
type Registry struct {
	Campaigns repository.CampaignRepository
	Executor  *Executor
	Log       *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewRegistry wires a Registry around a shared Executor.
func NewRegistry(campaigns repository.CampaignRepository, executor *Executor, log *zap.Logger) *Registry {
	return &Registry{
		Campaigns: campaigns,
		Executor:  executor,
		Log:       log,
		running:   map[string]context.CancelFunc{},
	}
}

// Start CASes campaignID into SENDING (from DRAFT, SCHEDULED, or PAUSED)
// and launches its Executor loop if one isn't already running. Returns
// (false, nil) if the campaign is already tracked by this Registry or is in
// none of DRAFT, SCHEDULED, PAUSED or SENDING, a no-op rather than an error
// since POST /campaigns/{id}/send is safe to retry. A campaign that is
// already SENDING but not tracked here gets an Executor attached and
// (true, nil).
func (r *Registry) Start(parent context.Context, campaignID string) (bool, error) {
	r.mu.Lock()
	if _, ok := r.running[campaignID]; ok {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	started := false
	for _, from := range []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignPaused} {
		applied, err := r.Campaigns.CASStatus(parent, campaignID, from, domain.CampaignSending)
		if err != nil {
			return false, err
		}
		if applied {
			started = true
			break
		}
	}
	if !started {
		c, err := r.Campaigns.GetByID(parent, campaignID)
		if err != nil {
			return false, err
		}
		if c.Status != domain.CampaignSending {
			return false, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.running[campaignID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.running, campaignID)
			r.mu.Unlock()
			cancel()
		}()
		if err := r.Executor.Run(ctx, campaignID); err != nil && ctx.Err() == nil {
			r.Log.Error("campaign: executor run failed", zap.String("campaign_id", campaignID), zap.Error(err))
		}
	}()

	return true, nil
}

// Stop cancels campaignID's running Executor goroutine, if any. The caller
// is responsible for having already CAS'd the campaign's status (to PAUSED
// or CANCELLED) so the loop would have stopped on its own next poll; Stop
// just shortens that wait.
func (r *Registry) Stop(campaignID string) {
	r.mu.Lock()
	cancel, ok := r.running[campaignID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
