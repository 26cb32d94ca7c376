// cmd/worker is the long-running process hosting the Outbound Dispatcher
// worker pool (C4), the four webhook-event async handlers (C5), and the
// Campaign Executor registry (C6). Grounded on the teacher's
// cmd/worker/main.go consumer-loop wiring, with graceful shutdown lifted
// from aniladanir-auto-messenger-service/cmd/api/main.go's
// signal.NotifyContext pattern.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/relaywave/wa-core/internal/campaign"
	"github.com/relaywave/wa-core/internal/config"
	"github.com/relaywave/wa-core/internal/db"
	"github.com/relaywave/wa-core/internal/dispatcher"
	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/logging"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/ratelimiter"
	"github.com/relaywave/wa-core/internal/repository"
	"github.com/relaywave/wa-core/internal/upstream"
	"github.com/relaywave/wa-core/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("worker: failed to open database", zap.Error(err))
	}
	defer conn.Close()

	q, err := queue.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("worker: failed to dial amqp", zap.Error(err))
	}
	defer q.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("worker: invalid redis url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	messages := repository.NewMessageRepository(conn)
	campaigns := repository.NewCampaignRepository(conn)
	contacts := repository.NewContactRepository(conn)
	phoneNumbers := repository.NewPhoneNumberRepository(conn)
	templates := repository.NewTemplateRepository(conn)

	limiter := ratelimiter.NewRedis(redisClient, ratelimiter.Config{
		Capacity:         cfg.LimiterPerNumberRate,
		RefillRate:       cfg.LimiterPerNumberRate,
		GlobalCapacity:   cfg.LimiterGlobalRate,
		GlobalRefillRate: cfg.LimiterGlobalRate,
	}, log)
	// Workspace bucket has no nested global layer of its own: the global
	// cap is already enforced by the per-number limiter above.
	workspaceLimiter := ratelimiter.NewRedis(redisClient, ratelimiter.Config{
		Capacity:   cfg.LimiterWorkspaceRate,
		RefillRate: cfg.LimiterWorkspaceRate,
	}, log)

	upstreamClient := upstream.NewWithBaseURL(cfg.UpstreamAPIVersion, cfg.UpstreamBaseURL).
		WithTimeout(time.Duration(cfg.UpstreamTotalTimeoutMs) * time.Millisecond).
		WithLogger(log)

	disp := dispatcher.New(q, messages, campaigns, limiter, workspaceLimiter, upstreamClient, redisClient, log)
	disp.Backoff = dispatcher.BackoffConfig{
		BaseDelay:    time.Duration(cfg.RetryBackoffBaseMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.RetryBackoffCapMs) * time.Millisecond,
		Factor:       cfg.RetryBackoffFactor,
		JitterFactor: cfg.RetryJitterFactor,
		MaxAttempts:  cfg.RetryMaxAttempts,
	}
	disp.SendDeadline = cfg.WorkerVisibility

	if err := disp.Run(ctx, cfg.WorkerCount); err != nil {
		log.Fatal("worker: dispatcher failed to start", zap.Error(err))
	}

	handlers := &webhook.Handlers{
		Messages:     messages,
		Contacts:     contacts,
		PhoneNumbers: phoneNumbers,
		Campaigns:    campaigns,
		Queue:        q,
		Log:          log,
	}
	if err := handlers.Run(ctx); err != nil {
		log.Fatal("worker: webhook handlers failed to start", zap.Error(err))
	}

	executor := &campaign.Executor{
		Campaigns:    campaigns,
		Contacts:     contacts,
		Messages:     messages,
		PhoneNumbers: phoneNumbers,
		Templates:    templates,
		Queue:        q,
		Log:          log,
		BatchSize:    cfg.CampaignBatchSize,
	}
	registry := campaign.NewRegistry(campaigns, executor, log)
	resumeInterruptedCampaigns(ctx, registry, campaigns, log)

	log.Info("worker: running", zap.Int("dispatcher_workers", cfg.WorkerCount))
	<-ctx.Done()
	log.Info("worker: shutting down")
}

// resumeInterruptedCampaigns re-attaches an Executor to every campaign this
// process finds already in SENDING on startup — a prior worker process may
// have been killed mid-campaign, and the campaign's own row is the only
// record of that, there being no separate job queue for C6.
func resumeInterruptedCampaigns(ctx context.Context, registry *campaign.Registry, campaigns repository.CampaignRepository, log *zap.Logger) {
	sending, err := campaigns.ListByStatus(ctx, domain.CampaignSending)
	if err != nil {
		log.Warn("worker: failed to list in-flight campaigns on startup", zap.Error(err))
		return
	}
	for _, c := range sending {
		if _, err := registry.Start(ctx, c.ID); err != nil {
			log.Warn("worker: failed to resume campaign", zap.String("campaign_id", c.ID), zap.Error(err))
		}
	}
}
