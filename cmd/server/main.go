// cmd/server is the HTTP API process: bearer-authenticated message and
// campaign control endpoints plus the public webhook endpoint. Grounded on
// the teacher's cmd/server/main.go wiring order (load env, open DB, build
// repositories, build services, build controllers, mount router, listen).
package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/relaywave/wa-core/internal/auth"
	"github.com/relaywave/wa-core/internal/campaign"
	"github.com/relaywave/wa-core/internal/config"
	"github.com/relaywave/wa-core/internal/db"
	"github.com/relaywave/wa-core/internal/httpapi"
	"github.com/relaywave/wa-core/internal/logging"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/repository"
	"github.com/relaywave/wa-core/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("server: failed to open database", zap.Error(err))
	}
	defer conn.Close()

	q, err := queue.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("server: failed to dial amqp", zap.Error(err))
	}
	defer q.Close()

	messages := repository.NewMessageRepository(conn)
	campaigns := repository.NewCampaignRepository(conn)
	contacts := repository.NewContactRepository(conn)
	phoneNumbers := repository.NewPhoneNumberRepository(conn)
	templates := repository.NewTemplateRepository(conn)
	webhookEvents := repository.NewWebhookEventRepository(conn)

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

	verifier := auth.NewStaticVerifier(cfg.AuthToken, "dev", nil)

	ingestor := &webhook.Ingestor{
		AppSecret:    cfg.WebhookAppSecret,
		VerifyToken:  cfg.WebhookVerifyToken,
		MaxBodyBytes: cfg.WebhookMaxBodyBytes,
		PhoneNumbers: phoneNumbers,
		Events:       webhookEvents,
		Queue:        q,
		Log:          log,
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Messages:     messages,
		Campaigns:    campaigns,
		PhoneNumbers: phoneNumbers,
		Queue:        q,
		Registry:     registry,
		Auth:         verifier,
		Webhook:      ingestor,
	})

	log.Info("server: listening", zap.String("port", cfg.ServerPort))
	if err := http.ListenAndServe(":"+cfg.ServerPort, router); err != nil {
		log.Fatal("server: listen failed", zap.Error(err))
	}
}
