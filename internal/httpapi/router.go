// Package httpapi wires the core's HTTP surface: bearer-authenticated
// message/campaign control routes plus the public webhook endpoint,
// grounded on the teacher's cmd/server/main.go chi.NewRouter + route table.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaywave/wa-core/internal/auth"
	"github.com/relaywave/wa-core/internal/campaign"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/repository"
	"github.com/relaywave/wa-core/internal/webhook"
)

// Deps collects every collaborator the router's handlers need.
type Deps struct {
	Messages     repository.MessageRepository
	Campaigns    repository.CampaignRepository
	PhoneNumbers repository.PhoneNumberRepository
	Queue        queue.Queue
	Registry     *campaign.Registry
	Auth         auth.Verifier
	Webhook      *webhook.Ingestor
}

// NewRouter builds the chi router for cmd/server.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)

	r.Get("/webhook", d.Webhook.Verify)
	r.Post("/webhook", d.Webhook.Receive)

	messages := &MessagesHandler{Messages: d.Messages, PhoneNumbers: d.PhoneNumbers, Queue: d.Queue}
	campaigns := &CampaignsHandler{Campaigns: d.Campaigns, Registry: d.Registry}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(auth.Middleware(d.Auth))

		v1.Post("/messages", messages.Send)
		v1.Get("/messages/{id}", messages.Get)

		v1.Post("/campaigns", campaigns.Create)
		v1.Get("/campaigns", campaigns.List)
		v1.Get("/campaigns/{id}", campaigns.Get)
		v1.Post("/campaigns/{id}/send", campaigns.Send)
		v1.Post("/campaigns/{id}/pause", campaigns.Pause)
		v1.Post("/campaigns/{id}/resume", campaigns.Resume)
		v1.Post("/campaigns/{id}/cancel", campaigns.Cancel)
	})

	return r
}
