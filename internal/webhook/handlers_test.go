package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/repository"
)

// fakeMessages is a minimal in-memory MessageRepository whose AdvanceStatus
// reimplements the same rank-respecting partial order as the Postgres
// statement in repository.messageRepository, so handleStatus's behavior
// can be exercised without a database.
type fakeMessages struct {
	mu   sync.Mutex
	byID map[string]*domain.Message
	byWA map[string]string // upstream id -> message id
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byID: map[string]*domain.Message{}, byWA: map[string]string{}}
}

func (f *fakeMessages) Create(ctx context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[m.ID] = m
	if m.UpstreamMessageID != nil {
		f.byWA[*m.UpstreamMessageID] = m.ID
	}
	return nil
}

func (f *fakeMessages) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, apperrors.NotFound("message", id)
	}
	return m, nil
}

func (f *fakeMessages) GetByUpstreamID(ctx context.Context, upstreamID string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byWA[upstreamID]
	if !ok {
		return nil, nil
	}
	return f.byID[id], nil
}

func (f *fakeMessages) CASStatus(ctx context.Context, id string, expected, next domain.Status, opts repository.CASOptions) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok || m.Status != expected {
		return false, nil
	}
	m.Status = next
	return true, nil
}

func (f *fakeMessages) AdvanceStatus(ctx context.Context, upstreamID string, next domain.Status, at time.Time, lastErr *domain.LastError) (*domain.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byWA[upstreamID]
	if !ok {
		return nil, false, nil
	}
	m := f.byID[id]
	if !m.Status.AdvancesTo(next) {
		return m, false, nil
	}
	m.Status = next
	if next == domain.StatusFailed {
		m.LastError = lastErr
	}
	return m, true, nil
}

func (f *fakeMessages) CountByCampaignStatus(ctx context.Context, campaignID string) (map[domain.Status]int, error) {
	return map[domain.Status]int{}, nil
}

type fakeCampaigns struct {
	mu     sync.Mutex
	counts map[string][4]int // sent, delivered, read, failed
}

func newFakeCampaigns() *fakeCampaigns { return &fakeCampaigns{counts: map[string][4]int{}} }

func (f *fakeCampaigns) Create(ctx context.Context, c *domain.Campaign) error { return nil }
func (f *fakeCampaigns) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	return nil, apperrors.NotFound("campaign", id)
}
func (f *fakeCampaigns) List(ctx context.Context, workspaceID string, offset, limit int, status string) ([]*domain.Campaign, int, error) {
	return nil, 0, nil
}
func (f *fakeCampaigns) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaigns) CASStatus(ctx context.Context, id string, expected, next domain.CampaignStatus) (bool, error) {
	return false, nil
}
func (f *fakeCampaigns) IsCancelled(ctx context.Context, id string) (bool, error) { return false, nil }
func (f *fakeCampaigns) IncrementCounters(ctx context.Context, id string, sent, delivered, read, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.counts[id]
	c[0] += sent
	c[1] += delivered
	c[2] += read
	c[3] += failed
	f.counts[id] = c
	return nil
}
func (f *fakeCampaigns) SetTotal(ctx context.Context, id string, total int) error { return nil }

func newDelivery(body []byte) (queue.Delivery, chan string) {
	events := make(chan string, 4)
	return queue.Delivery{
		Body: body,
		Ack:  func() error { events <- "ack"; return nil },
		Nack: func(time.Duration) error { events <- "nack"; return nil },
	}, events
}

func TestHandleStatusAdvancesSentToDelivered(t *testing.T) {
	messages := newFakeMessages()
	campaigns := newFakeCampaigns()
	campaignID := "camp-1"
	messages.byID["msg-1"] = &domain.Message{ID: "msg-1", Status: domain.StatusSent, CampaignID: &campaignID}
	messages.byWA["wamid.FOO"] = "msg-1"

	h := &Handlers{Messages: messages, Campaigns: campaigns, Log: zap.NewNop()}
	body := []byte(`{"event_id":"e1","wa_message_id":"wamid.FOO","status":"delivered","timestamp":"1700000000"}`)
	d, events := newDelivery(body)

	h.handleStatus(context.Background(), d)

	if messages.byID["msg-1"].Status != domain.StatusDelivered {
		t.Fatalf("status = %v, want DELIVERED", messages.byID["msg-1"].Status)
	}
	if got := <-events; got != "ack" {
		t.Fatalf("delivery outcome = %s, want ack", got)
	}
	if campaigns.counts[campaignID][1] != 1 {
		t.Fatalf("delivered counter = %d, want 1", campaigns.counts[campaignID][1])
	}
}

// DELIVERED arriving before SENT implies SENT rather than being buffered
// (§4.5's "implied SENT", resolved in favor of the original's behavior).
func TestHandleStatusDeliveredBeforeSentImpliesSent(t *testing.T) {
	messages := newFakeMessages()
	messages.byID["msg-1"] = &domain.Message{ID: "msg-1", Status: domain.StatusQueued}
	messages.byWA["wamid.FOO"] = "msg-1"

	h := &Handlers{Messages: messages, Campaigns: newFakeCampaigns(), Log: zap.NewNop()}
	body := []byte(`{"event_id":"e1","wa_message_id":"wamid.FOO","status":"delivered","timestamp":"1700000000"}`)
	d, events := newDelivery(body)

	h.handleStatus(context.Background(), d)

	if messages.byID["msg-1"].Status != domain.StatusDelivered {
		t.Fatalf("status = %v, want DELIVERED", messages.byID["msg-1"].Status)
	}
	if got := <-events; got != "ack" {
		t.Fatalf("delivery outcome = %s, want ack", got)
	}
}

// Out-of-order/stale status events (e.g. a replayed "sent" after "read")
// are dropped silently: not an error, just stale information.
func TestHandleStatusDropsOutOfOrderRegression(t *testing.T) {
	messages := newFakeMessages()
	messages.byID["msg-1"] = &domain.Message{ID: "msg-1", Status: domain.StatusRead}
	messages.byWA["wamid.FOO"] = "msg-1"

	h := &Handlers{Messages: messages, Campaigns: newFakeCampaigns(), Log: zap.NewNop()}
	body := []byte(`{"event_id":"e1","wa_message_id":"wamid.FOO","status":"sent","timestamp":"1700000000"}`)
	d, events := newDelivery(body)

	h.handleStatus(context.Background(), d)

	if messages.byID["msg-1"].Status != domain.StatusRead {
		t.Fatalf("status regressed to %v", messages.byID["msg-1"].Status)
	}
	if got := <-events; got != "ack" {
		t.Fatalf("delivery outcome = %s, want ack (drop, not retry)", got)
	}
}

func TestHandleStatusFailedIsAlwaysAcceptedAsTerminal(t *testing.T) {
	messages := newFakeMessages()
	campaignID := "camp-1"
	messages.byID["msg-1"] = &domain.Message{ID: "msg-1", Status: domain.StatusRead, CampaignID: &campaignID}
	messages.byWA["wamid.FOO"] = "msg-1"

	h := &Handlers{Messages: messages, Campaigns: newFakeCampaigns(), Log: zap.NewNop()}
	body := []byte(`{"event_id":"e1","wa_message_id":"wamid.FOO","status":"failed","timestamp":"1700000000","error_message":"undeliverable"}`)
	d, _ := newDelivery(body)

	h.handleStatus(context.Background(), d)

	if messages.byID["msg-1"].Status != domain.StatusFailed {
		t.Fatalf("status = %v, want FAILED", messages.byID["msg-1"].Status)
	}
	if messages.byID["msg-1"].LastError == nil {
		t.Fatal("expected last_error to be set")
	}
}

// A second FAILED status, carrying a distinct event_id so the Ingestor's
// dedupe doesn't catch it, must not re-apply against an already-FAILED
// Message or the campaign's failed counter would double-count it.
func TestHandleStatusFailedDoesNotReapplyOnAlreadyFailedMessage(t *testing.T) {
	messages := newFakeMessages()
	campaigns := newFakeCampaigns()
	campaignID := "camp-1"
	messages.byID["msg-1"] = &domain.Message{ID: "msg-1", Status: domain.StatusFailed, CampaignID: &campaignID}
	messages.byWA["wamid.FOO"] = "msg-1"

	h := &Handlers{Messages: messages, Campaigns: campaigns, Log: zap.NewNop()}
	body := []byte(`{"event_id":"e2","wa_message_id":"wamid.FOO","status":"failed","timestamp":"1700000001","error_message":"undeliverable again"}`)
	d, events := newDelivery(body)

	h.handleStatus(context.Background(), d)

	if messages.byID["msg-1"].Status != domain.StatusFailed {
		t.Fatalf("status = %v, want FAILED", messages.byID["msg-1"].Status)
	}
	if got := <-events; got != "ack" {
		t.Fatalf("delivery outcome = %s, want ack (drop, not retry)", got)
	}
	if campaigns.counts[campaignID][3] != 0 {
		t.Fatalf("failed counter = %d, want 0 (no re-apply)", campaigns.counts[campaignID][3])
	}
}
