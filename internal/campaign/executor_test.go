package campaign

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

type fakeCampaigns struct {
	mu    sync.Mutex
	rec   map[string]*domain.Campaign
	total map[string]int
}

func newFakeCampaigns(c *domain.Campaign) *fakeCampaigns {
	return &fakeCampaigns{rec: map[string]*domain.Campaign{c.ID: c}, total: map[string]int{}}
}

func (f *fakeCampaigns) Create(ctx context.Context, c *domain.Campaign) error { return nil }
func (f *fakeCampaigns) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rec[id]
	if !ok {
		return nil, apperrors.NotFound("campaign", id)
	}
	cp := *c
	return &cp, nil
}
func (f *fakeCampaigns) List(ctx context.Context, workspaceID string, offset, limit int, status string) ([]*domain.Campaign, int, error) {
	return nil, 0, nil
}
func (f *fakeCampaigns) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	return nil, nil
}
func (f *fakeCampaigns) CASStatus(ctx context.Context, id string, expected, next domain.CampaignStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rec[id]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	return true, nil
}
func (f *fakeCampaigns) IsCancelled(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec[id].Status == domain.CampaignCancelled, nil
}
func (f *fakeCampaigns) IncrementCounters(ctx context.Context, id string, sent, delivered, read, failed int) error {
	return nil
}
func (f *fakeCampaigns) SetTotal(ctx context.Context, id string, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total[id] = total
	return nil
}

func (f *fakeCampaigns) status(id string) domain.CampaignStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec[id].Status
}

type fakeContacts struct {
	all []*domain.Contact
}

func (f *fakeContacts) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	return nil, nil
}
func (f *fakeContacts) GetOrCreateByWAID(ctx context.Context, workspaceID, waID, phone string) (*domain.Contact, error) {
	return nil, nil
}
func (f *fakeContacts) ListForCampaign(ctx context.Context, campaignID string, afterID string, limit int) ([]*domain.Contact, error) {
	start := 0
	if afterID != "" {
		for i, c := range f.all {
			if c.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.all) {
		end = len(f.all)
	}
	if start >= len(f.all) {
		return nil, nil
	}
	return f.all[start:end], nil
}

type fakePhoneNumbers struct {
	p *domain.PhoneNumber
}

func (f *fakePhoneNumbers) GetByID(ctx context.Context, id string) (*domain.PhoneNumber, error) {
	return f.p, nil
}
func (f *fakePhoneNumbers) GetByUpstreamPhoneID(ctx context.Context, upstreamPhoneID string) (*domain.PhoneNumber, error) {
	return f.p, nil
}
func (f *fakePhoneNumbers) UpdateQualityRating(ctx context.Context, id string, rating domain.QualityRating) error {
	return nil
}

type fakeTemplates struct{}

func (f *fakeTemplates) GetByName(ctx context.Context, workspaceID, name, languageCode string) (*domain.TemplateRef, error) {
	return nil, apperrors.NotFound("template", name)
}

type fakeMessages struct {
	mu  sync.Mutex
	rec map[string]*domain.Message
}

func newFakeMessages() *fakeMessages { return &fakeMessages{rec: map[string]*domain.Message{}} }

func (f *fakeMessages) Create(ctx context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec[m.ID] = m
	return nil
}
func (f *fakeMessages) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return nil, apperrors.NotFound("message", id)
}
func (f *fakeMessages) GetByUpstreamID(ctx context.Context, upstreamID string) (*domain.Message, error) {
	return nil, apperrors.NotFound("message", upstreamID)
}
func (f *fakeMessages) CASStatus(ctx context.Context, id string, expected, next domain.Status, opts repository.CASOptions) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rec[id]
	if !ok || m.Status != expected {
		return false, nil
	}
	m.Status = next
	return true, nil
}
func (f *fakeMessages) AdvanceStatus(ctx context.Context, upstreamID string, next domain.Status, at time.Time, lastErr *domain.LastError) (*domain.Message, bool, error) {
	return nil, false, nil
}

// CountByCampaignStatus reports 0 in-flight immediately, so the executor's
// awaitBatchDrained never blocks the test on the real pollInterval ticker.
func (f *fakeMessages) CountByCampaignStatus(ctx context.Context, campaignID string) (map[domain.Status]int, error) {
	return map[domain.Status]int{}, nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rec)
}

func contactList(n int) []*domain.Contact {
	contacts := make([]*domain.Contact, n)
	for i := range contacts {
		contacts[i] = &domain.Contact{ID: string(rune('a' + i)), Phone: "1555000000" + string(rune('0'+i))}
	}
	return contacts
}

// A campaign with fewer contacts than the batch size drains in one batch and
// transitions to COMPLETED.
func TestExecutorRunCompletesWhenContactsExhausted(t *testing.T) {
	c := &domain.Campaign{ID: "camp-1", WorkspaceID: "ws-1", PhoneNumberID: "phone-1", Status: domain.CampaignSending}
	campaigns := newFakeCampaigns(c)
	contacts := &fakeContacts{all: contactList(3)}
	messages := newFakeMessages()
	q := queue.NewInMemory()

	e := &Executor{
		Campaigns:    campaigns,
		Contacts:     contacts,
		Messages:     messages,
		PhoneNumbers: &fakePhoneNumbers{p: &domain.PhoneNumber{ID: "phone-1", UpstreamPhoneID: "999", EncryptedToken: "tok"}},
		Templates:    &fakeTemplates{},
		Queue:        q,
		Log:          zap.NewNop(),
		BatchSize:    10,
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Run(ctx, "camp-1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if campaigns.status("camp-1") != domain.CampaignCompleted {
		t.Fatalf("status = %v, want COMPLETED", campaigns.status("camp-1"))
	}
	if messages.count() != 3 {
		t.Fatalf("messages created = %d, want 3", messages.count())
	}
	if campaigns.total["camp-1"] != 3 {
		t.Fatalf("total = %d, want 3", campaigns.total["camp-1"])
	}
}

// A contact marked opted-out is skipped: no Message row, no publish.
func TestExecutorRunSkipsOptedOutContacts(t *testing.T) {
	c := &domain.Campaign{ID: "camp-1", WorkspaceID: "ws-1", PhoneNumberID: "phone-1", Status: domain.CampaignSending}
	campaigns := newFakeCampaigns(c)
	all := contactList(2)
	all[0].OptedOut = true
	contacts := &fakeContacts{all: all}
	messages := newFakeMessages()

	e := &Executor{
		Campaigns:    campaigns,
		Contacts:     contacts,
		Messages:     messages,
		PhoneNumbers: &fakePhoneNumbers{p: &domain.PhoneNumber{ID: "phone-1", UpstreamPhoneID: "999", EncryptedToken: "tok"}},
		Templates:    &fakeTemplates{},
		Queue:        queue.NewInMemory(),
		Log:          zap.NewNop(),
		BatchSize:    10,
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Run(ctx, "camp-1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if messages.count() != 1 {
		t.Fatalf("messages created = %d, want 1 (opted-out contact skipped)", messages.count())
	}
}

// If the campaign is paused out from under the executor between batches, the
// loop exits cleanly without forcing COMPLETED.
func TestExecutorRunStopsWhenNoLongerSending(t *testing.T) {
	c := &domain.Campaign{ID: "camp-1", WorkspaceID: "ws-1", PhoneNumberID: "phone-1", Status: domain.CampaignPaused}
	campaigns := newFakeCampaigns(c)
	contacts := &fakeContacts{all: contactList(3)}

	e := &Executor{
		Campaigns:    campaigns,
		Contacts:     contacts,
		Messages:     newFakeMessages(),
		PhoneNumbers: &fakePhoneNumbers{p: &domain.PhoneNumber{ID: "phone-1", UpstreamPhoneID: "999", EncryptedToken: "tok"}},
		Templates:    &fakeTemplates{},
		Queue:        queue.NewInMemory(),
		Log:          zap.NewNop(),
		BatchSize:    10,
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Run(ctx, "camp-1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if campaigns.status("camp-1") != domain.CampaignPaused {
		t.Fatalf("status = %v, want unchanged PAUSED", campaigns.status("camp-1"))
	}
}

func TestRegistryStartIsIdempotentWhileRunning(t *testing.T) {
	c := &domain.Campaign{ID: "camp-1", WorkspaceID: "ws-1", PhoneNumberID: "phone-1", Status: domain.CampaignDraft}
	campaigns := newFakeCampaigns(c)
	contacts := &fakeContacts{all: contactList(0)}

	e := &Executor{
		Campaigns:    campaigns,
		Contacts:     contacts,
		Messages:     newFakeMessages(),
		PhoneNumbers: &fakePhoneNumbers{p: &domain.PhoneNumber{ID: "phone-1", UpstreamPhoneID: "999", EncryptedToken: "tok"}},
		Templates:    &fakeTemplates{},
		Queue:        queue.NewInMemory(),
		Log:          zap.NewNop(),
		BatchSize:    10,
		PollInterval: time.Hour,
	}
	r := NewRegistry(campaigns, e, zap.NewNop())

	started1, err := r.Start(context.Background(), "camp-1")
	if err != nil || !started1 {
		t.Fatalf("first Start: started=%v err=%v", started1, err)
	}
	started2, err := r.Start(context.Background(), "camp-1")
	if err != nil || started2 {
		t.Fatalf("second Start while running should be a no-op, got started=%v err=%v", started2, err)
	}
	r.Stop("camp-1")
}

func TestRegistryStartFromDraftCASesIntoSending(t *testing.T) {
	c := &domain.Campaign{ID: "camp-1", WorkspaceID: "ws-1", PhoneNumberID: "phone-1", Status: domain.CampaignDraft}
	campaigns := newFakeCampaigns(c)
	contacts := &fakeContacts{all: contactList(0)}

	e := &Executor{
		Campaigns:    campaigns,
		Contacts:     contacts,
		Messages:     newFakeMessages(),
		PhoneNumbers: &fakePhoneNumbers{p: &domain.PhoneNumber{ID: "phone-1", UpstreamPhoneID: "999", EncryptedToken: "tok"}},
		Templates:    &fakeTemplates{},
		Queue:        queue.NewInMemory(),
		Log:          zap.NewNop(),
		BatchSize:    10,
		PollInterval: time.Millisecond,
	}
	r := NewRegistry(campaigns, e, zap.NewNop())

	started, err := r.Start(context.Background(), "camp-1")
	if err != nil || !started {
		t.Fatalf("Start: started=%v err=%v", started, err)
	}

	deadline := time.Now().Add(time.Second)
	for campaigns.status("camp-1") == domain.CampaignSending && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if campaigns.status("camp-1") != domain.CampaignCompleted {
		t.Fatalf("status = %v, want COMPLETED once the empty contact list drains", campaigns.status("camp-1"))
	}
}
