package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	apperrors "github.com/relaywave/wa-core/internal/errors"

	"github.com/relaywave/wa-core/internal/domain"
	"github.com/relaywave/wa-core/internal/queue"
)

type fakePhoneNumbers struct {
	byUpstreamID map[string]*domain.PhoneNumber
}

func (f *fakePhoneNumbers) GetByID(ctx context.Context, id string) (*domain.PhoneNumber, error) {
	return nil, apperrors.NotFound("phone_number", id)
}

func (f *fakePhoneNumbers) GetByUpstreamPhoneID(ctx context.Context, upstreamPhoneID string) (*domain.PhoneNumber, error) {
	p, ok := f.byUpstreamID[upstreamPhoneID]
	if !ok {
		return nil, apperrors.NotFound("phone_number", upstreamPhoneID)
	}
	return p, nil
}

func (f *fakePhoneNumbers) UpdateQualityRating(ctx context.Context, id string, rating domain.QualityRating) error {
	return nil
}

type fakeWebhookEvents struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeWebhookEvents() *fakeWebhookEvents {
	return &fakeWebhookEvents{seen: map[string]bool{}}
}

func (f *fakeWebhookEvents) InsertIfNew(ctx context.Context, e *domain.WebhookEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := e.WorkspaceID + ":" + e.EventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeWebhookEvents) MarkProcessed(ctx context.Context, workspaceID, eventID string) error {
	return nil
}

func newTestIngestor() (*Ingestor, *queue.InMemory) {
	q := queue.NewInMemory()
	ing := &Ingestor{
		AppSecret:   "test-secret",
		VerifyToken: "verify-me",
		PhoneNumbers: &fakePhoneNumbers{byUpstreamID: map[string]*domain.PhoneNumber{
			"1234567890": {ID: "phone-1", WorkspaceID: "ws-1", UpstreamPhoneID: "1234567890"},
		}},
		Events: newFakeWebhookEvents(),
		Queue:  q,
		Log:    zap.NewNop(),
	}
	return ing, q
}

const sampleStatusPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "entry-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "1234567890"},
        "statuses": [{"id": "wamid.FOO", "status": "delivered", "timestamp": "1700000000", "recipient_id": "15557654321"}]
      }
    }]
  }]
}`

func TestVerifyEchoesChallengeOnMatch(t *testing.T) {
	ing, _ := newTestIngestor()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	ing.Verify(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("body = %q, want echoed challenge", w.Body.String())
	}
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	ing, _ := newTestIngestor()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	ing.Verify(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

// S6 — bad signature: 401 and the queue stays empty.
func TestReceiveRejectsBadSignature(t *testing.T) {
	ing, q := newTestIngestor()
	body := []byte(sampleStatusPayload)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body, "a-different-secret"))
	w := httptest.NewRecorder()
	ing.Receive(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, _ := q.Consume(ctx, queue.QueueStatusUpdates)
	select {
	case <-deliveries:
		t.Fatal("expected no delivery to reach the status queue")
	default:
	}
}

func TestReceiveRejectsMalformedJSON(t *testing.T) {
	ing, _ := newTestIngestor()
	body := []byte(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body, ing.AppSecret))
	w := httptest.NewRecorder()
	ing.Receive(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReceiveRejectsOversizedBody(t *testing.T) {
	ing, _ := newTestIngestor()
	ing.MaxBodyBytes = 16
	body := []byte(sampleStatusPayload)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	req.Header.Set("X-Hub-Signature-256", sign(body, ing.AppSecret))
	w := httptest.NewRecorder()
	ing.Receive(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestReceiveRoutesStatusEventAndDedupes(t *testing.T) {
	ing, q := newTestIngestor()
	body := []byte(sampleStatusPayload)
	sig := sign(body, ing.AppSecret)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
		req.Header.Set("X-Hub-Signature-256", sig)
		w := httptest.NewRecorder()
		ing.Receive(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d", i, w.Code)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deliveries, _ := q.Consume(ctx, queue.QueueStatusUpdates)

	select {
	case d := <-deliveries:
		d.Ack()
	default:
		t.Fatal("expected exactly one delivery on the status queue")
	}
	select {
	case <-deliveries:
		t.Fatal("replayed webhook should not publish a second time (dedupe)")
	default:
	}
}
