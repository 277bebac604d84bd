package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/flow"
	"github.com/BTreeMap/CalendarPipe/internal/messaging"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/store"
	"github.com/BTreeMap/CalendarPipe/internal/twiliowhatsapp"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore, *twiliowhatsapp.MockClient, *messaging.TwilioService) {
	t.Helper()
	st := store.NewInMemoryStore()
	cal := calendar.NewMockClient()
	engine := flow.NewEngine(st, cal, flow.WithConnectURL("https://example.com/connect"))
	mock := twiliowhatsapp.NewMockClient()
	svc := messaging.NewTwilioService(mock)
	return NewServer(engine, svc, st), st, mock, svc
}

func postForm(t *testing.T, handler http.HandlerFunc, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestWebhookRepliesWithTwiML(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := postForm(t, s.webhookHandler, url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"hi"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected XML content type, got %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Response>") || !strings.Contains(body, "<Message>") {
		t.Errorf("expected TwiML envelope, got %q", body)
	}
	// Unconnected user gets the onboarding greeting with the connect link.
	if !strings.Contains(body, "https://example.com/connect") {
		t.Errorf("expected onboarding reply, got %q", body)
	}
}

func TestWebhookRecordsInboundMessage(t *testing.T) {
	s, st, _, _ := newTestServer(t)

	postForm(t, s.webhookHandler, url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"hello"},
	})
	responses, err := st.GetResponses()
	if err != nil {
		t.Fatalf("GetResponses failed: %v", err)
	}
	if len(responses) != 1 || responses[0].Body != "hello" {
		t.Fatalf("unexpected recorded responses: %+v", responses)
	}
	if responses[0].From != "15551234567" {
		t.Errorf("expected canonicalized sender, got %q", responses[0].From)
	}
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := postForm(t, s.webhookHandler, url.Values{"From": {"+15551234567"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing body, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	s.webhookHandler(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestStatusCallbackRecordsReceipt(t *testing.T) {
	s, st, _, _ := newTestServer(t)

	w := postForm(t, s.statusHandler, url.Values{
		"To":            {"whatsapp:+15551234567"},
		"MessageStatus": {"delivered"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	receipts, err := st.GetReceipts()
	if err != nil {
		t.Fatalf("GetReceipts failed: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Status != models.MessageStatusDelivered {
		t.Fatalf("unexpected receipts: %+v", receipts)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.healthHandler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health body: %q", w.Body.String())
	}
}

func TestConsumeResponsesRoutesThroughEngine(t *testing.T) {
	s, _, mock, svc := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.ConsumeResponses(ctx)

	svc.EmitResponse(models.Response{From: "+15551234567", Body: "hi", Time: time.Now().Unix()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mock.Sent()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	sent := mock.Sent()
	if len(sent) == 0 {
		t.Fatal("expected a reply to be sent for the consumed response")
	}
	if !strings.Contains(sent[0].Body, "https://example.com/connect") {
		t.Errorf("expected onboarding reply, got %q", sent[0].Body)
	}
}
