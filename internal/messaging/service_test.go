package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/CalendarPipe/internal/whatsapp"
)

func TestTwilioValidateAndCanonicalizeRecipient(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"15551234567", "15551234567", false},
		{"whatsapp:+15551234567", "15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, c := range cases {
		got, err := s.ValidateAndCanonicalizeRecipient(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("expected error for %q, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for %q: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTwilioSendEmitsReceipt(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	s := NewTwilioService(mock)

	if err := s.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].Body != "hello" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}

	select {
	case r := <-s.Receipts():
		if r.Status != models.MessageStatusSent || r.To != "15551234567" {
			t.Errorf("unexpected receipt: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a sent receipt")
	}
}

func TestTwilioSendRejectsEmptyBody(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := s.SendMessage(context.Background(), "+15551234567", ""); err != models.ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestTwilioStoppedServiceRefusesSends(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.SendMessage(context.Background(), "+15551234567", "hello"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestTwilioEmitResponse(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	s.EmitResponse(models.Response{From: "+15551234567", Body: "1", Time: time.Now().Unix()})

	select {
	case r := <-s.Responses():
		if r.From != "+15551234567" || r.Body != "1" {
			t.Errorf("unexpected response: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded response")
	}
}

func TestWhatsAppServiceSendWithMock(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := s.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	select {
	case r := <-s.Receipts():
		if r.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt status: %q", r.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a sent receipt")
	}

	if err := s.SendMessage(context.Background(), "", "hello"); err == nil {
		t.Error("expected error for empty recipient")
	}
}

func TestWhatsAppStoppedServiceRefusesSends(t *testing.T) {
	s := NewWhatsAppService(whatsapp.NewMockClient())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.SendMessage(context.Background(), "+15551234567", "hello"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
	// Late event-handler emissions after Stop are dropped, not a panic.
	s.emitResponse(models.Response{From: "+15551234567", Body: "1", Time: time.Now().Unix()})
	s.emitReceipt(models.Receipt{To: "+15551234567", Status: models.MessageStatusDelivered, Time: time.Now().Unix()})
}
