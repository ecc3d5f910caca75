package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aoi-labs/elicitbot/internal/models"
	"github.com/aoi-labs/elicitbot/internal/twiliowhatsapp"
)

func postWebhook(t *testing.T, s *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.TwilioWebhookHandler(w, req)
	return w
}

func TestTwilioWebhookEmitsResponse(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())

	w := postWebhook(t, s, url.Values{
		"From": {"whatsapp:+15551234567"},
		"Body": {"hello there"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	select {
	case resp := <-s.Responses():
		if resp.From != "whatsapp:+15551234567" || resp.Body != "hello there" {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatalf("no response emitted")
	}
}

func TestTwilioWebhookAcceptsMediaOnlyMessage(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())

	w := postWebhook(t, s, url.Values{
		"From":      {"whatsapp:+15551234567"},
		"NumMedia":  {"1"},
		"MediaUrl0": {"https://api.twilio.com/media/1"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	select {
	case resp := <-s.Responses():
		if resp.MediaURL != "https://api.twilio.com/media/1" || resp.Body != "" {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatalf("no response emitted")
	}
}

func TestTwilioWebhookRejectsEmptyMessage(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())

	w := postWebhook(t, s, url.Values{"From": {"whatsapp:+15551234567"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	w = postWebhook(t, s, url.Values{"Body": {"no sender"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTwilioSendMessageCanonicalizes(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	s := NewTwilioService(mock)

	if err := s.SendMessage(context.Background(), "whatsapp:+1 555-123-4567", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	last := mock.LastMessage()
	if last == nil || last.To != "15551234567" {
		t.Errorf("sent to %+v, want canonical digits", last)
	}

	select {
	case r := <-s.Receipts():
		if r.Status != models.MessageStatusSent {
			t.Errorf("receipt status = %s", r.Status)
		}
	case <-time.After(time.Second):
		t.Fatalf("no receipt emitted")
	}
}

func TestTwilioSendMessageAfterStop(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.SendMessage(context.Background(), "15551234567", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	s := NewTwilioService(twiliowhatsapp.NewMockClient())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"whatsapp:+15551234567", "15551234567", false},
		{"+1 555 123 4567", "15551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := s.ValidateAndCanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
