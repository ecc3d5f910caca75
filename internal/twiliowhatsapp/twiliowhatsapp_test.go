package twiliowhatsapp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Fatalf("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Fatalf("expected error without from number")
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("whatsapp:+15550009999"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550009999" {
		t.Errorf("fromWhats = %s", c.fromWhats)
	}
}

func TestDownloadMediaUsesBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "audio/ogg")
		io.WriteString(w, "voice-note-bytes")
	}))
	defer srv.Close()

	c := &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		accountSID: "AC123",
		authToken:  "tok",
	}
	body, contentType, err := c.DownloadMedia(context.Background(), srv.URL+"/media/1")
	if err != nil {
		t.Fatalf("DownloadMedia: %v", err)
	}
	defer body.Close()

	if gotUser != "AC123" || gotPass != "tok" {
		t.Errorf("basic auth = %s/%s", gotUser, gotPass)
	}
	if contentType != "audio/ogg" {
		t.Errorf("content type = %s", contentType)
	}
	data, _ := io.ReadAll(body)
	if string(data) != "voice-note-bytes" {
		t.Errorf("body = %q", data)
	}
}

func TestDownloadMediaRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{httpClient: srv.Client(), accountSID: "AC123", authToken: "tok"}
	if _, _, err := c.DownloadMedia(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error on 404")
	}
}

func TestMockClientRecordsMessages(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "15551234567", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	last := m.LastMessage()
	if last == nil || last.To != "15551234567" || last.Body != "hello" {
		t.Errorf("LastMessage = %+v", last)
	}
}
