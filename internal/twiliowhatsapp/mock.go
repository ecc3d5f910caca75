package twiliowhatsapp

import (
	"context"
	"io"
	"strings"
)

// SentMessage records one outbound message captured by the mock.
type SentMessage struct {
	To   string
	Body string
}

// MockClient implements TwilioWhatsAppSender for tests.
type MockClient struct {
	SentMessages []SentMessage
	// Media maps a media URL to canned body content served by DownloadMedia.
	Media map[string]string
	// MediaContentType is returned for every download; defaults to audio/ogg.
	MediaContentType string
	SendErr          error
}

// NewMockClient creates an empty mock Twilio client.
func NewMockClient() *MockClient {
	return &MockClient{Media: make(map[string]string)}
}

func (m *MockClient) SendMessage(_ context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) DownloadMedia(_ context.Context, mediaURL string) (io.ReadCloser, string, error) {
	contentType := m.MediaContentType
	if contentType == "" {
		contentType = "audio/ogg"
	}
	return io.NopCloser(strings.NewReader(m.Media[mediaURL])), contentType, nil
}

// LastMessage returns the most recently sent message, or nil when none.
func (m *MockClient) LastMessage() *SentMessage {
	if len(m.SentMessages) == 0 {
		return nil
	}
	return &m.SentMessages[len(m.SentMessages)-1]
}
