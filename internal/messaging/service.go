// Package messaging defines the outbound message sending abstraction used by
// the flow engine and the campaign dispatcher.
//
// Implementations wrap a concrete WhatsApp transport: the vendor gateway HTTP
// API (internal/wuzapi) or a direct whatsmeow session (internal/whatsapp).
package messaging

import (
	"context"
	"sync"

	"github.com/zapflowhq/zapflow/internal/models"
)

// Service defines the interface for sending WhatsApp messages through a
// gateway connection. The recipient is a phone number in normalized digits
// (or a group JID, passed through unchanged by implementations).
type Service interface {
	// SendText sends a plain text message.
	SendText(ctx context.Context, conn *models.Connection, to, body string) error

	// SendImage sends an image from a URL or base64 data URL, with an
	// optional caption. Images are restricted to JPEG/PNG.
	SendImage(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error

	// SendVideo sends a video from a URL or base64 data URL, with an
	// optional caption.
	SendVideo(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error

	// SendAudio sends an audio message. Audio is always sent as audio/ogg.
	SendAudio(ctx context.Context, conn *models.Connection, to, mediaURL string) error

	// SendDocument sends a document as application/octet-stream.
	SendDocument(ctx context.Context, conn *models.Connection, to, mediaURL, filename string) error
}

// SentMessage records one call made against the MockService.
type SentMessage struct {
	ConnectionID string
	To           string
	Kind         models.MessageKind
	Body         string
	MediaURL     string
	Caption      string
}

// MockService is a Service implementation for testing that records all sends.
type MockService struct {
	mu   sync.Mutex
	sent []SentMessage

	// Err, when set, is returned by every send call.
	Err error
}

var _ Service = (*MockService)(nil)

// NewMockService creates a new MockService.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) record(msg SentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
}

// Sent returns a copy of all recorded sends.
func (m *MockService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockService) SendText(ctx context.Context, conn *models.Connection, to, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.record(SentMessage{ConnectionID: conn.ID, To: to, Kind: models.MessageKindText, Body: body})
	return nil
}

func (m *MockService) SendImage(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error {
	if m.Err != nil {
		return m.Err
	}
	m.record(SentMessage{ConnectionID: conn.ID, To: to, Kind: models.MessageKindImage, MediaURL: mediaURL, Caption: caption})
	return nil
}

func (m *MockService) SendVideo(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error {
	if m.Err != nil {
		return m.Err
	}
	m.record(SentMessage{ConnectionID: conn.ID, To: to, Kind: models.MessageKindVideo, MediaURL: mediaURL, Caption: caption})
	return nil
}

func (m *MockService) SendAudio(ctx context.Context, conn *models.Connection, to, mediaURL string) error {
	if m.Err != nil {
		return m.Err
	}
	m.record(SentMessage{ConnectionID: conn.ID, To: to, Kind: models.MessageKindAudio, MediaURL: mediaURL})
	return nil
}

func (m *MockService) SendDocument(ctx context.Context, conn *models.Connection, to, mediaURL, filename string) error {
	if m.Err != nil {
		return m.Err
	}
	m.record(SentMessage{ConnectionID: conn.ID, To: to, Kind: models.MessageKindDocument, MediaURL: mediaURL, Body: filename})
	return nil
}
