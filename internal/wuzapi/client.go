// Package wuzapi implements the HTTP client for a WUZAPI-compatible WhatsApp
// gateway. It covers the send operations used by the flow engine and the
// session management surface (connect, QR, status, webhook configuration).
//
// Each call authenticates with the per-connection instance token. The vendor
// response shapes are inconsistent across deployments (QRCode vs qr,
// Connected vs connected); this client normalizes them.
package wuzapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vincent-petithory/dataurl"

	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
)

// DefaultTimeout bounds each gateway HTTP call.
const DefaultTimeout = 30 * time.Second

// Opts holds configuration for the gateway client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Option configures Opts.
type Option func(*Opts)

// WithBaseURL sets the gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) { o.BaseURL = baseURL }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client talks to one gateway deployment. Connection identity travels in the
// token header of each request.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ messaging.Service = (*Client)(nil)

// NewClient creates a gateway client.
func NewClient(options ...Option) (*Client, error) {
	opts := Opts{Timeout: DefaultTimeout}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// envelope is the gateway's standard response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("gateway returned malformed response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || (!env.Success && env.Error != "") {
		return nil, fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, env.Error)
	}
	return env.Data, nil
}

func (c *Client) token(conn *models.Connection) (string, error) {
	if conn.InstanceToken == "" {
		return "", models.ErrConnectionNoToken
	}
	return conn.InstanceToken, nil
}

// NormalizeJID converts a phone number into the gateway's JID form. Group
// JIDs and already-qualified addresses pass through unchanged.
func NormalizeJID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@s.whatsapp.net"
}

// normalizeMediaPayload validates and rewrites base64 data URLs per media
// kind: images must be JPEG/PNG, audio is forced to audio/ogg, documents to
// application/octet-stream. Plain URLs pass through for the gateway to fetch.
func normalizeMediaPayload(kind models.MessageKind, mediaURL string) (string, error) {
	if mediaURL == "" {
		return "", models.ErrEmptyMediaPayload
	}
	if !strings.HasPrefix(mediaURL, "data:") {
		return mediaURL, nil
	}

	du, err := dataurl.DecodeString(mediaURL)
	if err != nil {
		return "", fmt.Errorf("invalid media data URL: %w", err)
	}
	contentType := du.MediaType.ContentType()

	switch kind {
	case models.MessageKindImage:
		if contentType != "image/jpeg" && contentType != "image/png" {
			return "", fmt.Errorf("unsupported image type %s: only JPEG and PNG are accepted", contentType)
		}
		return mediaURL, nil
	case models.MessageKindAudio:
		return dataurl.New(du.Data, "audio/ogg").String(), nil
	case models.MessageKindDocument:
		return dataurl.New(du.Data, "application/octet-stream").String(), nil
	default:
		return mediaURL, nil
	}
}

// --- messaging.Service ---

func (c *Client) SendText(ctx context.Context, conn *models.Connection, to, body string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	if len(body) > models.MaxMessageBodyLength {
		return models.ErrBodyTooLong
	}
	token, err := c.token(conn)
	if err != nil {
		return err
	}

	payload := map[string]string{"Phone": NormalizeJID(to), "Body": body}
	if _, err := c.do(ctx, http.MethodPost, "/chat/send/text", token, payload); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	slog.Debug("Client.SendText: message sent", "connectionID", conn.ID, "to", to)
	return nil
}

func (c *Client) SendImage(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error {
	return c.sendMedia(ctx, conn, to, models.MessageKindImage, "/chat/send/image", "Image", mediaURL, caption)
}

func (c *Client) SendVideo(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error {
	return c.sendMedia(ctx, conn, to, models.MessageKindVideo, "/chat/send/video", "Video", mediaURL, caption)
}

func (c *Client) SendAudio(ctx context.Context, conn *models.Connection, to, mediaURL string) error {
	return c.sendMedia(ctx, conn, to, models.MessageKindAudio, "/chat/send/audio", "Audio", mediaURL, "")
}

func (c *Client) SendDocument(ctx context.Context, conn *models.Connection, to, mediaURL, filename string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	token, err := c.token(conn)
	if err != nil {
		return err
	}
	payload, err := normalizeMediaPayload(models.MessageKindDocument, mediaURL)
	if err != nil {
		return err
	}

	body := map[string]string{"Phone": NormalizeJID(to), "Document": payload, "FileName": filename}
	if _, err := c.do(ctx, http.MethodPost, "/chat/send/document", token, body); err != nil {
		return fmt.Errorf("failed to send document: %w", err)
	}
	slog.Debug("Client.SendDocument: message sent", "connectionID", conn.ID, "to", to)
	return nil
}

func (c *Client) sendMedia(ctx context.Context, conn *models.Connection, to string, kind models.MessageKind, path, field, mediaURL, caption string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if len(caption) > models.MaxCaptionLength {
		return models.ErrBodyTooLong
	}
	token, err := c.token(conn)
	if err != nil {
		return err
	}
	payload, err := normalizeMediaPayload(kind, mediaURL)
	if err != nil {
		return err
	}

	body := map[string]string{"Phone": NormalizeJID(to), field: payload}
	if caption != "" {
		body["Caption"] = caption
	}
	if _, err := c.do(ctx, http.MethodPost, path, token, body); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	slog.Debug("Client.sendMedia: message sent", "connectionID", conn.ID, "to", to, "kind", kind)
	return nil
}
