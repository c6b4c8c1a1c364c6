// Package whatsapp implements the direct messaging channel: a whatsmeow
// session owned by this process instead of a separate gateway deployment.
//
// It satisfies the same sender interface as the gateway client and feeds
// inbound message events into the same pipeline the webhook serves.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/vincent-petithory/dataurl"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/store"
)

const (
	// DefaultSQLitePath is the default path for the whatsmeow session database.
	DefaultSQLitePath = "/var/lib/zapflow/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
)

// InboundHandler receives normalized inbound messages from the session.
type InboundHandler func(ctx context.Context, msg models.InboundMessage)

// Opts holds configuration options for the direct channel.
type Opts struct {
	DBDSN       string // whatsmeow session database connection string
	QRPath      string // path to write the login QR code
	NumericCode bool   // print a numeric pairing code instead of a QR code
	Token       string // instance token attributed to inbound messages
}

// Option defines a configuration option for the direct channel.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode prints a numeric pairing code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// WithInstanceToken sets the token attributed to inbound messages, so the
// direct channel resolves to the same connection row a gateway would.
func WithInstanceToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// Client wraps a whatsmeow session as a messaging service.
type Client struct {
	waClient *whatsmeow.Client
	token    string
	inbound  InboundHandler
}

var _ messaging.Service = (*Client)(nil)

// NewClient creates and connects the direct channel, running the QR login
// flow when the session is not yet paired.
func NewClient(options ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range options {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("whatsapp.NewClient: no session DSN provided, using default SQLite path", "path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		if !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("whatsapp.NewClient: SQLite session database without foreign keys enabled; "+
				"whatsmeow recommends '?_foreign_keys=on' in the connection string",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsmeow session store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from whatsmeow store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	c := &Client{waClient: waClient, token: cfg.Token}
	waClient.AddEventHandler(c.handleEvent)

	if waClient.Store.ID == nil {
		slog.Info("whatsapp.NewClient: login required, starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect during login: %w", err)
		}

		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				slog.Debug("whatsapp.NewClient: login code received")
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("whatsapp.NewClient: login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("whatsapp.NewClient: already logged in, connecting")
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}

	slog.Info("whatsapp.NewClient: direct channel connected")
	return c, nil
}

// OnInboundMessage registers the handler invoked for each inbound message.
func (c *Client) OnInboundMessage(h InboundHandler) {
	c.inbound = h
}

// Disconnect closes the session.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok || c.inbound == nil {
		return
	}

	text := msg.Message.GetConversation()
	if text == "" {
		text = msg.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}

	from := msg.Info.Sender.User
	if msg.Info.IsGroup {
		from = msg.Info.Chat.String()
	}
	slog.Debug("whatsapp.handleEvent: inbound message", "from", from)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	c.inbound(ctx, models.InboundMessage{Token: c.token, From: from, Text: text})
}

func toJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	var digits strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return types.NewJID(digits.String(), JIDSuffix), nil
}

// loadMedia resolves a media reference into raw bytes: base64 data URLs are
// decoded in place, anything else is fetched over HTTP.
func loadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	if mediaURL == "" {
		return nil, "", models.ErrEmptyMediaPayload
	}
	if strings.HasPrefix(mediaURL, "data:") {
		du, err := dataurl.DecodeString(mediaURL)
		if err != nil {
			return nil, "", fmt.Errorf("invalid media data URL: %w", err)
		}
		return du.Data, du.MediaType.ContentType(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create media request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// SendText sends a plain text message over the direct session.
func (c *Client) SendText(ctx context.Context, conn *models.Connection, to, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}

	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %s: %w", to, err)
	}
	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("whatsapp.SendText: message sent", "to", to)
	return nil
}

func (c *Client) SendImage(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error {
	data, mime, err := loadMedia(ctx, mediaURL)
	if err != nil {
		return err
	}
	if mime != "image/jpeg" && mime != "image/png" {
		return fmt.Errorf("unsupported image type %s: only JPEG and PNG are accepted", mime)
	}

	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %s: %w", to, err)
	}
	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}

	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mime),
		URL:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    &uploaded.FileLength,
	}}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send image to %s: %w", to, err)
	}
	slog.Debug("whatsapp.SendImage: message sent", "to", to)
	return nil
}

func (c *Client) SendVideo(ctx context.Context, conn *models.Connection, to, mediaURL, caption string) error {
	data, mime, err := loadMedia(ctx, mediaURL)
	if err != nil {
		return err
	}

	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %s: %w", to, err)
	}
	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaVideo)
	if err != nil {
		return fmt.Errorf("failed to upload video: %w", err)
	}

	msg := &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mime),
		URL:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    &uploaded.FileLength,
	}}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send video to %s: %w", to, err)
	}
	slog.Debug("whatsapp.SendVideo: message sent", "to", to)
	return nil
}

func (c *Client) SendAudio(ctx context.Context, conn *models.Connection, to, mediaURL string) error {
	data, _, err := loadMedia(ctx, mediaURL)
	if err != nil {
		return err
	}

	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %s: %w", to, err)
	}
	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaAudio)
	if err != nil {
		return fmt.Errorf("failed to upload audio: %w", err)
	}

	// Audio always goes out as ogg, matching what WhatsApp voice notes use.
	msg := &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		Mimetype:      proto.String("audio/ogg; codecs=opus"),
		URL:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    &uploaded.FileLength,
	}}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send audio to %s: %w", to, err)
	}
	slog.Debug("whatsapp.SendAudio: message sent", "to", to)
	return nil
}

func (c *Client) SendDocument(ctx context.Context, conn *models.Connection, to, mediaURL, filename string) error {
	data, _, err := loadMedia(ctx, mediaURL)
	if err != nil {
		return err
	}

	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %s: %w", to, err)
	}
	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}

	msg := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		FileName:      proto.String(filename),
		Mimetype:      proto.String("application/octet-stream"),
		URL:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    &uploaded.FileLength,
	}}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send document to %s: %w", to, err)
	}
	slog.Debug("whatsapp.SendDocument: message sent", "to", to)
	return nil
}
