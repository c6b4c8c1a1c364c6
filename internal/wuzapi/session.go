package wuzapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zapflowhq/zapflow/internal/models"
)

// Connect opens the gateway session for a connection, subscribing to the
// given event types (e.g. "Message").
func (c *Client) Connect(ctx context.Context, conn *models.Connection, events []string) error {
	token, err := c.token(conn)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		events = []string{"Message"}
	}
	payload := map[string]any{"Subscribe": events, "Immediate": true}
	if _, err := c.do(ctx, http.MethodPost, "/session/connect", token, payload); err != nil {
		return fmt.Errorf("failed to connect session: %w", err)
	}
	slog.Info("Client.Connect: session connecting", "connectionID", conn.ID)
	return nil
}

// Disconnect closes the gateway session without discarding credentials.
func (c *Client) Disconnect(ctx context.Context, conn *models.Connection) error {
	token, err := c.token(conn)
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, "/session/disconnect", token, nil); err != nil {
		return fmt.Errorf("failed to disconnect session: %w", err)
	}
	return nil
}

// Logout closes the session and unpairs the device.
func (c *Client) Logout(ctx context.Context, conn *models.Connection) error {
	token, err := c.token(conn)
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, "/session/logout", token, nil); err != nil {
		return fmt.Errorf("failed to log out session: %w", err)
	}
	return nil
}

// QRCode fetches the pairing QR code. Gateway versions disagree on the field
// name, so both QRCode and qr are accepted.
func (c *Client) QRCode(ctx context.Context, conn *models.Connection) (string, error) {
	token, err := c.token(conn)
	if err != nil {
		return "", err
	}
	data, err := c.do(ctx, http.MethodGet, "/session/qr", token, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch QR code: %w", err)
	}

	var qr struct {
		QRCode string `json:"QRCode"`
		QR     string `json:"qr"`
	}
	if err := json.Unmarshal(data, &qr); err != nil {
		return "", fmt.Errorf("failed to decode QR response: %w", err)
	}
	if qr.QRCode != "" {
		return qr.QRCode, nil
	}
	return qr.QR, nil
}

// Status polls the session state, normalizing the Connected/connected and
// LoggedIn/loggedIn spellings into a ConnectionStatus.
func (c *Client) Status(ctx context.Context, conn *models.Connection) (models.ConnectionStatus, error) {
	token, err := c.token(conn)
	if err != nil {
		return "", err
	}
	data, err := c.do(ctx, http.MethodGet, "/session/status", token, nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch session status: %w", err)
	}

	var st struct {
		Connected  *bool `json:"Connected"`
		ConnectedL *bool `json:"connected"`
		LoggedIn   *bool `json:"LoggedIn"`
		LoggedInL  *bool `json:"loggedIn"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}

	connected := boolField(st.Connected, st.ConnectedL)
	loggedIn := boolField(st.LoggedIn, st.LoggedInL)
	switch {
	case connected && loggedIn:
		return models.ConnectionStatusConnected, nil
	case connected:
		return models.ConnectionStatusConnecting, nil
	default:
		return models.ConnectionStatusDisconnected, nil
	}
}

func boolField(primary, fallback *bool) bool {
	if primary != nil {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	return false
}

// SetWebhook points the gateway's event delivery at the given URL.
func (c *Client) SetWebhook(ctx context.Context, conn *models.Connection, webhookURL string, events []string) error {
	token, err := c.token(conn)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		events = []string{"Message"}
	}
	payload := map[string]any{"webhook": webhookURL, "events": strings.Join(events, ",")}
	if _, err := c.do(ctx, http.MethodPost, "/webhook", token, payload); err != nil {
		return fmt.Errorf("failed to configure webhook: %w", err)
	}
	slog.Info("Client.SetWebhook: webhook configured", "connectionID", conn.ID, "url", webhookURL)
	return nil
}

// CheckResult is one entry of a device-list check.
type CheckResult struct {
	Phone string `json:"Query"`
	IsIn  bool   `json:"IsInWhatsapp"`
	JID   string `json:"JID"`
}

// CheckUser verifies which of the given phone numbers are on WhatsApp.
func (c *Client) CheckUser(ctx context.Context, conn *models.Connection, phones []string) ([]CheckResult, error) {
	token, err := c.token(conn)
	if err != nil {
		return nil, err
	}
	payload := map[string][]string{"Phone": phones}
	data, err := c.do(ctx, http.MethodPost, "/user/check", token, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to check users: %w", err)
	}

	var out struct {
		Users []CheckResult `json:"Users"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode user check response: %w", err)
	}
	return out.Users, nil
}
