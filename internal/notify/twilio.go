package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/zapflowhq/zapflow/internal/models"
)

// TwilioOpts holds configuration for the Twilio push sink.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string // E.164, e.g. +14155238886
	ToNumber   string // operator phone receiving alerts, E.164
}

// TwilioOption configures TwilioOpts.
type TwilioOption func(*TwilioOpts)

// WithTwilioCredentials sets the Twilio account SID and auth token.
func WithTwilioCredentials(accountSID, authToken string) TwilioOption {
	return func(o *TwilioOpts) {
		o.AccountSID = accountSID
		o.AuthToken = authToken
	}
}

// WithTwilioFromNumber sets the sending phone number.
func WithTwilioFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) {
		o.FromNumber = from
	}
}

// WithTwilioToNumber sets the operator phone number that receives alerts.
func WithTwilioToNumber(to string) TwilioOption {
	return func(o *TwilioOpts) {
		o.ToNumber = to
	}
}

// TwilioNotifier sends push alerts to an operator phone via the Twilio
// messaging API when a conversation needs human attention.
type TwilioNotifier struct {
	client *twilio.RestClient
	from   string
	to     string
}

var _ Notifier = (*TwilioNotifier)(nil)

// NewTwilioNotifier creates a Twilio-backed push sink.
func NewTwilioNotifier(options ...TwilioOption) (*TwilioNotifier, error) {
	var opts TwilioOpts
	for _, opt := range options {
		opt(&opts)
	}
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, fmt.Errorf("twilio account SID and auth token are required")
	}
	if opts.FromNumber == "" || opts.ToNumber == "" {
		return nil, fmt.Errorf("twilio from and to numbers are required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	slog.Debug("NewTwilioNotifier: created Twilio push sink", "from", opts.FromNumber, "to", opts.ToNumber)
	return &TwilioNotifier{client: client, from: opts.FromNumber, to: opts.ToNumber}, nil
}

func (n *TwilioNotifier) send(body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(body)

	resp, err := n.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send Twilio message: %w", err)
	}
	if resp.Sid != nil {
		slog.Debug("TwilioNotifier.send: message sent", "sid", *resp.Sid)
	}
	return nil
}

func (n *TwilioNotifier) NotifyTransfer(ctx context.Context, conn *models.Connection, conv *models.Conversation) error {
	body := fmt.Sprintf("ZapFlow: o contato %s pediu atendimento humano na conexão %s.", conv.ContactPhone, conn.Name)
	return n.send(body)
}

func (n *TwilioNotifier) NotifyCampaignDone(ctx context.Context, conn *models.Connection, campaign *models.Campaign, sent, failed int) error {
	body := fmt.Sprintf("ZapFlow: disparo %q finalizado com %d enviados e %d falhas.", campaign.Name, sent, failed)
	return n.send(body)
}
