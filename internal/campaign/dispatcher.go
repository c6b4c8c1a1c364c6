// Package campaign implements disparo dispatching: bulk sends of a templated
// message to a recipient list over one connection.
//
// A cron tick calls DispatchDue, which walks scheduled campaigns whose time
// has come, substitutes per-recipient variables, sends with pacing, and
// records per-recipient status.
package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zapflowhq/zapflow/internal/flow"
	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/notify"
	"github.com/zapflowhq/zapflow/internal/store"
)

const (
	// DefaultSendPacing is the delay between recipient sends.
	DefaultSendPacing = 500 * time.Millisecond
	// DefaultBatchSize bounds how many recipients one dispatch pass loads.
	DefaultBatchSize = 50
)

// Opts holds configuration for the dispatcher.
type Opts struct {
	Store      store.Store
	Sender     messaging.Service
	Notifier   notify.Notifier
	SendPacing time.Duration
	BatchSize  int
}

// Option configures Opts.
type Option func(*Opts)

// WithStore sets the campaign store.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithSender sets the outbound messaging service.
func WithSender(sender messaging.Service) Option {
	return func(o *Opts) { o.Sender = sender }
}

// WithNotifier sets the completion notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithSendPacing overrides the delay between recipient sends.
func WithSendPacing(d time.Duration) Option {
	return func(o *Opts) { o.SendPacing = d }
}

// WithBatchSize overrides the per-pass recipient batch size.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// Dispatcher walks due campaigns and sends to their pending recipients.
type Dispatcher struct {
	store      store.Store
	sender     messaging.Service
	notifier   notify.Notifier
	sendPacing time.Duration
	batchSize  int
}

// NewDispatcher creates a campaign dispatcher.
func NewDispatcher(options ...Option) (*Dispatcher, error) {
	opts := Opts{
		SendPacing: DefaultSendPacing,
		BatchSize:  DefaultBatchSize,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("messaging sender is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	return &Dispatcher{
		store:      opts.Store,
		sender:     opts.Sender,
		notifier:   opts.Notifier,
		sendPacing: opts.SendPacing,
		batchSize:  opts.BatchSize,
	}, nil
}

// Enqueue validates and persists a campaign with its recipient list. A
// campaign without a scheduled time is due immediately on the next tick.
func (d *Dispatcher) Enqueue(ctx context.Context, c models.Campaign, recipients []models.CampaignRecipient) (string, error) {
	if c.ConnectionID == "" {
		return "", fmt.Errorf("campaign connection is required")
	}
	if c.Body == "" && c.MediaPayload == "" {
		return "", models.ErrEmptyBody
	}
	if len(recipients) == 0 {
		return "", fmt.Errorf("campaign has no recipients")
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.Status = models.CampaignStatusScheduled
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := d.store.SaveCampaign(c); err != nil {
		return "", fmt.Errorf("failed to save campaign: %w", err)
	}

	for i := range recipients {
		recipients[i].ID = uuid.NewString()
		recipients[i].CampaignID = c.ID
		recipients[i].Status = models.RecipientStatusPending
	}
	if err := d.store.AddCampaignRecipients(recipients); err != nil {
		return "", fmt.Errorf("failed to save campaign recipients: %w", err)
	}

	slog.Info("Dispatcher.Enqueue: campaign scheduled", "campaignID", c.ID, "recipients", len(recipients), "scheduledFor", c.ScheduledFor)
	return c.ID, nil
}

// DispatchDue runs all campaigns whose scheduled time has passed. Intended to
// be called from a cron tick.
func (d *Dispatcher) DispatchDue(ctx context.Context) {
	due, err := d.store.ListDueCampaigns(time.Now())
	if err != nil {
		slog.Error("Dispatcher.DispatchDue: failed to list due campaigns", "error", err)
		return
	}
	for i := range due {
		if err := d.dispatch(ctx, &due[i]); err != nil {
			slog.Error("Dispatcher.DispatchDue: dispatch failed", "campaignID", due[i].ID, "error", err)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, c *models.Campaign) error {
	slog.Info("Dispatcher.dispatch: starting", "campaignID", c.ID, "name", c.Name)
	if err := d.store.UpdateCampaignStatus(c.ID, models.CampaignStatusRunning); err != nil {
		return fmt.Errorf("failed to mark campaign running: %w", err)
	}

	conn, err := d.store.GetConnection(c.ConnectionID)
	if err != nil {
		return fmt.Errorf("failed to load connection %s: %w", c.ConnectionID, err)
	}
	if conn == nil {
		if err := d.store.UpdateCampaignStatus(c.ID, models.CampaignStatusFailed); err != nil {
			slog.Error("Dispatcher.dispatch: failed to mark campaign failed", "campaignID", c.ID, "error", err)
		}
		return fmt.Errorf("campaign %s references missing connection %s", c.ID, c.ConnectionID)
	}

	var sent, failed int
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch interrupted: %w", err)
		}
		batch, err := d.store.ListPendingRecipients(c.ID, d.batchSize)
		if err != nil {
			return fmt.Errorf("failed to list pending recipients: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := range batch {
			ok, err := d.sendTo(ctx, conn, c, &batch[i])
			if err != nil {
				// The recipient is still pending and would be re-sent on the
				// next list pass. Abort instead of looping on it.
				return fmt.Errorf("failed to record recipient status: %w", err)
			}
			if ok {
				sent++
			} else {
				failed++
			}
			d.pace(ctx)
		}
	}

	status := models.CampaignStatusDone
	if sent == 0 && failed > 0 {
		status = models.CampaignStatusFailed
	}
	if err := d.store.UpdateCampaignStatus(c.ID, status); err != nil {
		return fmt.Errorf("failed to mark campaign %s: %w", status, err)
	}

	if err := d.notifier.NotifyCampaignDone(ctx, conn, c, sent, failed); err != nil {
		slog.Error("Dispatcher.dispatch: completion notification failed", "campaignID", c.ID, "error", err)
	}
	slog.Info("Dispatcher.dispatch: finished", "campaignID", c.ID, "sent", sent, "failed", failed)
	return nil
}

// sendTo delivers the campaign message to one recipient and records the
// outcome. The bool reports delivery success; a non-nil error means the
// outcome could not be recorded and the recipient is still marked pending.
func (d *Dispatcher) sendTo(ctx context.Context, conn *models.Connection, c *models.Campaign, r *models.CampaignRecipient) (bool, error) {
	body := flow.Substitute(c.Body, r.Variables)

	var err error
	switch c.MediaKind {
	case models.MessageKindImage:
		err = d.sender.SendImage(ctx, conn, r.Phone, c.MediaPayload, body)
	case models.MessageKindVideo:
		err = d.sender.SendVideo(ctx, conn, r.Phone, c.MediaPayload, body)
	case models.MessageKindAudio:
		err = d.sender.SendAudio(ctx, conn, r.Phone, c.MediaPayload)
	case models.MessageKindDocument:
		err = d.sender.SendDocument(ctx, conn, r.Phone, c.MediaPayload, c.Name)
	default:
		err = d.sender.SendText(ctx, conn, r.Phone, body)
	}

	now := time.Now()
	if err != nil {
		slog.Error("Dispatcher.sendTo: send failed", "campaignID", c.ID, "recipientID", r.ID, "error", err)
		if uerr := d.store.UpdateRecipientStatus(r.ID, models.RecipientStatusFailed, err.Error(), nil); uerr != nil {
			slog.Error("Dispatcher.sendTo: failed to record failure", "recipientID", r.ID, "error", uerr)
			return false, uerr
		}
		return false, nil
	}
	if uerr := d.store.UpdateRecipientStatus(r.ID, models.RecipientStatusSent, "", &now); uerr != nil {
		slog.Error("Dispatcher.sendTo: failed to record success", "recipientID", r.ID, "error", uerr)
		return true, uerr
	}
	return true, nil
}

func (d *Dispatcher) pace(ctx context.Context) {
	if d.sendPacing <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d.sendPacing):
	}
}
