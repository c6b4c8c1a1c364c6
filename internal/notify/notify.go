// Package notify raises notifications when flow execution needs human
// attention: transfer-to-human handoffs and finished campaign dispatches.
//
// Sinks are best-effort. The flow engine and campaign dispatcher log sink
// failures and keep going.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/store"
)

// Notifier is the interface consumed by the flow engine and the campaign
// dispatcher.
type Notifier interface {
	// NotifyTransfer signals that a conversation was handed to a human.
	NotifyTransfer(ctx context.Context, conn *models.Connection, conv *models.Conversation) error

	// NotifyCampaignDone signals that a campaign dispatch finished.
	NotifyCampaignDone(ctx context.Context, conn *models.Connection, campaign *models.Campaign, sent, failed int) error
}

// StoreNotifier writes in-app notification rows.
type StoreNotifier struct {
	store store.Store
}

var _ Notifier = (*StoreNotifier)(nil)

// NewStoreNotifier creates a notifier backed by the given store.
func NewStoreNotifier(st store.Store) *StoreNotifier {
	return &StoreNotifier{store: st}
}

func (n *StoreNotifier) NotifyTransfer(ctx context.Context, conn *models.Connection, conv *models.Conversation) error {
	notification := models.Notification{
		ID:             uuid.NewString(),
		UserID:         conn.UserID,
		Type:           models.NotificationTypeTransfer,
		Title:          "Atendimento transferido",
		Body:           fmt.Sprintf("O contato %s pediu atendimento humano na conexão %s.", conv.ContactPhone, conn.Name),
		ConversationID: conv.ID,
		CreatedAt:      time.Now(),
	}
	if err := n.store.AddNotification(notification); err != nil {
		return fmt.Errorf("failed to add transfer notification: %w", err)
	}
	slog.Debug("StoreNotifier.NotifyTransfer", "conversationID", conv.ID, "userID", conn.UserID)
	return nil
}

func (n *StoreNotifier) NotifyCampaignDone(ctx context.Context, conn *models.Connection, campaign *models.Campaign, sent, failed int) error {
	notification := models.Notification{
		ID:        uuid.NewString(),
		UserID:    campaign.UserID,
		Type:      models.NotificationTypeCampaign,
		Title:     "Disparo concluído",
		Body:      fmt.Sprintf("Disparo %q finalizado: %d enviados, %d falharam.", campaign.Name, sent, failed),
		CreatedAt: time.Now(),
	}
	if err := n.store.AddNotification(notification); err != nil {
		return fmt.Errorf("failed to add campaign notification: %w", err)
	}
	slog.Debug("StoreNotifier.NotifyCampaignDone", "campaignID", campaign.ID, "sent", sent, "failed", failed)
	return nil
}

// MultiNotifier fans out to several sinks. Each sink is attempted; errors are
// collected but do not stop the remaining sinks.
type MultiNotifier struct {
	sinks []Notifier
}

var _ Notifier = (*MultiNotifier)(nil)

// NewMultiNotifier creates a notifier that fans out to all given sinks.
func NewMultiNotifier(sinks ...Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

func (n *MultiNotifier) NotifyTransfer(ctx context.Context, conn *models.Connection, conv *models.Conversation) error {
	var firstErr error
	for _, sink := range n.sinks {
		if err := sink.NotifyTransfer(ctx, conn, conv); err != nil {
			slog.Error("MultiNotifier.NotifyTransfer: sink failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (n *MultiNotifier) NotifyCampaignDone(ctx context.Context, conn *models.Connection, campaign *models.Campaign, sent, failed int) error {
	var firstErr error
	for _, sink := range n.sinks {
		if err := sink.NotifyCampaignDone(ctx, conn, campaign, sent, failed); err != nil {
			slog.Error("MultiNotifier.NotifyCampaignDone: sink failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
