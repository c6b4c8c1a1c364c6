// Package store provides storage backends for ZapFlow.
//
// It includes SQLite and PostgreSQL stores behind a single Store interface,
// plus an in-memory store used by tests. DSNs are auto-detected so one
// configuration value selects the backend.
package store

import (
	"strings"
	"time"

	"github.com/zapflowhq/zapflow/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL-style connection strings and
// "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store defines the persistence operations used by the flow engine, webhook
// handler, and campaign dispatcher.
type Store interface {
	// Connections
	GetConnection(id string) (*models.Connection, error)
	GetConnectionByToken(token string) (*models.Connection, error)
	SaveConnection(c models.Connection) error
	UpdateConnectionStatus(id string, status models.ConnectionStatus) error

	// Flows
	GetFlow(id string) (*models.Flow, error)
	ListActiveFlows(connectionID string) ([]models.Flow, error)
	SaveFlow(f models.Flow) error

	// Conversations
	GetConversation(id string) (*models.Conversation, error)
	GetActiveConversation(connectionID, contactPhone string) (*models.Conversation, error)
	CreateConversation(c models.Conversation) error
	UpdateConversation(c models.Conversation) error

	// Chat messages
	AddChatMessage(m models.ChatMessage) error
	CountInboundMessages(connectionID, contactPhone string) (int, error)

	// Notifications
	AddNotification(n models.Notification) error
	ListNotifications(userID string) ([]models.Notification, error)

	// Campaigns
	GetCampaign(id string) (*models.Campaign, error)
	SaveCampaign(c models.Campaign) error
	UpdateCampaignStatus(id string, status models.CampaignStatus) error
	ListDueCampaigns(now time.Time) ([]models.Campaign, error)
	AddCampaignRecipients(recipients []models.CampaignRecipient) error
	ListPendingRecipients(campaignID string, limit int) ([]models.CampaignRecipient, error)
	UpdateRecipientStatus(id string, status models.RecipientStatus, lastError string, sentAt *time.Time) error

	Close() error
}

// NewStore creates a store backend based on the configured DSN: PostgreSQL for
// connection strings, SQLite for file paths, in-memory when no DSN is set.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
