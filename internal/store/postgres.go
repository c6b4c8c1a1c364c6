// Package store provides storage backends for ZapFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/zapflowhq/zapflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// --- Connections ---

func (s *PostgresStore) GetConnection(id string) (*models.Connection, error) {
	row := s.db.QueryRow(`SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConnection failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get connection %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetConnectionByToken(token string) (*models.Connection, error) {
	row := s.db.QueryRow(`SELECT `+connectionColumns+` FROM connections WHERE instance_token = $1`, token)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConnectionByToken not found")
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConnectionByToken failed", "error", err)
		return nil, fmt.Errorf("failed to get connection by token: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveConnection(c models.Connection) error {
	_, err := s.db.Exec(`
		INSERT INTO connections (`+connectionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, name = EXCLUDED.name,
			instance_token = EXCLUDED.instance_token, phone_number = EXCLUDED.phone_number,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		c.ID, c.UserID, c.Name, c.InstanceToken, c.PhoneNumber, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConnection failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save connection %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore SaveConnection succeeded", "id", c.ID)
	return nil
}

func (s *PostgresStore) UpdateConnectionStatus(id string, status models.ConnectionStatus) error {
	_, err := s.db.Exec(`UPDATE connections SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateConnectionStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update connection status for %s: %w", id, err)
	}
	return nil
}

// --- Flows ---

func (s *PostgresStore) GetFlow(id string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM chatbot_flows WHERE id = $1`, id)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return &f, nil
}

func (s *PostgresStore) ListActiveFlows(connectionID string) ([]models.Flow, error) {
	rows, err := s.db.Query(`
		SELECT `+flowColumns+` FROM chatbot_flows
		WHERE connection_id = $1 AND is_active = TRUE
		ORDER BY created_at`, connectionID)
	if err != nil {
		slog.Error("PostgresStore ListActiveFlows query failed", "error", err, "connectionID", connectionID)
		return nil, fmt.Errorf("failed to query active flows: %w", err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			slog.Error("PostgresStore ListActiveFlows scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	slog.Debug("PostgresStore ListActiveFlows succeeded", "connectionID", connectionID, "count", len(flows))
	return flows, nil
}

func (s *PostgresStore) SaveFlow(f models.Flow) error {
	_, err := s.db.Exec(`
		INSERT INTO chatbot_flows (`+flowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, is_active = EXCLUDED.is_active,
			trigger_type = EXCLUDED.trigger_type, trigger_keywords = EXCLUDED.trigger_keywords,
			trigger_campaign_id = EXCLUDED.trigger_campaign_id, flow_data = EXCLUDED.flow_data,
			settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at`,
		f.ID, f.UserID, f.ConnectionID, f.Name, f.IsActive, f.TriggerType,
		marshalJSON(f.TriggerKeywords), f.TriggerCampaignID, marshalJSON(f.FlowData),
		marshalJSON(f.Settings), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "id", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	return nil
}

// --- Conversations ---

func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM chatbot_conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetActiveConversation(connectionID, contactPhone string) (*models.Conversation, error) {
	row := s.db.QueryRow(`
		SELECT `+conversationColumns+` FROM chatbot_conversations
		WHERE connection_id = $1 AND contact_phone = $2 AND status = 'active'`,
		connectionID, contactPhone)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetActiveConversation not found", "connectionID", connectionID, "contactPhone", contactPhone)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActiveConversation failed", "error", err, "connectionID", connectionID)
		return nil, fmt.Errorf("failed to get active conversation: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateConversation(c models.Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO chatbot_conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ConnectionID, c.FlowID, c.ContactPhone, nilIfEmpty(c.CurrentNodeID),
		marshalJSON(c.Variables), c.Status, c.LastInteractionAt, c.CompletedAt,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to create conversation %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore CreateConversation succeeded", "id", c.ID, "contactPhone", c.ContactPhone)
	return nil
}

func (s *PostgresStore) UpdateConversation(c models.Conversation) error {
	_, err := s.db.Exec(`
		UPDATE chatbot_conversations
		SET current_node_id = $1, variables = $2, status = $3, last_interaction_at = $4,
		    completed_at = $5, updated_at = $6
		WHERE id = $7`,
		nilIfEmpty(c.CurrentNodeID), marshalJSON(c.Variables), c.Status,
		c.LastInteractionAt, c.CompletedAt, time.Now(), c.ID)
	if err != nil {
		slog.Error("PostgresStore UpdateConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore UpdateConversation succeeded", "id", c.ID, "currentNode", c.CurrentNodeID, "status", c.Status)
	return nil
}

// --- Chat messages ---

func (s *PostgresStore) AddChatMessage(m models.ChatMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO chatbot_messages (id, conversation_id, connection_id, contact_phone, direction, kind, body, media_url, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, m.ConnectionID, m.ContactPhone, m.Direction, m.Kind, m.Body, m.MediaURL, m.SentAt)
	if err != nil {
		slog.Error("PostgresStore AddChatMessage failed", "error", err, "contactPhone", m.ContactPhone)
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountInboundMessages(connectionID, contactPhone string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM chatbot_messages
		WHERE connection_id = $1 AND contact_phone = $2 AND direction = 'inbound'`,
		connectionID, contactPhone).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountInboundMessages failed", "error", err, "connectionID", connectionID)
		return 0, fmt.Errorf("failed to count inbound messages: %w", err)
	}
	return count, nil
}

// --- Notifications ---

func (s *PostgresStore) AddNotification(n models.Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, user_id, type, title, body, conversation_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.ConversationID, n.Read, n.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddNotification failed", "error", err, "userID", n.UserID)
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	slog.Debug("PostgresStore AddNotification succeeded", "userID", n.UserID, "type", n.Type)
	return nil
}

func (s *PostgresStore) ListNotifications(userID string) ([]models.Notification, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, type, title, body, conversation_id, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListNotifications query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.ConversationID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// --- Campaigns ---

func (s *PostgresStore) GetCampaign(id string) (*models.Campaign, error) {
	row := s.db.QueryRow(`SELECT `+campaignColumns+` FROM disparos WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCampaign failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveCampaign(c models.Campaign) error {
	_, err := s.db.Exec(`
		INSERT INTO disparos (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, body = EXCLUDED.body, media_kind = EXCLUDED.media_kind,
			media_payload = EXCLUDED.media_payload, status = EXCLUDED.status,
			scheduled_for = EXCLUDED.scheduled_for, updated_at = EXCLUDED.updated_at`,
		c.ID, c.UserID, c.ConnectionID, c.Name, c.Body, c.MediaKind, c.MediaPayload,
		c.Status, c.ScheduledFor, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveCampaign failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateCampaignStatus(id string, status models.CampaignStatus) error {
	_, err := s.db.Exec(`UPDATE disparos SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateCampaignStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update campaign status for %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListDueCampaigns(now time.Time) ([]models.Campaign, error) {
	rows, err := s.db.Query(`
		SELECT `+campaignColumns+` FROM disparos
		WHERE status = 'scheduled' AND (scheduled_for IS NULL OR scheduled_for <= $1)`, now)
	if err != nil {
		slog.Error("PostgresStore ListDueCampaigns query failed", "error", err)
		return nil, fmt.Errorf("failed to query due campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *PostgresStore) AddCampaignRecipients(recipients []models.CampaignRecipient) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin recipient insert: %w", err)
	}
	for _, r := range recipients {
		if _, err := tx.Exec(`
			INSERT INTO disparo_recipients (`+recipientColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.CampaignID, r.Phone, marshalJSON(r.Variables), r.Status, r.LastError, r.SentAt); err != nil {
			tx.Rollback()
			slog.Error("PostgresStore AddCampaignRecipients failed", "error", err, "campaignID", r.CampaignID)
			return fmt.Errorf("failed to insert recipient %s: %w", r.Phone, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListPendingRecipients(campaignID string, limit int) ([]models.CampaignRecipient, error) {
	rows, err := s.db.Query(`
		SELECT `+recipientColumns+` FROM disparo_recipients
		WHERE disparo_id = $1 AND status = 'pending' LIMIT $2`, campaignID, limit)
	if err != nil {
		slog.Error("PostgresStore ListPendingRecipients query failed", "error", err, "campaignID", campaignID)
		return nil, fmt.Errorf("failed to query pending recipients: %w", err)
	}
	defer rows.Close()

	var recipients []models.CampaignRecipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient row: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

func (s *PostgresStore) UpdateRecipientStatus(id string, status models.RecipientStatus, lastError string, sentAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE disparo_recipients SET status = $1, last_error = $2, sent_at = $3 WHERE id = $4`,
		status, lastError, sentAt, id)
	if err != nil {
		slog.Error("PostgresStore UpdateRecipientStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update recipient %s: %w", id, err)
	}
	return nil
}
