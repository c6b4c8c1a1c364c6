// Package store provides storage backends for ZapFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/zapflowhq/zapflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// --- Connections ---

func (s *SQLiteStore) GetConnection(id string) (*models.Connection, error) {
	row := s.db.QueryRow(`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConnection failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get connection %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetConnectionByToken(token string) (*models.Connection, error) {
	row := s.db.QueryRow(`SELECT `+connectionColumns+` FROM connections WHERE instance_token = ?`, token)
	c, err := scanConnection(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConnectionByToken not found")
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConnectionByToken failed", "error", err)
		return nil, fmt.Errorf("failed to get connection by token: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) SaveConnection(c models.Connection) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.InstanceToken, c.PhoneNumber, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConnection failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save connection %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore SaveConnection succeeded", "id", c.ID)
	return nil
}

func (s *SQLiteStore) UpdateConnectionStatus(id string, status models.ConnectionStatus) error {
	_, err := s.db.Exec(`UPDATE connections SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateConnectionStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update connection status for %s: %w", id, err)
	}
	return nil
}

// --- Flows ---

func (s *SQLiteStore) GetFlow(id string) (*models.Flow, error) {
	row := s.db.QueryRow(`SELECT `+flowColumns+` FROM chatbot_flows WHERE id = ?`, id)
	f, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListActiveFlows(connectionID string) ([]models.Flow, error) {
	rows, err := s.db.Query(`
		SELECT `+flowColumns+` FROM chatbot_flows
		WHERE connection_id = ? AND is_active = 1
		ORDER BY created_at`, connectionID)
	if err != nil {
		slog.Error("SQLiteStore ListActiveFlows query failed", "error", err, "connectionID", connectionID)
		return nil, fmt.Errorf("failed to query active flows: %w", err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			slog.Error("SQLiteStore ListActiveFlows scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	slog.Debug("SQLiteStore ListActiveFlows succeeded", "connectionID", connectionID, "count", len(flows))
	return flows, nil
}

func (s *SQLiteStore) SaveFlow(f models.Flow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO chatbot_flows (`+flowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.ConnectionID, f.Name, f.IsActive, f.TriggerType,
		marshalJSON(f.TriggerKeywords), f.TriggerCampaignID, marshalJSON(f.FlowData),
		marshalJSON(f.Settings), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "id", f.ID)
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	slog.Debug("SQLiteStore SaveFlow succeeded", "id", f.ID)
	return nil
}

// --- Conversations ---

func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM chatbot_conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetActiveConversation(connectionID, contactPhone string) (*models.Conversation, error) {
	row := s.db.QueryRow(`
		SELECT `+conversationColumns+` FROM chatbot_conversations
		WHERE connection_id = ? AND contact_phone = ? AND status = 'active'`,
		connectionID, contactPhone)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetActiveConversation not found", "connectionID", connectionID, "contactPhone", contactPhone)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActiveConversation failed", "error", err, "connectionID", connectionID)
		return nil, fmt.Errorf("failed to get active conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateConversation(c models.Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO chatbot_conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ConnectionID, c.FlowID, c.ContactPhone, nilIfEmpty(c.CurrentNodeID),
		marshalJSON(c.Variables), c.Status, c.LastInteractionAt, c.CompletedAt,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to create conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "id", c.ID, "contactPhone", c.ContactPhone)
	return nil
}

func (s *SQLiteStore) UpdateConversation(c models.Conversation) error {
	_, err := s.db.Exec(`
		UPDATE chatbot_conversations
		SET current_node_id = ?, variables = ?, status = ?, last_interaction_at = ?,
		    completed_at = ?, updated_at = ?
		WHERE id = ?`,
		nilIfEmpty(c.CurrentNodeID), marshalJSON(c.Variables), c.Status,
		c.LastInteractionAt, c.CompletedAt, time.Now(), c.ID)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversation failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore UpdateConversation succeeded", "id", c.ID, "currentNode", c.CurrentNodeID, "status", c.Status)
	return nil
}

// --- Chat messages ---

func (s *SQLiteStore) AddChatMessage(m models.ChatMessage) error {
	_, err := s.db.Exec(`
		INSERT INTO chatbot_messages (id, conversation_id, connection_id, contact_phone, direction, kind, body, media_url, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.ConnectionID, m.ContactPhone, m.Direction, m.Kind, m.Body, m.MediaURL, m.SentAt)
	if err != nil {
		slog.Error("SQLiteStore AddChatMessage failed", "error", err, "contactPhone", m.ContactPhone)
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountInboundMessages(connectionID, contactPhone string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM chatbot_messages
		WHERE connection_id = ? AND contact_phone = ? AND direction = 'inbound'`,
		connectionID, contactPhone).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountInboundMessages failed", "error", err, "connectionID", connectionID)
		return 0, fmt.Errorf("failed to count inbound messages: %w", err)
	}
	return count, nil
}

// --- Notifications ---

func (s *SQLiteStore) AddNotification(n models.Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, user_id, type, title, body, conversation_id, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, n.ConversationID, n.Read, n.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddNotification failed", "error", err, "userID", n.UserID)
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	slog.Debug("SQLiteStore AddNotification succeeded", "userID", n.UserID, "type", n.Type)
	return nil
}

func (s *SQLiteStore) ListNotifications(userID string) ([]models.Notification, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, type, title, body, conversation_id, read, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListNotifications query failed", "error", err, "userID", userID)
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

func (s *SQLiteStore) GetCampaign(id string) (*models.Campaign, error) {
	row := s.db.QueryRow(`SELECT `+campaignColumns+` FROM disparos WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCampaign failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) SaveCampaign(c models.Campaign) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO disparos (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.ConnectionID, c.Name, c.Body, c.MediaKind, c.MediaPayload,
		c.Status, c.ScheduledFor, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCampaign failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCampaignStatus(id string, status models.CampaignStatus) error {
	_, err := s.db.Exec(`UPDATE disparos SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateCampaignStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update campaign status for %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListDueCampaigns(now time.Time) ([]models.Campaign, error) {
	rows, err := s.db.Query(`
		SELECT `+campaignColumns+` FROM disparos
		WHERE status = 'scheduled' AND (scheduled_for IS NULL OR scheduled_for <= ?)`, now)
	if err != nil {
		slog.Error("SQLiteStore ListDueCampaigns query failed", "error", err)
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

func (s *SQLiteStore) AddCampaignRecipients(recipients []models.CampaignRecipient) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin recipient insert: %w", err)
	}
	for _, r := range recipients {
		if _, err := tx.Exec(`
			INSERT INTO disparo_recipients (`+recipientColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CampaignID, r.Phone, marshalJSON(r.Variables), r.Status, r.LastError, r.SentAt); err != nil {
			tx.Rollback()
			slog.Error("SQLiteStore AddCampaignRecipients failed", "error", err, "campaignID", r.CampaignID)
			return fmt.Errorf("failed to insert recipient %s: %w", r.Phone, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListPendingRecipients(campaignID string, limit int) ([]models.CampaignRecipient, error) {
	rows, err := s.db.Query(`
		SELECT `+recipientColumns+` FROM disparo_recipients
		WHERE disparo_id = ? AND status = 'pending' LIMIT ?`, campaignID, limit)
	if err != nil {
		slog.Error("SQLiteStore ListPendingRecipients query failed", "error", err, "campaignID", campaignID)
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

func (s *SQLiteStore) UpdateRecipientStatus(id string, status models.RecipientStatus, lastError string, sentAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE disparo_recipients SET status = ?, last_error = ?, sent_at = ? WHERE id = ?`,
		status, lastError, sentAt, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateRecipientStatus failed", "error", err, "id", id)
		return fmt.Errorf("failed to update recipient %s: %w", id, err)
	}
	return nil
}
