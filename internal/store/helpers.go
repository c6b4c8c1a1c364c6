package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/zapflowhq/zapflow/internal/models"
)

// Shared column lists keep the SQLite and Postgres queries in sync with the
// scan helpers below.
const (
	connectionColumns   = "id, user_id, name, instance_token, phone_number, status, created_at, updated_at"
	flowColumns         = "id, user_id, connection_id, name, is_active, trigger_type, trigger_keywords, trigger_campaign_id, flow_data, settings, created_at, updated_at"
	conversationColumns = "id, connection_id, flow_id, contact_phone, current_node_id, variables, status, last_interaction_at, completed_at, created_at, updated_at"
	campaignColumns     = "id, user_id, connection_id, name, body, media_kind, media_payload, status, scheduled_for, created_at, updated_at"
	recipientColumns    = "id, disparo_id, phone, variables, status, last_error, sent_at"
	jobColumns          = "id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at"
)

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers work for both.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSON encodes v for a JSON column, returning "{}" on nil maps so the
// column never stores SQL NULL.
func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil || v == nil {
		return "{}"
	}
	return string(data)
}

func scanConnection(s rowScanner) (models.Connection, error) {
	var c models.Connection
	err := s.Scan(&c.ID, &c.UserID, &c.Name, &c.InstanceToken, &c.PhoneNumber, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	return c, nil
}

func scanFlow(s rowScanner) (models.Flow, error) {
	var f models.Flow
	var keywordsJSON, flowDataJSON, settingsJSON string
	err := s.Scan(
		&f.ID, &f.UserID, &f.ConnectionID, &f.Name, &f.IsActive, &f.TriggerType,
		&keywordsJSON, &f.TriggerCampaignID, &flowDataJSON, &settingsJSON,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return f, err
	}
	if keywordsJSON != "" && keywordsJSON != "[]" {
		if err := json.Unmarshal([]byte(keywordsJSON), &f.TriggerKeywords); err != nil {
			return f, fmt.Errorf("failed to decode trigger_keywords for flow %s: %w", f.ID, err)
		}
	}
	if flowDataJSON != "" {
		if err := json.Unmarshal([]byte(flowDataJSON), &f.FlowData); err != nil {
			return f, fmt.Errorf("failed to decode flow_data for flow %s: %w", f.ID, err)
		}
	}
	if settingsJSON != "" {
		if err := json.Unmarshal([]byte(settingsJSON), &f.Settings); err != nil {
			return f, fmt.Errorf("failed to decode settings for flow %s: %w", f.ID, err)
		}
	}
	return f, nil
}

func scanConversation(s rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var currentNode sql.NullString
	var variablesJSON string
	var completedAt sql.NullTime
	err := s.Scan(
		&c.ID, &c.ConnectionID, &c.FlowID, &c.ContactPhone, &currentNode,
		&variablesJSON, &c.Status, &c.LastInteractionAt, &completedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.CurrentNodeID = currentNode.String
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	if variablesJSON != "" && variablesJSON != "{}" {
		c.Variables = make(map[string]string)
		if err := json.Unmarshal([]byte(variablesJSON), &c.Variables); err != nil {
			return c, fmt.Errorf("failed to decode variables for conversation %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func scanCampaign(s rowScanner) (models.Campaign, error) {
	var c models.Campaign
	var scheduledFor sql.NullTime
	err := s.Scan(
		&c.ID, &c.UserID, &c.ConnectionID, &c.Name, &c.Body, &c.MediaKind,
		&c.MediaPayload, &c.Status, &scheduledFor, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	if scheduledFor.Valid {
		c.ScheduledFor = &scheduledFor.Time
	}
	return c, nil
}

func scanRecipient(s rowScanner) (models.CampaignRecipient, error) {
	var r models.CampaignRecipient
	var variablesJSON string
	var sentAt sql.NullTime
	err := s.Scan(&r.ID, &r.CampaignID, &r.Phone, &variablesJSON, &r.Status, &r.LastError, &sentAt)
	if err != nil {
		return r, err
	}
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	if variablesJSON != "" && variablesJSON != "{}" {
		r.Variables = make(map[string]string)
		if err := json.Unmarshal([]byte(variablesJSON), &r.Variables); err != nil {
			return r, fmt.Errorf("failed to decode variables for recipient %s: %w", r.ID, err)
		}
	}
	return r, nil
}

func scanJob(s rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := s.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}
