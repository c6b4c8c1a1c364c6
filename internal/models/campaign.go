// Package models defines campaign (disparo) structures for bulk dispatches.
package models

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusDone      CampaignStatus = "done"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// RecipientStatus represents the per-recipient dispatch state.
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// Campaign represents a bulk send (disparo) of a templated message to a list
// of recipients over one connection.
type Campaign struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ConnectionID string         `json:"connection_id"`
	Name         string         `json:"name"`
	Body         string         `json:"body"` // template, supports {{key}} substitution
	MediaKind    MessageKind    `json:"media_kind,omitempty"`
	MediaPayload string         `json:"media_payload,omitempty"` // base64 data URL
	Status       CampaignStatus `json:"status"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CampaignRecipient represents one destination of a campaign, with the
// per-recipient variables substituted into the campaign body.
type CampaignRecipient struct {
	ID         string            `json:"id"`
	CampaignID string            `json:"campaign_id"`
	Phone      string            `json:"phone"` // normalized digits
	Variables  map[string]string `json:"variables,omitempty"`
	Status     RecipientStatus   `json:"status"`
	LastError  string            `json:"last_error,omitempty"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
}
