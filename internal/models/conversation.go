// Package models defines conversation state structures for ZapFlow flows.
package models

import "time"

// VarUserMessage is the reserved variable key holding the latest inbound text.
const VarUserMessage = "user_message"

// ConversationStatus represents the lifecycle state of a chatbot conversation.
type ConversationStatus string

const (
	// ConversationActive indicates the conversation is being driven by a flow.
	ConversationActive ConversationStatus = "active"
	// ConversationCompleted indicates the flow reached an end node or exit keyword.
	ConversationCompleted ConversationStatus = "completed"
	// ConversationTransferred indicates the conversation was handed to a human.
	ConversationTransferred ConversationStatus = "transferred"
)

// IsValidConversationStatus checks if the given status is supported.
func IsValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationActive, ConversationCompleted, ConversationTransferred:
		return true
	default:
		return false
	}
}

// Conversation represents the persisted position of one contact inside a flow.
// At most one active conversation exists per (connection, contact phone).
// CurrentNodeID is empty when the conversation is at the flow start or has
// terminated.
type Conversation struct {
	ID                string             `json:"id"`
	ConnectionID      string             `json:"connection_id"`
	FlowID            string             `json:"flow_id"`
	ContactPhone      string             `json:"contact_phone"` // normalized digits
	CurrentNodeID     string             `json:"current_node_id,omitempty"`
	Variables         map[string]string  `json:"variables,omitempty"`
	Status            ConversationStatus `json:"status"`
	LastInteractionAt time.Time          `json:"last_interaction_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// SetVariable stores a key/value pair, allocating the map on first use.
func (c *Conversation) SetVariable(key, value string) {
	if c.Variables == nil {
		c.Variables = make(map[string]string)
	}
	c.Variables[key] = value
}

// Variable returns the value for key, or "" if unset.
func (c *Conversation) Variable(key string) string {
	if c.Variables == nil {
		return ""
	}
	return c.Variables[key]
}
