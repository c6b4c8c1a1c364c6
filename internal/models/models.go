// Package models defines the core data structures for ZapFlow.
//
// It includes types for gateway connections, outbound message records, and
// notifications, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for outbound message content
	MaxMessageBodyLength = 4096
	// MaxCaptionLength defines the maximum allowed length for media captions
	MaxCaptionLength = 1024
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
	ErrEmptyBody         = errors.New("message body cannot be empty")
	ErrBodyTooLong       = errors.New("message body exceeds maximum length")
	ErrEmptyMediaPayload = errors.New("media payload cannot be empty")
	ErrConnectionNoToken = errors.New("connection has no instance token")
)

// ConnectionStatus represents the session state of a gateway connection.
type ConnectionStatus string

const (
	// ConnectionStatusDisconnected indicates no active gateway session.
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	// ConnectionStatusConnecting indicates a session waiting for QR/pairing.
	ConnectionStatusConnecting ConnectionStatus = "connecting"
	// ConnectionStatusConnected indicates an authenticated, active session.
	ConnectionStatusConnected ConnectionStatus = "connected"
)

// Connection represents a WhatsApp gateway instance owned by a user.
type Connection struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Name          string           `json:"name"`
	InstanceToken string           `json:"instance_token"`
	PhoneNumber   string           `json:"phone_number,omitempty"`
	Status        ConnectionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// MessageDirection indicates whether a chatbot message was received or sent.
type MessageDirection string

const (
	MessageDirectionInbound  MessageDirection = "inbound"
	MessageDirectionOutbound MessageDirection = "outbound"
)

// MessageKind identifies the content type of a chatbot message.
type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindImage    MessageKind = "image"
	MessageKindVideo    MessageKind = "video"
	MessageKindAudio    MessageKind = "audio"
	MessageKindDocument MessageKind = "document"
)

// ChatMessage represents a single message exchanged in a chatbot conversation.
type ChatMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	ConnectionID   string           `json:"connection_id"`
	ContactPhone   string           `json:"contact_phone"`
	Direction      MessageDirection `json:"direction"`
	Kind           MessageKind      `json:"kind"`
	Body           string           `json:"body,omitempty"`
	MediaURL       string           `json:"media_url,omitempty"`
	SentAt         time.Time        `json:"sent_at"`
}

// NotificationType categorizes in-app notifications.
type NotificationType string

const (
	// NotificationTypeTransfer is raised when a conversation is handed to a human.
	NotificationTypeTransfer NotificationType = "transfer"
	// NotificationTypeCampaign is raised when a campaign dispatch finishes.
	NotificationTypeCampaign NotificationType = "campaign"
)

// Notification represents an in-app notification row.
type Notification struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusQueued indicates an API request resulted in queued work.
	APIStatusQueued APIStatus = "queued"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Queued creates a queued API response with a message.
func Queued(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusQueued).
		WithMessage(message).
		Build()
}
