// Package models defines the inbound webhook payload shapes.
package models

import "encoding/json"

// WebhookEnvelope is the vendor-native inbound payload. The gateway posts an
// event object carrying message info plus the instance identity at the top
// level. A legacy flat shape (token/from/body) is also accepted; both decode
// into this one struct and InboundMessage() normalizes them.
type WebhookEnvelope struct {
	InstanceName string        `json:"instanceName,omitempty"`
	UserID       string        `json:"userID,omitempty"`
	Event        *WebhookEvent `json:"event,omitempty"`

	// Legacy flat shape fields.
	Token   string          `json:"token,omitempty"`
	From    string          `json:"from,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Message string          `json:"message,omitempty"`
}

// WebhookEvent mirrors the gateway's event object.
type WebhookEvent struct {
	Info    WebhookMessageInfo `json:"Info"`
	Message WebhookMessageBody `json:"Message"`
}

// WebhookMessageInfo carries sender metadata of a gateway event.
type WebhookMessageInfo struct {
	Sender   string `json:"Sender,omitempty"`
	Chat     string `json:"Chat,omitempty"`
	PushName string `json:"PushName,omitempty"`
	IsGroup  bool   `json:"IsGroup,omitempty"`
}

// WebhookMessageBody carries the message content of a gateway event.
type WebhookMessageBody struct {
	Conversation string               `json:"conversation,omitempty"`
	ExtendedText *WebhookExtendedText `json:"extendedTextMessage,omitempty"`
}

// WebhookExtendedText is the gateway's shape for quoted/extended text messages.
type WebhookExtendedText struct {
	Text string `json:"text,omitempty"`
}

// InboundMessage is the normalized result of parsing a webhook payload.
type InboundMessage struct {
	Token string // instance token identifying the connection
	From  string // sender phone, normalized digits (or group JID)
	Text  string
}
