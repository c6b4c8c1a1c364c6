// Package models defines flow graph types to avoid circular imports.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// NodeType identifies the behavior of a flow node.
type NodeType string

const (
	NodeTypeMessage   NodeType = "message"
	NodeTypeCondition NodeType = "condition"
	NodeTypeWait      NodeType = "wait"
	NodeTypeAction    NodeType = "action"
	NodeTypeImage     NodeType = "image"
	NodeTypeVideo     NodeType = "video"
	NodeTypeAudio     NodeType = "audio"
	NodeTypeTransfer  NodeType = "transfer"
	NodeTypeEnd       NodeType = "end"
)

// IsValidNodeType checks if the given node type is supported.
func IsValidNodeType(nt NodeType) bool {
	switch nt {
	case NodeTypeMessage, NodeTypeCondition, NodeTypeWait, NodeTypeAction,
		NodeTypeImage, NodeTypeVideo, NodeTypeAudio, NodeTypeTransfer, NodeTypeEnd:
		return true
	default:
		return false
	}
}

// IsSendable reports whether a node type produces an outbound message on its own.
func (nt NodeType) IsSendable() bool {
	switch nt {
	case NodeTypeMessage, NodeTypeImage, NodeTypeVideo, NodeTypeAudio:
		return true
	default:
		return false
	}
}

// ConditionOperator identifies how a condition node compares its inputs.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorStartsWith  ConditionOperator = "startsWith"
	OperatorEndsWith    ConditionOperator = "endsWith"
	OperatorGreaterThan ConditionOperator = "greaterThan"
	OperatorLessThan    ConditionOperator = "lessThan"
)

// ActionKind identifies the dispatch target of an action node.
type ActionKind string

const (
	ActionSaveVariable    ActionKind = "save_variable"
	ActionSendEmail       ActionKind = "send_email"
	ActionCreateLead      ActionKind = "create_lead"
	ActionTransferToHuman ActionKind = "transfer_to_human"
)

// NodeData carries the type-specific payload of a flow node. Only the fields
// relevant to the node's type are populated; the engine switches exhaustively
// on NodeType and reads the matching fields.
type NodeData struct {
	// message / transfer
	Text string `json:"text,omitempty"`
	// condition
	Variable string            `json:"variable,omitempty"`
	Operator ConditionOperator `json:"operator,omitempty"`
	Value    string            `json:"value,omitempty"`
	// wait (seconds)
	Timeout int `json:"timeout,omitempty"`
	// action
	Action        ActionKind `json:"action,omitempty"`
	VariableName  string     `json:"variableName,omitempty"`
	VariableValue string     `json:"variableValue,omitempty"`
	// image / video / audio
	MediaURL string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Node is one vertex of a flow graph.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
	// Next is a legacy adjacency list consulted only when no edge resolves.
	Next []string `json:"next,omitempty"`
}

// Edge is one directed connection between two nodes. SourceHandle carries the
// branch label for condition nodes ("true"/"false").
type Edge struct {
	ID           string `json:"id"`
	From         string `json:"from"`
	To           string `json:"to"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// FlowData is the graph payload stored in a flow row.
type FlowData struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	StartNode string `json:"startNode,omitempty"`
}

// FlowSettings holds per-flow keyword overrides.
type FlowSettings struct {
	ExitKeyword     string `json:"exit_keyword,omitempty"`
	TransferKeyword string `json:"transfer_keyword,omitempty"`
}

// TriggerType identifies what causes a flow to start a conversation.
type TriggerType string

const (
	// TriggerFirstMessage fires on the first-ever inbound message from a contact.
	TriggerFirstMessage TriggerType = "first_message"
	// TriggerKeyword fires when the inbound text contains a configured keyword.
	TriggerKeyword TriggerType = "keyword"
	// TriggerCampaignResponse fires on replies to a campaign.
	TriggerCampaignResponse TriggerType = "campaign_response"
	// TriggerManual never auto-fires.
	TriggerManual TriggerType = "manual"
)

// Flow represents a chatbot flow definition scoped to a connection.
type Flow struct {
	ID                string       `json:"id"`
	UserID            string       `json:"user_id"`
	ConnectionID      string       `json:"connection_id"`
	Name              string       `json:"name"`
	IsActive          bool         `json:"is_active"`
	TriggerType       TriggerType  `json:"trigger_type"`
	TriggerKeywords   []string     `json:"trigger_keywords,omitempty"`
	TriggerCampaignID string       `json:"trigger_campaign_id,omitempty"`
	FlowData          FlowData     `json:"flow_data"`
	Settings          FlowSettings `json:"settings"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// ErrNoStartNode indicates a flow graph with no resolvable entry point.
var ErrNoStartNode = errors.New("flow has no resolvable start node")

// NodeByID returns the node with the given ID, or nil if absent.
func (fd *FlowData) NodeByID(id string) *Node {
	for i := range fd.Nodes {
		if fd.Nodes[i].ID == id {
			return &fd.Nodes[i]
		}
	}
	return nil
}

// StartNodeID resolves the entry node of the graph: the explicit StartNode if
// set and present, else the first sendable node, else the first node in the
// list. Returns ErrNoStartNode for an empty graph.
func (fd *FlowData) StartNodeID() (string, error) {
	if fd.StartNode != "" && fd.NodeByID(fd.StartNode) != nil {
		return fd.StartNode, nil
	}
	for i := range fd.Nodes {
		if fd.Nodes[i].Type.IsSendable() {
			return fd.Nodes[i].ID, nil
		}
	}
	if len(fd.Nodes) > 0 {
		return fd.Nodes[0].ID, nil
	}
	return "", ErrNoStartNode
}

// ParseFlowData decodes a stored flow_data JSON document.
func ParseFlowData(raw []byte) (FlowData, error) {
	var fd FlowData
	if len(raw) == 0 {
		return fd, nil
	}
	if err := json.Unmarshal(raw, &fd); err != nil {
		return fd, err
	}
	return fd, nil
}
