package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zapflowhq/zapflow/internal/models"
)

// resolve finds the active conversation for (connection, contact) with its
// flow. When none exists, the connection's active flows are evaluated in
// order against their trigger and a new conversation is created for the
// first match, positioned at the flow's start node. A nil conversation with
// a nil error means no flow matched.
func (e *Engine) resolve(ctx context.Context, conn *models.Connection, from, text string) (*models.Conversation, *models.Flow, bool, error) {
	conv, err := e.store.GetActiveConversation(conn.ID, from)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to look up active conversation: %w", err)
	}
	if conv != nil {
		fl, err := e.store.GetFlow(conv.FlowID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to load flow %s: %w", conv.FlowID, err)
		}
		if fl == nil {
			return nil, nil, false, fmt.Errorf("conversation %s references missing flow %s", conv.ID, conv.FlowID)
		}
		slog.Debug("Engine.resolve: resuming conversation", "conversationID", conv.ID, "nodeID", conv.CurrentNodeID)
		return conv, fl, false, nil
	}

	flows, err := e.store.ListActiveFlows(conn.ID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to list active flows: %w", err)
	}

	for i := range flows {
		fl := &flows[i]
		matched, err := e.triggerMatches(fl, conn, from, text)
		if err != nil {
			return nil, nil, false, err
		}
		if !matched {
			continue
		}

		startID, err := fl.FlowData.StartNodeID()
		if err != nil {
			return nil, nil, false, fmt.Errorf("flow %s: %w", fl.ID, err)
		}

		now := time.Now()
		conv = &models.Conversation{
			ID:                uuid.NewString(),
			ConnectionID:      conn.ID,
			FlowID:            fl.ID,
			ContactPhone:      from,
			CurrentNodeID:     startID,
			Variables:         make(map[string]string),
			Status:            models.ConversationActive,
			LastInteractionAt: now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := e.store.CreateConversation(*conv); err != nil {
			return nil, nil, false, fmt.Errorf("failed to create conversation: %w", err)
		}
		slog.Info("Engine.resolve: conversation created", "conversationID", conv.ID, "flowID", fl.ID, "trigger", fl.TriggerType, "startNode", startID)
		return conv, fl, true, nil
	}

	return nil, nil, false, nil
}

// triggerMatches evaluates one flow's trigger against the inbound message.
func (e *Engine) triggerMatches(fl *models.Flow, conn *models.Connection, from, text string) (bool, error) {
	switch fl.TriggerType {
	case models.TriggerFirstMessage:
		n, err := e.store.CountInboundMessages(conn.ID, from)
		if err != nil {
			return false, fmt.Errorf("failed to count inbound messages: %w", err)
		}
		return n == 0, nil
	case models.TriggerKeyword:
		for _, kw := range fl.TriggerKeywords {
			if containsKeyword(text, kw) {
				return true, nil
			}
		}
		return false, nil
	case models.TriggerCampaignResponse:
		// No deeper correlation to the campaign is attempted.
		return fl.TriggerCampaignID != "", nil
	case models.TriggerManual:
		return false, nil
	default:
		slog.Warn("Engine.triggerMatches: unknown trigger type", "flowID", fl.ID, "triggerType", fl.TriggerType)
		return false, nil
	}
}
