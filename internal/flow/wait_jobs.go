package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/store"
)

// JobKindWaitResume is the durable job kind that re-enters a conversation
// when a wait node's timer expires.
const JobKindWaitResume = "wait_resume"

type waitResumePayload struct {
	ConversationID string `json:"conversation_id"`
	NodeID         string `json:"node_id"`
}

// enqueueWaitResume schedules the re-entrant resume for a wait node. The
// dedupe key keeps repeated inbound messages during the wait from stacking
// duplicate timers.
func (e *Engine) enqueueWaitResume(conv *models.Conversation, node *models.Node) error {
	timeout := e.waitTimeout
	if node.Data.Timeout > 0 {
		timeout = time.Duration(node.Data.Timeout) * time.Second
	}

	payload, err := json.Marshal(waitResumePayload{ConversationID: conv.ID, NodeID: node.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal wait payload: %w", err)
	}

	dedupeKey := "wait:" + conv.ID + ":" + node.ID
	runAt := time.Now().Add(timeout)
	jobID, err := e.jobs.EnqueueJob(JobKindWaitResume, runAt, string(payload), dedupeKey)
	if err != nil {
		return fmt.Errorf("failed to enqueue wait resume: %w", err)
	}
	slog.Debug("Engine.enqueueWaitResume", "conversationID", conv.ID, "nodeID", node.ID, "jobID", jobID, "runAt", runAt)
	return nil
}

// WaitResumeHandler returns the job handler that continues a conversation
// past its wait node. The handler is idempotent: if the conversation has
// moved, completed, or been transferred since the timer was set, the job is
// a no-op.
func (e *Engine) WaitResumeHandler() store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p waitResumePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("failed to decode wait payload: %w", err)
		}

		conv, err := e.store.GetConversation(p.ConversationID)
		if err != nil {
			return fmt.Errorf("failed to load conversation %s: %w", p.ConversationID, err)
		}
		if conv == nil || conv.Status != models.ConversationActive || conv.CurrentNodeID != p.NodeID {
			slog.Debug("Engine.WaitResumeHandler: stale timer, skipping", "conversationID", p.ConversationID, "nodeID", p.NodeID)
			return nil
		}

		fl, err := e.store.GetFlow(conv.FlowID)
		if err != nil {
			return fmt.Errorf("failed to load flow %s: %w", conv.FlowID, err)
		}
		if fl == nil {
			return fmt.Errorf("conversation %s references missing flow %s", conv.ID, conv.FlowID)
		}
		conn, err := e.store.GetConnection(conv.ConnectionID)
		if err != nil {
			return fmt.Errorf("failed to load connection %s: %w", conv.ConnectionID, err)
		}
		if conn == nil {
			return fmt.Errorf("conversation %s references missing connection %s", conv.ID, conv.ConnectionID)
		}

		next := NextNodeID(&fl.FlowData, p.NodeID, nil)
		if next == "" {
			slog.Debug("Engine.WaitResumeHandler: wait node has no next, position kept", "conversationID", conv.ID, "nodeID", p.NodeID)
			return nil
		}

		conv.CurrentNodeID = next
		summary := e.run(ctx, conn, conv, fl, next)
		slog.Debug("Engine.WaitResumeHandler: resumed", "conversationID", conv.ID, "from", p.NodeID, "outcome", summary)
		return e.persist(conv)
	}
}
