package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/notify"
	"github.com/zapflowhq/zapflow/internal/store"
)

const (
	// DefaultSendPacing is the delay after each outbound send.
	DefaultSendPacing = 500 * time.Millisecond
	// DefaultWaitTimeout is used when a wait node has no timeout configured.
	DefaultWaitTimeout = 300 * time.Second

	// maxRunSteps bounds one run so a cyclic graph of auto-continuing nodes
	// cannot spin forever.
	maxRunSteps = 100

	defaultTransferMessage = "Um momento, você será atendido por um de nossos atendentes."
	defaultExitMessage     = "Atendimento encerrado. Obrigado pelo contato!"
)

// Opts holds configuration for the flow engine.
type Opts struct {
	Store       store.Store
	Jobs        store.JobRepo
	Sender      messaging.Service
	Notifier    notify.Notifier
	SendPacing  time.Duration
	WaitTimeout time.Duration
}

// Option configures Opts.
type Option func(*Opts)

// WithStore sets the conversation store.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithJobRepo sets the durable job repository backing wait nodes.
func WithJobRepo(jobs store.JobRepo) Option {
	return func(o *Opts) { o.Jobs = jobs }
}

// WithSender sets the outbound messaging service.
func WithSender(sender messaging.Service) Option {
	return func(o *Opts) { o.Sender = sender }
}

// WithNotifier sets the transfer notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithSendPacing overrides the delay applied after each outbound send.
func WithSendPacing(d time.Duration) Option {
	return func(o *Opts) { o.SendPacing = d }
}

// WithWaitTimeout overrides the default wait node timeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *Opts) { o.WaitTimeout = d }
}

// Engine interprets flow graphs. Each HandleInbound call advances one
// conversation until a halting node is reached; wait nodes resume through
// durable jobs instead of blocking the request.
type Engine struct {
	store       store.Store
	jobs        store.JobRepo
	sender      messaging.Service
	notifier    notify.Notifier
	sendPacing  time.Duration
	waitTimeout time.Duration
}

// NewEngine creates a flow engine.
func NewEngine(options ...Option) (*Engine, error) {
	opts := Opts{
		SendPacing:  DefaultSendPacing,
		WaitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("messaging sender is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	return &Engine{
		store:       opts.Store,
		jobs:        opts.Jobs,
		sender:      opts.Sender,
		notifier:    opts.Notifier,
		sendPacing:  opts.SendPacing,
		waitTimeout: opts.WaitTimeout,
	}, nil
}

// HandleInbound processes one inbound message for a connection. It resolves
// or creates the conversation, applies the exit/transfer keyword
// short-circuits, and runs the flow until it halts. The returned string is a
// short outcome summary for the webhook response.
func (e *Engine) HandleInbound(ctx context.Context, conn *models.Connection, from, text string) (string, error) {
	slog.Debug("Engine.HandleInbound", "connectionID", conn.ID, "from", from)

	conv, fl, created, err := e.resolve(ctx, conn, from, text)
	if err != nil {
		return "", err
	}
	if conv == nil {
		slog.Debug("Engine.HandleInbound: no matching flow", "connectionID", conn.ID, "from", from)
		return "no matching flow", nil
	}

	e.recordMessage(conv, models.MessageDirectionInbound, models.MessageKindText, text, "")

	conv.SetVariable(models.VarUserMessage, text)
	conv.LastInteractionAt = time.Now()

	// Global short-circuits run before any node executes.
	if containsKeyword(text, fl.Settings.ExitKeyword) {
		e.send(ctx, conn, conv, models.MessageKindText, defaultExitMessage, "", "")
		e.complete(conv)
		if err := e.persist(conv); err != nil {
			return "", err
		}
		return "conversation completed by exit keyword", nil
	}
	if containsKeyword(text, fl.Settings.TransferKeyword) {
		e.transfer(ctx, conn, conv, "")
		if err := e.persist(conv); err != nil {
			return "", err
		}
		return "conversation transferred", nil
	}

	startID, outcome := e.entryNode(conv, fl, created, text)
	if startID == "" {
		if err := e.persist(conv); err != nil {
			return "", err
		}
		return outcome, nil
	}

	summary := e.run(ctx, conn, conv, fl, startID)
	if err := e.persist(conv); err != nil {
		return "", err
	}
	return summary, nil
}

// entryNode determines where the run loop starts. A fresh conversation
// executes its start node; a resumed one advances past its persisted
// position first (evaluating condition nodes against the latest message).
// An empty return with a non-empty outcome means the run is a no-op and the
// position is kept.
func (e *Engine) entryNode(conv *models.Conversation, fl *models.Flow, created bool, text string) (string, string) {
	fd := &fl.FlowData

	if created || conv.CurrentNodeID == "" {
		if conv.CurrentNodeID != "" {
			return conv.CurrentNodeID, ""
		}
		startID, err := fd.StartNodeID()
		if err != nil {
			slog.Error("Engine.entryNode: no start node", "flowID", fl.ID, "error", err)
			return "", "flow has no start node"
		}
		return startID, ""
	}

	node := fd.NodeByID(conv.CurrentNodeID)
	if node == nil {
		slog.Warn("Engine.entryNode: current node missing from graph", "conversationID", conv.ID, "nodeID", conv.CurrentNodeID)
		return "", "current node not found; position kept"
	}

	var next string
	if node.Type == models.NodeTypeCondition {
		result := EvaluateCondition(node.Data, conv, text)
		slog.Debug("Engine.entryNode: condition evaluated", "conversationID", conv.ID, "nodeID", node.ID, "result", result)
		next = NextNodeID(fd, node.ID, &result)
	} else {
		next = NextNodeID(fd, node.ID, nil)
	}
	if next == "" {
		// No resolvable edge: stay put, never reset to start.
		return "", "no next node; position kept"
	}
	return next, ""
}

// run executes nodes starting at nodeID until a halting node is reached or no
// next node resolves. The conversation is mutated in place; the caller
// persists it.
func (e *Engine) run(ctx context.Context, conn *models.Connection, conv *models.Conversation, fl *models.Flow, nodeID string) string {
	fd := &fl.FlowData

	for steps := 0; nodeID != ""; steps++ {
		if steps >= maxRunSteps {
			slog.Warn("Engine.run: step limit reached, halting", "conversationID", conv.ID, "nodeID", nodeID)
			conv.CurrentNodeID = nodeID
			return "step limit reached"
		}

		node := fd.NodeByID(nodeID)
		if node == nil {
			slog.Warn("Engine.run: node missing from graph", "conversationID", conv.ID, "nodeID", nodeID)
			return "node not found; position kept"
		}
		slog.Debug("Engine.run: executing node", "conversationID", conv.ID, "nodeID", node.ID, "type", node.Type)

		switch node.Type {
		case models.NodeTypeMessage:
			body := Substitute(node.Data.Text, conv.Variables)
			e.send(ctx, conn, conv, models.MessageKindText, body, "", "")
			e.pace(ctx)

		case models.NodeTypeImage:
			e.sendMedia(ctx, conn, conv, models.MessageKindImage, node.Data)
			e.pace(ctx)

		case models.NodeTypeVideo:
			e.sendMedia(ctx, conn, conv, models.MessageKindVideo, node.Data)
			e.pace(ctx)

		case models.NodeTypeAudio:
			e.sendMedia(ctx, conn, conv, models.MessageKindAudio, node.Data)
			e.pace(ctx)

		case models.NodeTypeCondition:
			// Halt and await the next inbound message.
			conv.CurrentNodeID = node.ID
			return "awaiting input at condition node"

		case models.NodeTypeWait:
			conv.CurrentNodeID = node.ID
			if err := e.enqueueWaitResume(conv, node); err != nil {
				slog.Error("Engine.run: failed to enqueue wait resume", "conversationID", conv.ID, "nodeID", node.ID, "error", err)
			}
			return "waiting at timer node"

		case models.NodeTypeAction:
			if done := e.runAction(ctx, conn, conv, node); done {
				return "conversation transferred"
			}

		case models.NodeTypeTransfer:
			e.transfer(ctx, conn, conv, node.Data.Text)
			return "conversation transferred"

		case models.NodeTypeEnd:
			e.complete(conv)
			return "conversation completed"

		default:
			slog.Warn("Engine.run: unrecognized node type, halting", "conversationID", conv.ID, "nodeID", node.ID, "type", node.Type)
			conv.CurrentNodeID = node.ID
			return "unrecognized node type"
		}

		next := NextNodeID(fd, node.ID, nil)
		if next == "" {
			conv.CurrentNodeID = node.ID
			return "no next node; halted"
		}
		nodeID = next
	}
	return "message processed"
}

// runAction dispatches an action node. The returned bool is true when the
// action terminated the conversation.
func (e *Engine) runAction(ctx context.Context, conn *models.Connection, conv *models.Conversation, node *models.Node) bool {
	switch node.Data.Action {
	case models.ActionSaveVariable:
		if node.Data.VariableName != "" {
			conv.SetVariable(node.Data.VariableName, Substitute(node.Data.VariableValue, conv.Variables))
			slog.Debug("Engine.runAction: variable saved", "conversationID", conv.ID, "name", node.Data.VariableName)
		}
	case models.ActionTransferToHuman:
		e.transfer(ctx, conn, conv, node.Data.Text)
		return true
	case models.ActionSendEmail, models.ActionCreateLead:
		// Recognized but not wired to an external system.
		slog.Info("Engine.runAction: action not implemented, skipping", "conversationID", conv.ID, "action", node.Data.Action)
	default:
		slog.Warn("Engine.runAction: unknown action", "conversationID", conv.ID, "action", node.Data.Action)
	}
	return false
}

// transfer hands the conversation to a human: sends a handoff message,
// raises notifications, and terminates the conversation.
func (e *Engine) transfer(ctx context.Context, conn *models.Connection, conv *models.Conversation, text string) {
	if text == "" {
		text = defaultTransferMessage
	}
	e.send(ctx, conn, conv, models.MessageKindText, Substitute(text, conv.Variables), "", "")

	if err := e.notifier.NotifyTransfer(ctx, conn, conv); err != nil {
		slog.Error("Engine.transfer: notification failed", "conversationID", conv.ID, "error", err)
	}

	now := time.Now()
	conv.Status = models.ConversationTransferred
	conv.CurrentNodeID = ""
	conv.CompletedAt = &now
	slog.Info("Engine.transfer: conversation transferred", "conversationID", conv.ID, "contactPhone", conv.ContactPhone)
}

// complete marks the conversation finished.
func (e *Engine) complete(conv *models.Conversation) {
	now := time.Now()
	conv.Status = models.ConversationCompleted
	conv.CurrentNodeID = ""
	conv.CompletedAt = &now
	slog.Info("Engine.complete: conversation completed", "conversationID", conv.ID)
}

// send delivers one outbound message and records it. Send failures are
// logged, never propagated; a failed send does not abort the run.
func (e *Engine) send(ctx context.Context, conn *models.Connection, conv *models.Conversation, kind models.MessageKind, body, mediaURL, caption string) {
	var err error
	switch kind {
	case models.MessageKindText:
		err = e.sender.SendText(ctx, conn, conv.ContactPhone, body)
	case models.MessageKindImage:
		err = e.sender.SendImage(ctx, conn, conv.ContactPhone, mediaURL, caption)
	case models.MessageKindVideo:
		err = e.sender.SendVideo(ctx, conn, conv.ContactPhone, mediaURL, caption)
	case models.MessageKindAudio:
		err = e.sender.SendAudio(ctx, conn, conv.ContactPhone, mediaURL)
	default:
		err = fmt.Errorf("unsupported outbound kind: %s", kind)
	}
	if err != nil {
		slog.Error("Engine.send: send failed", "conversationID", conv.ID, "kind", kind, "error", err)
		return
	}
	if body == "" {
		body = caption
	}
	e.recordMessage(conv, models.MessageDirectionOutbound, kind, body, mediaURL)
}

func (e *Engine) sendMedia(ctx context.Context, conn *models.Connection, conv *models.Conversation, kind models.MessageKind, data models.NodeData) {
	mediaURL := Substitute(data.MediaURL, conv.Variables)
	caption := Substitute(data.Caption, conv.Variables)
	e.send(ctx, conn, conv, kind, "", mediaURL, caption)
}

// recordMessage persists a chat message row, best effort.
func (e *Engine) recordMessage(conv *models.Conversation, direction models.MessageDirection, kind models.MessageKind, body, mediaURL string) {
	msg := models.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		ConnectionID:   conv.ConnectionID,
		ContactPhone:   conv.ContactPhone,
		Direction:      direction,
		Kind:           kind,
		Body:           body,
		MediaURL:       mediaURL,
		SentAt:         time.Now(),
	}
	if err := e.store.AddChatMessage(msg); err != nil {
		slog.Error("Engine.recordMessage: failed to record message", "conversationID", conv.ID, "direction", direction, "error", err)
	}
}

// pace applies the inter-send delay, respecting context cancellation.
func (e *Engine) pace(ctx context.Context) {
	if e.sendPacing <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.sendPacing):
	}
}

func (e *Engine) persist(conv *models.Conversation) error {
	if err := e.store.UpdateConversation(*conv); err != nil {
		return fmt.Errorf("failed to persist conversation %s: %w", conv.ID, err)
	}
	return nil
}
