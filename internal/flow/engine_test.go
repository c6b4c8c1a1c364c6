package flow

import (
	"context"
	"testing"
	"time"

	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/notify"
	"github.com/zapflowhq/zapflow/internal/store"
)

const (
	testConnID = "conn1"
	testUserID = "user1"
	testPhone  = "5511999990000"
)

func newTestEngine(t *testing.T, st *store.InMemoryStore) (*Engine, *messaging.MockService) {
	t.Helper()
	sender := messaging.NewMockService()
	eng, err := NewEngine(
		WithStore(st),
		WithJobRepo(st),
		WithSender(sender),
		WithNotifier(notify.NewStoreNotifier(st)),
		WithSendPacing(0),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng, sender
}

func testConnection(t *testing.T, st *store.InMemoryStore) *models.Connection {
	t.Helper()
	conn := models.Connection{
		ID:            testConnID,
		UserID:        testUserID,
		Name:          "Vendas",
		InstanceToken: "tok123",
		Status:        models.ConnectionStatusConnected,
	}
	if err := st.SaveConnection(conn); err != nil {
		t.Fatalf("SaveConnection failed: %v", err)
	}
	return &conn
}

func saveFlow(t *testing.T, st *store.InMemoryStore, fl models.Flow) {
	t.Helper()
	if fl.ID == "" {
		fl.ID = "flow1"
	}
	fl.UserID = testUserID
	fl.ConnectionID = testConnID
	fl.IsActive = true
	if err := st.SaveFlow(fl); err != nil {
		t.Fatalf("SaveFlow failed: %v", err)
	}
}

func activeConversation(t *testing.T, st *store.InMemoryStore) *models.Conversation {
	t.Helper()
	conv, err := st.GetActiveConversation(testConnID, testPhone)
	if err != nil {
		t.Fatalf("GetActiveConversation failed: %v", err)
	}
	if conv == nil {
		t.Fatal("expected an active conversation")
	}
	return conv
}

func TestFirstMessageTriggerCreatesConversation(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	conn := testConnection(t, st)

	// No explicit startNode: the first message-type node is the entry point.
	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			Nodes: []models.Node{
				{ID: "end1", Type: models.NodeTypeEnd},
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Bem-vindo!"}},
			},
		},
	})

	if _, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi"); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}

	conv := activeConversation(t, st)
	if conv.CurrentNodeID != "m1" {
		t.Errorf("expected conversation positioned at m1, got %q", conv.CurrentNodeID)
	}
	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Body != "Bem-vindo!" {
		t.Errorf("expected welcome message sent, got %+v", sent)
	}
}

func TestFirstMessageTriggerSkipsKnownContact(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, _ := newTestEngine(t, st)
	conn := testConnection(t, st)

	if err := st.AddChatMessage(models.ChatMessage{
		ID: "m0", ConnectionID: testConnID, ContactPhone: testPhone,
		Direction: models.MessageDirectionInbound,
	}); err != nil {
		t.Fatalf("AddChatMessage failed: %v", err)
	}

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			Nodes: []models.Node{{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "oi"}}},
		},
	})

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi de novo")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary != "no matching flow" {
		t.Errorf("expected no matching flow, got %q", summary)
	}
}

func TestKeywordTrigger(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, _ := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType:     models.TriggerKeyword,
		TriggerKeywords: []string{"promoção", "oferta"},
		FlowData: models.FlowData{
			Nodes: []models.Node{{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Nossas ofertas"}}},
		},
	})

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "tem alguma OFERTA hoje?")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary == "no matching flow" {
		t.Fatal("expected keyword trigger to fire")
	}
	activeConversation(t, st)
}

func TestManualTriggerNeverFires(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, _ := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerManual,
		FlowData: models.FlowData{
			Nodes: []models.Node{{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "oi"}}},
		},
	})

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary != "no matching flow" {
		t.Errorf("manual trigger fired: %q", summary)
	}
}

func TestTransferKeywordHandsOff(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, _ := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		Settings:    models.FlowSettings{TransferKeyword: "atendente"},
		FlowData: models.FlowData{
			Nodes: []models.Node{{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "oi"}}},
		},
	})

	if _, err := eng.HandleInbound(context.Background(), conn, testPhone, "quero falar com atendente"); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}

	conv, err := st.GetActiveConversation(testConnID, testPhone)
	if err != nil {
		t.Fatalf("GetActiveConversation failed: %v", err)
	}
	if conv != nil {
		t.Fatal("expected no active conversation after transfer")
	}

	notifications, err := st.ListNotifications(testUserID)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifications))
	}
	n := notifications[0]
	if n.Type != models.NotificationTypeTransfer || n.ConversationID == "" {
		t.Errorf("expected transfer notification referencing conversation, got %+v", n)
	}

	transferred, err := st.GetConversation(n.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if transferred.Status != models.ConversationTransferred {
		t.Errorf("expected status transferred, got %s", transferred.Status)
	}
	if transferred.CurrentNodeID != "" {
		t.Errorf("expected cleared node position, got %q", transferred.CurrentNodeID)
	}
}

func TestExitKeywordCompletes(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		Settings:    models.FlowSettings{ExitKeyword: "sair"},
		FlowData: models.FlowData{
			Nodes: []models.Node{{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "oi"}}},
		},
	})

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "quero SAIR daqui")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary != "conversation completed by exit keyword" {
		t.Errorf("unexpected summary %q", summary)
	}
	if len(sender.Sent()) != 1 {
		t.Errorf("expected one closing message, got %d", len(sender.Sent()))
	}
}

func TestConditionRoutesOnResume(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	conn := testConnection(t, st)

	fl := models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "m1",
			Nodes: []models.Node{
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Quer receber ofertas?"}},
				{ID: "c1", Type: models.NodeTypeCondition, Data: models.NodeData{Operator: models.OperatorContains, Value: "sim"}},
				{ID: "yes", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Ótimo!"}},
				{ID: "no", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Tudo bem."}},
			},
			Edges: []models.Edge{
				{ID: "e1", From: "m1", To: "c1"},
				{ID: "e2", From: "c1", To: "yes", SourceHandle: "true"},
				{ID: "e3", From: "c1", To: "no", SourceHandle: "false"},
			},
		},
	}
	saveFlow(t, st, fl)

	// First message sends the question and halts at the condition node.
	if _, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi"); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	conv := activeConversation(t, st)
	if conv.CurrentNodeID != "c1" {
		t.Fatalf("expected halt at condition node, got %q", conv.CurrentNodeID)
	}

	// The reply routes through the true branch.
	if _, err := eng.HandleInbound(context.Background(), conn, testPhone, "Sim, quero!"); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	sent := sender.Sent()
	last := sent[len(sent)-1]
	if last.Body != "Ótimo!" {
		t.Errorf("expected true-branch message, got %q", last.Body)
	}
}

func TestNoSilentReset(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, _ := newTestEngine(t, st)
	conn := testConnection(t, st)

	fl := models.Flow{
		ID:          "flow1",
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "m1",
			Nodes: []models.Node{
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "oi"}},
				{ID: "m2", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "sem saída"}},
			},
			Edges: []models.Edge{{ID: "e1", From: "m1", To: "m2"}},
		},
	}
	saveFlow(t, st, fl)

	// Park the conversation at m2, which has no outgoing edges.
	conv := models.Conversation{
		ID: "conv1", ConnectionID: testConnID, FlowID: "flow1",
		ContactPhone: testPhone, CurrentNodeID: "m2",
		Status: models.ConversationActive,
	}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "alguma coisa")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary != "no next node; position kept" {
		t.Errorf("unexpected summary %q", summary)
	}
	got := activeConversation(t, st)
	if got.CurrentNodeID != "m2" {
		t.Errorf("position reset: got %q, want m2", got.CurrentNodeID)
	}
}

func TestSaveVariableAction(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "a1",
			Nodes: []models.Node{
				{ID: "a1", Type: models.NodeTypeAction, Data: models.NodeData{
					Action: models.ActionSaveVariable, VariableName: "nome", VariableValue: "{{user_message}}",
				}},
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Olá {{nome}}!"}},
			},
			Edges: []models.Edge{{ID: "e1", From: "a1", To: "m1"}},
		},
	})

	if _, err := eng.HandleInbound(context.Background(), conn, testPhone, "Maria"); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Body != "Olá Maria!" {
		t.Errorf("expected substituted greeting, got %+v", sent)
	}
}

func TestWaitNodeEnqueuesAndResumes(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "m1",
			Nodes: []models.Node{
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "aguarde"}},
				{ID: "w1", Type: models.NodeTypeWait, Data: models.NodeData{Timeout: 300}},
				{ID: "B", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "voltei"}},
			},
			Edges: []models.Edge{
				{ID: "e1", From: "m1", To: "w1"},
				{ID: "e2", From: "w1", To: "B"},
			},
		},
	})

	if _, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi"); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	conv := activeConversation(t, st)
	if conv.CurrentNodeID != "w1" {
		t.Fatalf("expected halt at wait node, got %q", conv.CurrentNodeID)
	}

	// The timer is a durable job due at the wait's expiry.
	jobs, err := st.ClaimDueJobs(time.Now().Add(301*time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Kind != JobKindWaitResume {
		t.Fatalf("expected one wait resume job, got %+v", jobs)
	}

	handler := eng.WaitResumeHandler()
	if err := handler(context.Background(), jobs[0].PayloadJSON); err != nil {
		t.Fatalf("wait resume handler failed: %v", err)
	}

	conv = activeConversation(t, st)
	if conv.CurrentNodeID != "B" {
		t.Errorf("expected conversation at B after wait, got %q", conv.CurrentNodeID)
	}
	sent := sender.Sent()
	if sent[len(sent)-1].Body != "voltei" {
		t.Errorf("expected resumed message, got %+v", sent[len(sent)-1])
	}
}

func TestWaitResumeIsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	testConnection(t, st)

	saveFlow(t, st, models.Flow{
		ID:          "flow1",
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			Nodes: []models.Node{
				{ID: "w1", Type: models.NodeTypeWait},
				{ID: "B", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "voltei"}},
			},
			Edges: []models.Edge{{ID: "e1", From: "w1", To: "B"}},
		},
	})

	// The conversation has already moved past the wait node.
	conv := models.Conversation{
		ID: "conv1", ConnectionID: testConnID, FlowID: "flow1",
		ContactPhone: testPhone, CurrentNodeID: "B",
		Status: models.ConversationActive,
	}
	if err := st.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	handler := eng.WaitResumeHandler()
	if err := handler(context.Background(), `{"conversation_id":"conv1","node_id":"w1"}`); err != nil {
		t.Fatalf("wait resume handler failed: %v", err)
	}
	if len(sender.Sent()) != 0 {
		t.Errorf("stale wait resume must be a no-op, sent %+v", sender.Sent())
	}
}

func TestTransferNode(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "t1",
			Nodes: []models.Node{
				{ID: "t1", Type: models.NodeTypeTransfer, Data: models.NodeData{Text: "Transferindo você"}},
			},
		},
	})

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary != "conversation transferred" {
		t.Errorf("unexpected summary %q", summary)
	}
	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Body != "Transferindo você" {
		t.Errorf("expected transfer message, got %+v", sent)
	}
}

func TestEndNodeCompletes(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, _ := newTestEngine(t, st)
	conn := testConnection(t, st)

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "m1",
			Nodes: []models.Node{
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "tchau"}},
				{ID: "end1", Type: models.NodeTypeEnd},
			},
			Edges: []models.Edge{{ID: "e1", From: "m1", To: "end1"}},
		},
	})

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary != "conversation completed" {
		t.Errorf("unexpected summary %q", summary)
	}
	if conv, _ := st.GetActiveConversation(testConnID, testPhone); conv != nil {
		t.Error("expected no active conversation after end node")
	}
}

func TestSendFailureDoesNotAbortRun(t *testing.T) {
	st := store.NewInMemoryStore()
	eng, sender := newTestEngine(t, st)
	conn := testConnection(t, st)
	sender.Err = context.DeadlineExceeded

	saveFlow(t, st, models.Flow{
		TriggerType: models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "m1",
			Nodes: []models.Node{
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "oi"}},
				{ID: "end1", Type: models.NodeTypeEnd},
			},
			Edges: []models.Edge{{ID: "e1", From: "m1", To: "end1"}},
		},
	})

	summary, err := eng.HandleInbound(context.Background(), conn, testPhone, "oi")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if summary != "conversation completed" {
		t.Errorf("expected run to reach the end node despite send failure, got %q", summary)
	}
}
