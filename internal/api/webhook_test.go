package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/testutil"
)

func seedFirstMessageFlow(t *testing.T, ts *testutil.TestServer) {
	t.Helper()
	err := ts.Store.SaveFlow(models.Flow{
		ID:           "flow1",
		UserID:       "user1",
		ConnectionID: "conn1",
		IsActive:     true,
		TriggerType:  models.TriggerFirstMessage,
		FlowData: models.FlowData{
			StartNode: "m1",
			Nodes: []models.Node{
				{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Bem-vindo!"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed flow: %v", err)
	}
}

func postWebhook(t *testing.T, ts *testutil.TestServer, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	ts.Server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeWebhookResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode webhook response: %v", err)
	}
	return resp
}

func TestWebhookVendorEnvelope(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ts.SeedConnection(t)
	seedFirstMessageFlow(t, ts)

	payload := `{
		"instanceName": "tok123",
		"userID": "user1",
		"event": {
			"Info": {"Sender": "5511999990000:12@s.whatsapp.net", "Chat": "5511999990000@s.whatsapp.net"},
			"Message": {"conversation": "oi"}
		}
	}`
	rr := postWebhook(t, ts, payload)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "vendor envelope webhook")
	resp := decodeWebhookResponse(t, rr)
	if resp["success"] != true {
		t.Errorf("expected success response, got %+v", resp)
	}
	if len(ts.Sender.Sent()) != 1 {
		t.Errorf("expected flow to send one message, got %d", len(ts.Sender.Sent()))
	}

	conv, err := ts.Store.GetActiveConversation("conn1", "5511999990000")
	if err != nil || conv == nil {
		t.Fatalf("expected conversation for normalized sender, got %v (err %v)", conv, err)
	}
}

func TestWebhookLegacyFlatShape(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ts.SeedConnection(t)
	seedFirstMessageFlow(t, ts)

	payload := `{"token": "tok123", "from": "5511999990000", "body": "oi"}`
	rr := postWebhook(t, ts, payload)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "legacy flat webhook")
	if len(ts.Sender.Sent()) != 1 {
		t.Errorf("expected flow to send one message, got %d", len(ts.Sender.Sent()))
	}
}

func TestWebhookLegacyNestedBody(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ts.SeedConnection(t)
	seedFirstMessageFlow(t, ts)

	payload := `{"token": "tok123", "from": "5511999990000", "body": {"message": "oi"}}`
	rr := postWebhook(t, ts, payload)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "legacy nested body webhook")
}

func TestWebhookMalformedJSON(t *testing.T) {
	ts := testutil.NewTestServer(t)
	rr := postWebhook(t, ts, `{not json`)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed webhook")
	resp := decodeWebhookResponse(t, rr)
	if resp["success"] != false || resp["error"] == "" {
		t.Errorf("expected error response, got %+v", resp)
	}
}

func TestWebhookMissingToken(t *testing.T) {
	ts := testutil.NewTestServer(t)
	rr := postWebhook(t, ts, `{"from": "5511", "body": "oi"}`)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing token")
}

func TestWebhookMissingText(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ts.SeedConnection(t)
	rr := postWebhook(t, ts, `{"token": "tok123", "from": "5511"}`)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing text")
}

func TestWebhookUnknownToken(t *testing.T) {
	ts := testutil.NewTestServer(t)
	rr := postWebhook(t, ts, `{"token": "nope", "from": "5511", "body": "oi"}`)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown token")
}

func TestWebhookNoMatchingFlowStillSucceeds(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ts.SeedConnection(t)
	// No flows configured: the webhook is handled, nothing runs.
	rr := postWebhook(t, ts, `{"token": "tok123", "from": "5511", "body": "oi"}`)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "no matching flow")
	resp := decodeWebhookResponse(t, rr)
	if resp["message"] != "no matching flow" {
		t.Errorf("expected no matching flow message, got %+v", resp)
	}
}

func TestWebhookTokenCacheServesRepeatLookups(t *testing.T) {
	ts := testutil.NewTestServer(t)
	conn := ts.SeedConnection(t)
	seedFirstMessageFlow(t, ts)

	if rr := postWebhook(t, ts, `{"token": "tok123", "from": "5511", "body": "oi"}`); rr.Code != http.StatusOK {
		t.Fatalf("first webhook failed with %d", rr.Code)
	}

	// Even if the row disappears, the cached token still resolves within TTL.
	conn.InstanceToken = "rotated"
	if err := ts.Store.SaveConnection(conn); err != nil {
		t.Fatalf("failed to update connection: %v", err)
	}
	rr := postWebhook(t, ts, `{"token": "tok123", "from": "5511", "body": "de novo"}`)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "cached token lookup")
}
