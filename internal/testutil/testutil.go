// Package testutil provides common test utilities and helpers for ZapFlow tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zapflowhq/zapflow/internal/api"
	"github.com/zapflowhq/zapflow/internal/campaign"
	"github.com/zapflowhq/zapflow/internal/flow"
	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/notify"
	"github.com/zapflowhq/zapflow/internal/store"
)

// TestServer bundles an API server with its in-memory collaborators so tests
// can assert against them.
type TestServer struct {
	Server *api.Server
	Store  *store.InMemoryStore
	Sender *messaging.MockService
}

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across test files.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	st := store.NewInMemoryStore()
	sender := messaging.NewMockService()
	notifier := notify.NewStoreNotifier(st)

	engine, err := flow.NewEngine(
		flow.WithStore(st),
		flow.WithJobRepo(st),
		flow.WithSender(sender),
		flow.WithNotifier(notifier),
		flow.WithSendPacing(0),
	)
	if err != nil {
		t.Fatalf("failed to create flow engine: %v", err)
	}

	dispatcher, err := campaign.NewDispatcher(
		campaign.WithStore(st),
		campaign.WithSender(sender),
		campaign.WithNotifier(notifier),
		campaign.WithSendPacing(0),
	)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	srv, err := api.NewServer(
		api.WithStore(st),
		api.WithEngine(engine),
		api.WithSender(sender),
		api.WithDispatcher(dispatcher),
	)
	if err != nil {
		t.Fatalf("failed to create API server: %v", err)
	}

	return &TestServer{Server: srv, Store: st, Sender: sender}
}

// SeedConnection stores a connected gateway connection and returns it.
func (ts *TestServer) SeedConnection(t *testing.T) models.Connection {
	t.Helper()
	conn := models.Connection{
		ID:            "conn1",
		UserID:        "user1",
		Name:          "Vendas",
		InstanceToken: "tok123",
		Status:        models.ConnectionStatusConnected,
	}
	if err := ts.Store.SaveConnection(conn); err != nil {
		t.Fatalf("failed to seed connection: %v", err)
	}
	return conn
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
