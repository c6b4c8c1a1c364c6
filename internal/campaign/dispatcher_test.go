package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/notify"
	"github.com/zapflowhq/zapflow/internal/store"
)

func newTestDispatcher(t *testing.T, st *store.InMemoryStore) (*Dispatcher, *messaging.MockService) {
	t.Helper()
	sender := messaging.NewMockService()
	d, err := NewDispatcher(
		WithStore(st),
		WithSender(sender),
		WithNotifier(notify.NewStoreNotifier(st)),
		WithSendPacing(0),
	)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	return d, sender
}

func seedConnection(t *testing.T, st *store.InMemoryStore) {
	t.Helper()
	if err := st.SaveConnection(models.Connection{
		ID: "conn1", UserID: "user1", Name: "Vendas",
		InstanceToken: "tok", Status: models.ConnectionStatusConnected,
	}); err != nil {
		t.Fatalf("SaveConnection failed: %v", err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	st := store.NewInMemoryStore()
	d, _ := newTestDispatcher(t, st)

	_, err := d.Enqueue(context.Background(), models.Campaign{ConnectionID: "conn1", Body: "oi"}, nil)
	if err == nil {
		t.Error("expected error for empty recipient list")
	}
	_, err = d.Enqueue(context.Background(), models.Campaign{Body: "oi"}, []models.CampaignRecipient{{Phone: "5511"}})
	if err == nil {
		t.Error("expected error for missing connection")
	}
	_, err = d.Enqueue(context.Background(), models.Campaign{ConnectionID: "conn1"}, []models.CampaignRecipient{{Phone: "5511"}})
	if err != models.ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestDispatchSubstitutesPerRecipient(t *testing.T) {
	st := store.NewInMemoryStore()
	d, sender := newTestDispatcher(t, st)
	seedConnection(t, st)

	id, err := d.Enqueue(context.Background(),
		models.Campaign{UserID: "user1", ConnectionID: "conn1", Name: "Promo", Body: "Olá {{nome}}, temos novidades!"},
		[]models.CampaignRecipient{
			{Phone: "5511111111111", Variables: map[string]string{"nome": "Ana"}},
			{Phone: "5522222222222", Variables: map[string]string{"nome": "Bruno"}},
		},
	)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.DispatchDue(context.Background())

	sent := sender.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	bodies := map[string]bool{}
	for _, m := range sent {
		bodies[m.Body] = true
	}
	if !bodies["Olá Ana, temos novidades!"] || !bodies["Olá Bruno, temos novidades!"] {
		t.Errorf("expected substituted bodies, got %+v", bodies)
	}

	c, err := st.GetCampaign(id)
	if err != nil {
		t.Fatalf("GetCampaign failed: %v", err)
	}
	if c.Status != models.CampaignStatusDone {
		t.Errorf("expected campaign done, got %s", c.Status)
	}

	pending, _ := st.ListPendingRecipients(id, 0)
	if len(pending) != 0 {
		t.Errorf("expected no pending recipients, got %d", len(pending))
	}

	notifications, _ := st.ListNotifications("user1")
	if len(notifications) != 1 || notifications[0].Type != models.NotificationTypeCampaign {
		t.Errorf("expected a campaign completion notification, got %+v", notifications)
	}
}

func TestDispatchSkipsFutureCampaigns(t *testing.T) {
	st := store.NewInMemoryStore()
	d, sender := newTestDispatcher(t, st)
	seedConnection(t, st)

	future := time.Now().Add(time.Hour)
	_, err := d.Enqueue(context.Background(),
		models.Campaign{UserID: "user1", ConnectionID: "conn1", Body: "mais tarde", ScheduledFor: &future},
		[]models.CampaignRecipient{{Phone: "5511"}},
	)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.DispatchDue(context.Background())
	if len(sender.Sent()) != 0 {
		t.Errorf("future campaign must not dispatch, sent %+v", sender.Sent())
	}
}

func TestDispatchRecordsFailures(t *testing.T) {
	st := store.NewInMemoryStore()
	d, sender := newTestDispatcher(t, st)
	seedConnection(t, st)
	sender.Err = context.DeadlineExceeded

	id, err := d.Enqueue(context.Background(),
		models.Campaign{UserID: "user1", ConnectionID: "conn1", Body: "oi"},
		[]models.CampaignRecipient{{Phone: "5511"}},
	)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.DispatchDue(context.Background())

	c, _ := st.GetCampaign(id)
	if c.Status != models.CampaignStatusFailed {
		t.Errorf("expected campaign failed when every send fails, got %s", c.Status)
	}
}

// brokenStatusStore fails every recipient status write, leaving recipients
// permanently pending.
type brokenStatusStore struct {
	*store.InMemoryStore
}

func (s *brokenStatusStore) UpdateRecipientStatus(id string, status models.RecipientStatus, lastError string, sentAt *time.Time) error {
	return context.DeadlineExceeded
}

func TestDispatchAbortsWhenStatusWriteFails(t *testing.T) {
	st := store.NewInMemoryStore()
	broken := &brokenStatusStore{InMemoryStore: st}
	sender := messaging.NewMockService()
	d, err := NewDispatcher(
		WithStore(broken),
		WithSender(sender),
		WithNotifier(notify.NewStoreNotifier(st)),
		WithSendPacing(0),
	)
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}
	seedConnection(t, st)

	id, err := d.Enqueue(context.Background(),
		models.Campaign{UserID: "user1", ConnectionID: "conn1", Body: "oi"},
		[]models.CampaignRecipient{{Phone: "5511"}},
	)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.DispatchDue(context.Background())

	// The recipient stayed pending, so the pass must stop after one send
	// rather than re-sending the same message in a loop.
	if got := len(sender.Sent()); got != 1 {
		t.Fatalf("expected exactly 1 send when status writes fail, got %d", got)
	}
	c, _ := st.GetCampaign(id)
	if c.Status == models.CampaignStatusDone {
		t.Errorf("campaign must not be marked done after an aborted pass, got %s", c.Status)
	}
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	st := store.NewInMemoryStore()
	d, sender := newTestDispatcher(t, st)
	seedConnection(t, st)

	_, err := d.Enqueue(context.Background(),
		models.Campaign{UserID: "user1", ConnectionID: "conn1", Body: "oi"},
		[]models.CampaignRecipient{{Phone: "5511"}},
	)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.DispatchDue(ctx)

	if got := len(sender.Sent()); got != 0 {
		t.Errorf("cancelled context must stop dispatch before sending, got %d sends", got)
	}
}

func TestDispatchMediaCampaignUsesBodyAsCaption(t *testing.T) {
	st := store.NewInMemoryStore()
	d, sender := newTestDispatcher(t, st)
	seedConnection(t, st)

	_, err := d.Enqueue(context.Background(),
		models.Campaign{
			UserID: "user1", ConnectionID: "conn1", Body: "Confira {{nome}}",
			MediaKind: models.MessageKindImage, MediaPayload: "data:image/png;base64,aWVn",
		},
		[]models.CampaignRecipient{{Phone: "5511", Variables: map[string]string{"nome": "Ana"}}},
	)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	d.DispatchDue(context.Background())

	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Kind != models.MessageKindImage {
		t.Fatalf("expected one image send, got %+v", sent)
	}
	if sent[0].Caption != "Confira Ana" {
		t.Errorf("expected substituted caption, got %q", sent[0].Caption)
	}
}
