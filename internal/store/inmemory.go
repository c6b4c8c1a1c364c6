// Package store provides storage backends for ZapFlow.
//
// This file implements an in-memory store used by tests and by deployments
// without a configured database DSN.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zapflowhq/zapflow/internal/models"
)

// InMemoryStore keeps all rows in maps guarded by one mutex. It implements
// both Store and JobRepo.
type InMemoryStore struct {
	mu            sync.Mutex
	connections   map[string]models.Connection
	flows         map[string]models.Flow
	conversations map[string]models.Conversation
	messages      []models.ChatMessage
	notifications []models.Notification
	campaigns     map[string]models.Campaign
	recipients    map[string]models.CampaignRecipient
	jobs          map[string]Job
}

var (
	_ Store   = (*InMemoryStore)(nil)
	_ JobRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		connections:   make(map[string]models.Connection),
		flows:         make(map[string]models.Flow),
		conversations: make(map[string]models.Conversation),
		campaigns:     make(map[string]models.Campaign),
		recipients:    make(map[string]models.CampaignRecipient),
		jobs:          make(map[string]Job),
	}
}

func (s *InMemoryStore) Close() error { return nil }

// --- Connections ---

func (s *InMemoryStore) GetConnection(id string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.connections[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetConnectionByToken(token string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connections {
		if c.InstanceToken == token {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SaveConnection(c models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.ID] = c
	return nil
}

func (s *InMemoryStore) UpdateConnectionStatus(id string, status models.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return fmt.Errorf("connection %s not found", id)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	s.connections[id] = c
	return nil
}

// --- Flows ---

func (s *InMemoryStore) GetFlow(id string) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[id]; ok {
		return &f, nil
	}
	return nil, nil
}

func (s *InMemoryStore) ListActiveFlows(connectionID string) ([]models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flows []models.Flow
	for _, f := range s.flows {
		if f.ConnectionID == connectionID && f.IsActive {
			flows = append(flows, f)
		}
	}
	// Map iteration order is random; mirror the SQL ORDER BY created_at.
	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.Before(flows[j].CreatedAt) })
	return flows, nil
}

func (s *InMemoryStore) SaveFlow(f models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
	return nil
}

// --- Conversations ---

func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetActiveConversation(connectionID, contactPhone string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ConnectionID == connectionID && c.ContactPhone == contactPhone && c.Status == models.ConversationActive {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) CreateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conversations {
		if existing.ConnectionID == c.ConnectionID && existing.ContactPhone == c.ContactPhone && existing.Status == models.ConversationActive {
			return fmt.Errorf("active conversation already exists for %s on %s", c.ContactPhone, c.ConnectionID)
		}
	}
	s.conversations[c.ID] = c
	return nil
}

func (s *InMemoryStore) UpdateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; !ok {
		return fmt.Errorf("conversation %s not found", c.ID)
	}
	c.UpdatedAt = time.Now()
	s.conversations[c.ID] = c
	return nil
}

// --- Chat messages ---

func (s *InMemoryStore) AddChatMessage(m models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) CountInboundMessages(connectionID, contactPhone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages {
		if m.ConnectionID == connectionID && m.ContactPhone == contactPhone && m.Direction == models.MessageDirectionInbound {
			count++
		}
	}
	return count, nil
}

// Messages returns a copy of all stored chat messages (for tests).
func (s *InMemoryStore) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// --- Notifications ---

func (s *InMemoryStore) AddNotification(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *InMemoryStore) ListNotifications(userID string) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

// --- Campaigns ---

func (s *InMemoryStore) GetCampaign(id string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) SaveCampaign(c models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	return nil
}

func (s *InMemoryStore) UpdateCampaignStatus(id string, status models.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s not found", id)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	s.campaigns[id] = c
	return nil
}

func (s *InMemoryStore) ListDueCampaigns(now time.Time) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Campaign
	for _, c := range s.campaigns {
		if c.Status != models.CampaignStatusScheduled {
			continue
		}
		if c.ScheduledFor == nil || !c.ScheduledFor.After(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddCampaignRecipients(recipients []models.CampaignRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recipients {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.recipients[r.ID] = r
	}
	return nil
}

func (s *InMemoryStore) ListPendingRecipients(campaignID string, limit int) ([]models.CampaignRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CampaignRecipient
	for _, r := range s.recipients {
		if r.CampaignID == campaignID && r.Status == models.RecipientStatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) UpdateRecipientStatus(id string, status models.RecipientStatus, lastError string, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return fmt.Errorf("recipient %s not found", id)
	}
	r.Status = status
	r.LastError = lastError
	r.SentAt = sentAt
	s.recipients[id] = r
	return nil
}

// --- Jobs ---

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := Job{
		ID:          "job_" + uuid.NewString(),
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: 3,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = JobStatusRunning
		lockedAt := now
		due[i].LockedAt = &lockedAt
		s.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	return s.setJobStatus(id, JobStatusDone)
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	return s.setJobStatus(id, JobStatusCanceled)
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return &j, nil
	}
	return nil, nil
}

func (s *InMemoryStore) setJobStatus(id string, status JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	j.Status = status
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}
