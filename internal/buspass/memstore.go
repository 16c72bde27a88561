package buspass

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory, for local runs without
// Postgres and for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	audit   []AuditEntry
	now     func() time.Time
}

// AuditEntry is one recorded issuance event.
type AuditEntry struct {
	PassID string
	UserID string
	Event  string
	At     time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ApplicationStatus == "" {
		rec.ApplicationStatus = StatusApproved
	}
	now := m.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *MemoryStore) GetByUser(_ context.Context, userID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID == userID {
			return m.records[i], nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *MemoryStore) RecordAudit(_ context.Context, passID, userID, event string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, AuditEntry{PassID: passID, UserID: userID, Event: event, At: at})
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *MemoryStore) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}
