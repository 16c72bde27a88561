package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an AccountStore kept in process memory, for local runs
// without Postgres and for tests.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	tokens   map[string]memToken
}

type memToken struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		tokens:   make(map[string]memToken),
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.Email]; ok {
		return ErrEmailTaken
	}
	m.accounts[acct.Email] = acct
	return nil
}

func (m *MemoryStore) AccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (m *MemoryStore) SaveRefreshToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = memToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) RefreshTokenActive(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	return ok && !t.revoked && time.Now().Before(t.expiresAt), nil
}

func (m *MemoryStore) RevokeRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		t.revoked = true
		m.tokens[token] = t
	}
	return nil
}
