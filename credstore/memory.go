package credstore

import (
	"context"
	"sync"

	goGate "github.com/MrEthical07/goGate"
)

var (
	_ goGate.CredentialStore     = (*Memory)(nil)
	_ goGate.IdentityCreator     = (*Memory)(nil)
	_ goGate.PasswordHashUpdater = (*Memory)(nil)
)

// Memory is a process-local credential store for development and tests.
type Memory struct {
	mu     sync.RWMutex
	next   int64
	byID   map[int64]goGate.Identity
	byName map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[int64]goGate.Identity),
		byName: make(map[string]int64),
	}
}

func (m *Memory) FindByUsername(ctx context.Context, username string) (goGate.Identity, error) {
	if err := ctx.Err(); err != nil {
		return goGate.Identity{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[username]
	if !ok {
		return goGate.Identity{}, goGate.ErrIdentityNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) FindByID(ctx context.Context, id int64) (goGate.Identity, error) {
	if err := ctx.Err(); err != nil {
		return goGate.Identity{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	identity, ok := m.byID[id]
	if !ok {
		return goGate.Identity{}, goGate.ErrIdentityNotFound
	}
	return identity, nil
}

// CreateIdentity assigns the next id. Usernames are unique.
func (m *Memory) CreateIdentity(ctx context.Context, username, passwordHash string) (goGate.Identity, error) {
	if err := ctx.Err(); err != nil {
		return goGate.Identity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[username]; ok {
		return goGate.Identity{}, goGate.ErrIdentityExists
	}
	m.next++
	identity := goGate.Identity{ID: m.next, Username: username, PasswordHash: passwordHash}
	m.byID[identity.ID] = identity
	m.byName[username] = identity.ID
	return identity, nil
}

func (m *Memory) UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.byID[id]
	if !ok {
		return goGate.ErrIdentityNotFound
	}
	identity.PasswordHash = passwordHash
	m.byID[id] = identity
	return nil
}

// Len returns the number of stored identities.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
