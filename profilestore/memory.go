package profilestore

import (
	"context"
	"sync"
	"time"

	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
)

// Memory is an in-process profile table. A missing row is created empty on
// first read, like the sign-up trigger of the hosted table.
type Memory struct {
	mu   sync.Mutex
	rows map[string]storeauth.Profile
	now  func() time.Time
}

// NewMemory returns an empty table. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{rows: make(map[string]storeauth.Profile), now: now}
}

func (m *Memory) FetchProfile(_ context.Context, userID string) (*storeauth.Profile, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[userID]
	if !ok {
		ts := m.now().UTC()
		row = storeauth.Profile{ID: userID, CreatedAt: ts, UpdatedAt: ts}
		m.rows[userID] = row
	}
	return &row, nil
}

func (m *Memory) UpdateProfile(_ context.Context, userID string, update storeauth.ProfileUpdate) (*storeauth.Profile, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().UTC()
	row, ok := m.rows[userID]
	if !ok {
		row = storeauth.Profile{ID: userID, CreatedAt: ts}
	}
	applyUpdate(&row, update)
	row.UpdatedAt = ts
	m.rows[userID] = row
	return &row, nil
}

func applyUpdate(p *storeauth.Profile, u storeauth.ProfileUpdate) {
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
}
