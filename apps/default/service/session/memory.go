package session

import (
	"context"
	"sync"
	"time"

	"github.com/antinvestor/service-checkout/apps/default/service/utility"
	"github.com/shopspring/decimal"
)

type memoryEntry struct {
	state     *State
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. It suits tests and single node
// deployments; sessions are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	return entry.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stored := state.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	m.entries[stored.ID] = &memoryEntry{state: stored, expiresAt: m.expiry(now)}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(id)
	if !ok {
		return nil, ErrNotFound
	}

	next := entry.state.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	now := m.now()
	next.UpdatedAt = now
	entry.state = next
	entry.expiresAt = m.expiry(now)
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) FindByTransaction(_ context.Context, transactionID string) (*State, error) {
	if transactionID == "" {
		return nil, ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.entries {
		entry, ok := m.live(id)
		if ok && entry.state.TransactionID == transactionID {
			return entry.state.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByAmount(_ context.Context, amount decimal.Decimal) ([]*State, error) {
	key := utility.AmountKey(amount)

	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*State
	for id := range m.entries {
		entry, ok := m.live(id)
		if ok && entry.state.awaitingTill() && utility.AmountKey(entry.state.Amount) == key {
			matches = append(matches, entry.state.Clone())
		}
	}
	return matches, nil
}

// live returns the entry for id, evicting it when expired. Callers hold mu.
func (m *MemoryStore) live(id string) (*memoryEntry, bool) {
	entry, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.entries, id)
		return nil, false
	}
	return entry, true
}

func (m *MemoryStore) expiry(now time.Time) time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(m.ttl)
}
