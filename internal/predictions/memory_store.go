package predictions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/cardiorisk/internal/pagination"
)

// MemoryStore is an in-memory Store used when no database is configured
// and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// Save appends a copy of rec.
func (m *MemoryStore) Save(ctx context.Context, rec *Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneRecord(rec)
	stored.ID = m.nextID
	m.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	m.records = append(m.records, stored)
	return cloneRecord(stored), nil
}

// List returns one page of matching records ordered by created_at DESC, id DESC.
func (m *MemoryStore) List(ctx context.Context, f Filter, p pagination.Params) ([]*Record, int, error) {
	p = p.Normalize()

	m.mu.RLock()
	matched := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if f.Matches(r) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	start, end := p.Window(len(matched))
	page := make([]*Record, 0, end-start)
	for _, r := range matched[start:end] {
		page = append(page, cloneRecord(r))
	}
	return page, len(matched), nil
}

// Summaries returns the aggregation fields of every record.
func (m *MemoryStore) Summaries(ctx context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, len(m.records))
	for i, r := range m.records {
		out[i] = cloneRecord(r).Summary()
	}
	return out, nil
}
