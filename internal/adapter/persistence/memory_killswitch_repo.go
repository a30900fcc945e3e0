package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// MemoryKillSwitchRepository is a thread-safe in-memory KillSwitchRepository.
// It stores deep copies and enforces the same version and nonce contract as
// the PostgreSQL implementation.
type MemoryKillSwitchRepository struct {
	mu      sync.RWMutex
	records map[domain.EntityKey]*domain.KillSwitchRecord
	nonces  map[domain.EntityKey]map[string]struct{}
}

// NewMemoryKillSwitchRepository creates an empty repository
func NewMemoryKillSwitchRepository() *MemoryKillSwitchRepository {
	return &MemoryKillSwitchRepository{
		records: make(map[domain.EntityKey]*domain.KillSwitchRecord),
		nonces:  make(map[domain.EntityKey]map[string]struct{}),
	}
}

var _ ports.KillSwitchRepository = (*MemoryKillSwitchRepository)(nil)

func (m *MemoryKillSwitchRepository) Get(ctx context.Context, key domain.EntityKey) (*domain.KillSwitchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryKillSwitchRepository) Create(ctx context.Context, record *domain.KillSwitchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := record.Key()
	if _, ok := m.records[key]; ok {
		return ports.ErrRecordExists
	}
	m.records[key] = record.Clone()
	return nil
}

func (m *MemoryKillSwitchRepository) Save(ctx context.Context, record *domain.KillSwitchRecord, expectedVersion int64, nonce string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := record.Key()
	stored, ok := m.records[key]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if nonce != "" {
		if _, seen := m.nonces[key][nonce]; seen {
			return ports.ErrNonceApplied
		}
	}
	if stored.Version != expectedVersion {
		return ports.ErrVersionConflict
	}
	if len(record.AuditLog) < len(stored.AuditLog) {
		return ports.ErrVersionConflict
	}

	saved := record.Clone()
	saved.Version = expectedVersion + 1
	m.records[key] = saved
	if nonce != "" {
		if m.nonces[key] == nil {
			m.nonces[key] = make(map[string]struct{})
		}
		m.nonces[key][nonce] = struct{}{}
	}
	record.Version = saved.Version
	return nil
}

func (m *MemoryKillSwitchRepository) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.KillSwitchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.KillSwitchRecord
	for _, rec := range m.records {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

func (m *MemoryKillSwitchRepository) Keys(ctx context.Context) ([]domain.EntityKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]domain.EntityKey, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
