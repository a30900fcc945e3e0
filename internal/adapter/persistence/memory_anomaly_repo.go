package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// MemoryAnomalyRepository is a thread-safe in-memory AnomalyRepository
type MemoryAnomalyRepository struct {
	mu      sync.RWMutex
	reports map[string]*domain.AnomalyReport
}

// NewMemoryAnomalyRepository creates an empty repository
func NewMemoryAnomalyRepository() *MemoryAnomalyRepository {
	return &MemoryAnomalyRepository{reports: make(map[string]*domain.AnomalyReport)}
}

var _ ports.AnomalyRepository = (*MemoryAnomalyRepository)(nil)

func (m *MemoryAnomalyRepository) Create(ctx context.Context, report *domain.AnomalyReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reports[report.ID]; ok {
		return ports.ErrReportExists
	}
	m.reports[report.ID] = cloneReport(report)
	return nil
}

func (m *MemoryAnomalyRepository) FindByID(ctx context.Context, id string) (*domain.AnomalyReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[id]
	if !ok {
		return nil, domain.ErrReportNotFound
	}
	return cloneReport(r), nil
}

// Resolve only copies the resolution fields; the rest of a report is immutable.
func (m *MemoryAnomalyRepository) Resolve(ctx context.Context, report *domain.AnomalyReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.reports[report.ID]
	if !ok {
		return domain.ErrReportNotFound
	}
	if stored.Resolved {
		return domain.ErrReportResolved
	}
	resolved := cloneReport(report)
	stored.Resolved = resolved.Resolved
	stored.ResolvedAt = resolved.ResolvedAt
	stored.ResolvedBy = resolved.ResolvedBy
	stored.ResolutionNotes = resolved.ResolutionNotes
	return nil
}

func (m *MemoryAnomalyRepository) List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.AnomalyReport
	for _, r := range m.reports {
		if matchesAnomalyFilter(r, filter) {
			out = append(out, cloneReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*domain.AnomalyReport{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesAnomalyFilter(r *domain.AnomalyReport, f domain.AnomalyFilter) bool {
	if f.EntityType != nil && r.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && r.EntityID != *f.EntityID {
		return false
	}
	if f.RegionID != nil && r.RegionID != *f.RegionID {
		return false
	}
	if f.AnomalyType != nil && r.AnomalyType != *f.AnomalyType {
		return false
	}
	if f.UnresolvedOnly && r.Resolved {
		return false
	}
	return true
}

func cloneReport(r *domain.AnomalyReport) *domain.AnomalyReport {
	c := *r
	if r.Evidence != nil {
		c.Evidence = make(map[string]string, len(r.Evidence))
		for k, v := range r.Evidence {
			c.Evidence[k] = v
		}
	}
	if r.ResolvedAt != nil {
		at := *r.ResolvedAt
		c.ResolvedAt = &at
	}
	if r.ResolvedBy != nil {
		by := *r.ResolvedBy
		c.ResolvedBy = &by
	}
	if r.ResolutionNotes != nil {
		notes := *r.ResolutionNotes
		c.ResolutionNotes = &notes
	}
	return &c
}
