package ports

import (
	"context"
	"errors"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
)

// Persistence errors shared by every repository implementation
var (
	ErrVersionConflict = errors.New("record version conflict")
	ErrNonceApplied    = errors.New("nonce already applied to record")
	ErrRecordExists    = errors.New("record already exists")
	ErrReportExists    = errors.New("anomaly report already exists")
)

// KillSwitchRepository defines the interface for kill switch persistence.
// Implementations never hand out references to stored records.
type KillSwitchRepository interface {
	// Get retrieves a record and its full audit log
	Get(ctx context.Context, key domain.EntityKey) (*domain.KillSwitchRecord, error)

	// Create stores a freshly initialised record. Returns ErrRecordExists
	// if another writer created it first.
	Create(ctx context.Context, record *domain.KillSwitchRecord) error

	// Save atomically writes the live fields and every audit entry not yet
	// stored, provided the stored version still equals expectedVersion.
	// A non-empty nonce is recorded in the same write; a nonce seen before
	// yields ErrNonceApplied and nothing is written.
	Save(ctx context.Context, record *domain.KillSwitchRecord, expectedVersion int64, nonce string) error

	// List retrieves records matching the filter, ordered by key
	List(ctx context.Context, filter domain.RecordFilter) ([]*domain.KillSwitchRecord, error)

	// Keys lists every stored entity key
	Keys(ctx context.Context) ([]domain.EntityKey, error)
}

// AnomalyRepository defines the interface for anomaly report persistence.
// Reports are append-only apart from resolution.
type AnomalyRepository interface {
	// Create saves a new report. Returns ErrReportExists for a known id.
	Create(ctx context.Context, report *domain.AnomalyReport) error

	// FindByID retrieves a report by its id
	FindByID(ctx context.Context, id string) (*domain.AnomalyReport, error)

	// Resolve writes the resolution fields of a report
	Resolve(ctx context.Context, report *domain.AnomalyReport) error

	// List retrieves reports matching the filter, newest first
	List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyReport, error)
}
