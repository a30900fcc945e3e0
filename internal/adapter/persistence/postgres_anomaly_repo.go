package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// PostgresAnomalyRepository implements AnomalyRepository using PostgreSQL
type PostgresAnomalyRepository struct {
	db *sql.DB
}

// NewPostgresAnomalyRepository creates a new PostgreSQL anomaly repository
func NewPostgresAnomalyRepository(db *sql.DB) *PostgresAnomalyRepository {
	return &PostgresAnomalyRepository{db: db}
}

var _ ports.AnomalyRepository = (*PostgresAnomalyRepository)(nil)

const uniqueViolation = "23505"

const anomalyColumns = `id, entity_type, entity_id, region_id, anomaly_type, severity, variance, reported_at,
	reported_by, description, evidence, resolved, resolved_at, resolved_by, resolution_notes`

// Create saves a new anomaly report
func (r *PostgresAnomalyRepository) Create(ctx context.Context, report *domain.AnomalyReport) error {
	var evidenceJSON []byte
	if len(report.Evidence) > 0 {
		var err error
		evidenceJSON, err = json.Marshal(report.Evidence)
		if err != nil {
			return fmt.Errorf("failed to marshal evidence: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO anomaly_reports (`+anomalyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		report.ID,
		report.EntityType,
		report.EntityID,
		report.RegionID,
		string(report.AnomalyType),
		string(report.Severity),
		report.Context.Variance,
		report.ReportedAt,
		report.ReportedBy,
		report.Description,
		evidenceJSON,
		report.Resolved,
		report.ResolvedAt,
		report.ResolvedBy,
		report.ResolutionNotes,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ports.ErrReportExists
		}
		return fmt.Errorf("failed to create anomaly report: %w", err)
	}
	return nil
}

// FindByID retrieves a report by its ID
func (r *PostgresAnomalyRepository) FindByID(ctx context.Context, id string) (*domain.AnomalyReport, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomaly_reports WHERE id = $1`

	report, err := scanAnomaly(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to find anomaly report: %w", err)
	}
	return report, nil
}

// Resolve writes the resolution fields of an unresolved report
func (r *PostgresAnomalyRepository) Resolve(ctx context.Context, report *domain.AnomalyReport) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE anomaly_reports
		SET resolved = TRUE, resolved_at = $2, resolved_by = $3, resolution_notes = $4
		WHERE id = $1 AND resolved = FALSE
	`, report.ID, report.ResolvedAt, report.ResolvedBy, report.ResolutionNotes)
	if err != nil {
		return fmt.Errorf("failed to resolve anomaly report: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := r.FindByID(ctx, report.ID); err != nil {
			return err
		}
		return domain.ErrReportResolved
	}
	return nil
}

// List retrieves reports matching the filter, newest first
func (r *PostgresAnomalyRepository) List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyReport, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.EntityType != nil {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", argIndex))
		args = append(args, *filter.EntityType)
		argIndex++
	}
	if filter.EntityID != nil {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", argIndex))
		args = append(args, *filter.EntityID)
		argIndex++
	}
	if filter.RegionID != nil {
		conditions = append(conditions, fmt.Sprintf("region_id = $%d", argIndex))
		args = append(args, *filter.RegionID)
		argIndex++
	}
	if filter.AnomalyType != nil {
		conditions = append(conditions, fmt.Sprintf("anomaly_type = $%d", argIndex))
		args = append(args, string(*filter.AnomalyType))
		argIndex++
	}
	if filter.UnresolvedOnly {
		conditions = append(conditions, "resolved = FALSE")
	}

	query := `SELECT ` + anomalyColumns + ` FROM anomaly_reports`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY reported_at DESC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomaly reports: %w", err)
	}
	defer rows.Close()

	var reports []*domain.AnomalyReport
	for rows.Next() {
		report, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomaly reports: %w", err)
	}
	return reports, nil
}

func scanAnomaly(row rowScanner) (*domain.AnomalyReport, error) {
	var report domain.AnomalyReport
	var evidenceJSON []byte
	var resolvedAt sql.NullTime
	var resolvedBy, notes sql.NullString

	err := row.Scan(
		&report.ID,
		&report.EntityType,
		&report.EntityID,
		&report.RegionID,
		&report.AnomalyType,
		&report.Severity,
		&report.Context.Variance,
		&report.ReportedAt,
		&report.ReportedBy,
		&report.Description,
		&evidenceJSON,
		&report.Resolved,
		&resolvedAt,
		&resolvedBy,
		&notes,
	)
	if err != nil {
		return nil, err
	}

	report.ReportedAt = report.ReportedAt.UTC()
	if len(evidenceJSON) > 0 {
		if err := json.Unmarshal(evidenceJSON, &report.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}
	report.ResolvedAt = utcTime(resolvedAt)
	if resolvedBy.Valid {
		report.ResolvedBy = &resolvedBy.String
	}
	if notes.Valid {
		report.ResolutionNotes = &notes.String
	}
	return &report, nil
}
