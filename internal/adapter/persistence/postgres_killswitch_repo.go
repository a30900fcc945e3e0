package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// PostgresKillSwitchRepository implements KillSwitchRepository using PostgreSQL.
// Live fields, new audit rows and the nonce are written in one transaction.
type PostgresKillSwitchRepository struct {
	db *sql.DB
}

// NewPostgresKillSwitchRepository creates a new PostgreSQL kill switch repository
func NewPostgresKillSwitchRepository(db *sql.DB) *PostgresKillSwitchRepository {
	return &PostgresKillSwitchRepository{db: db}
}

var _ ports.KillSwitchRepository = (*PostgresKillSwitchRepository)(nil)

const recordColumns = `entity_type, entity_id, region_id, state, reason, killed_at, killed_by, revive_after,
	hazard_count, anomaly_count, last_verified, data_updated_at, created_at, updated_at, version`

// Get retrieves a record with its audit log
func (r *PostgresKillSwitchRepository) Get(ctx context.Context, key domain.EntityKey) (*domain.KillSwitchRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM killswitch_records WHERE entity_type = $1 AND entity_id = $2`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, key.Type, key.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to find kill switch record: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, seq, id, occurred_at, previous_state, new_state, reason, actor, details, digest
		FROM killswitch_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY seq ASC
	`, key.Type, key.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	logs, err := scanAuditRows(rows)
	if err != nil {
		return nil, err
	}
	rec.AuditLog = logs[key]
	return rec, nil
}

// Create inserts a new record and its initialization entry
func (r *PostgresKillSwitchRepository) Create(ctx context.Context, record *domain.KillSwitchRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO killswitch_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (entity_type, entity_id) DO NOTHING
	`, recordArgs(record, record.Version)...)
	if err != nil {
		return fmt.Errorf("failed to create kill switch record: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return ports.ErrRecordExists
	}

	if err := insertAuditEntries(ctx, tx, record, 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit kill switch record: %w", err)
	}
	return nil
}

// Save updates the live fields under an optimistic version check and appends
// audit entries the database has not seen yet.
func (r *PostgresKillSwitchRepository) Save(ctx context.Context, record *domain.KillSwitchRecord, expectedVersion int64, nonce string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if nonce != "" {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO killswitch_nonces (entity_type, entity_id, nonce)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, record.EntityType, record.EntityID, nonce)
		if err != nil {
			return fmt.Errorf("failed to record nonce: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return ports.ErrNonceApplied
		}
	}

	newVersion := expectedVersion + 1
	result, err := tx.ExecContext(ctx, `
		UPDATE killswitch_records
		SET region_id = $3, state = $4, reason = $5, killed_at = $6, killed_by = $7, revive_after = $8,
			hazard_count = $9, anomaly_count = $10, last_verified = $11, data_updated_at = $12,
			created_at = $13, updated_at = $14, version = $15
		WHERE entity_type = $1 AND entity_id = $2 AND version = $16
	`, append(recordArgs(record, newVersion), expectedVersion)...)
	if err != nil {
		return fmt.Errorf("failed to update kill switch record: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if updated == 0 {
		return ports.ErrVersionConflict
	}

	var storedSeq int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM killswitch_audit WHERE entity_type = $1 AND entity_id = $2
	`, record.EntityType, record.EntityID).Scan(&storedSeq)
	if err != nil {
		return fmt.Errorf("failed to read audit position: %w", err)
	}
	if storedSeq > len(record.AuditLog) {
		return ports.ErrVersionConflict
	}
	if err := insertAuditEntries(ctx, tx, record, storedSeq); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit kill switch record: %w", err)
	}
	record.Version = newVersion
	return nil
}

// List retrieves records matching the filter together with their audit logs
func (r *PostgresKillSwitchRepository) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.KillSwitchRecord, error) {
	where, args := recordFilterClause(filter)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM killswitch_records r`+where+` ORDER BY entity_type, entity_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query kill switch records: %w", err)
	}
	defer rows.Close()

	var records []*domain.KillSwitchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kill switch record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kill switch records: %w", err)
	}
	if len(records) == 0 {
		return records, nil
	}

	auditRows, err := r.db.QueryContext(ctx, `
		SELECT a.entity_type, a.entity_id, a.seq, a.id, a.occurred_at, a.previous_state, a.new_state,
			a.reason, a.actor, a.details, a.digest
		FROM killswitch_audit a
		JOIN killswitch_records r ON r.entity_type = a.entity_type AND r.entity_id = a.entity_id`+where+`
		ORDER BY a.entity_type, a.entity_id, a.seq
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer auditRows.Close()

	logs, err := scanAuditRows(auditRows)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.AuditLog = logs[rec.Key()]
	}
	return records, nil
}

// Keys lists every stored entity key
func (r *PostgresKillSwitchRepository) Keys(ctx context.Context) ([]domain.EntityKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity_type, entity_id FROM killswitch_records ORDER BY entity_type, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.EntityKey
	for rows.Next() {
		var k domain.EntityKey
		if err := rows.Scan(&k.Type, &k.ID); err != nil {
			return nil, fmt.Errorf("failed to scan entity key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity keys: %w", err)
	}
	return keys, nil
}

func recordFilterClause(filter domain.RecordFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.RegionID != nil {
		conditions = append(conditions, fmt.Sprintf("r.region_id = $%d", argIndex))
		args = append(args, *filter.RegionID)
		argIndex++
	}
	if filter.State != nil {
		conditions = append(conditions, fmt.Sprintf("r.state = $%d", argIndex))
		args = append(args, string(*filter.State))
		argIndex++
	}
	if filter.EntityType != nil {
		conditions = append(conditions, fmt.Sprintf("r.entity_type = $%d", argIndex))
		args = append(args, *filter.EntityType)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func recordArgs(rec *domain.KillSwitchRecord, version int64) []interface{} {
	return []interface{}{
		rec.EntityType,
		rec.EntityID,
		rec.RegionID,
		string(rec.State),
		nullString(string(rec.Reason)),
		rec.KilledAt,
		rec.KilledBy,
		rec.ReviveAfter,
		rec.HazardCount,
		rec.AnomalyCount,
		rec.LastVerified,
		rec.DataUpdatedAt,
		rec.CreatedAt,
		rec.UpdatedAt,
		version,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.KillSwitchRecord, error) {
	var rec domain.KillSwitchRecord
	var reason, killedBy sql.NullString
	var killedAt, reviveAfter, lastVerified, dataUpdatedAt sql.NullTime

	err := row.Scan(
		&rec.EntityType,
		&rec.EntityID,
		&rec.RegionID,
		&rec.State,
		&reason,
		&killedAt,
		&killedBy,
		&reviveAfter,
		&rec.HazardCount,
		&rec.AnomalyCount,
		&lastVerified,
		&dataUpdatedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.Reason = domain.KillReason(reason.String)
	if killedBy.Valid {
		rec.KilledBy = &killedBy.String
	}
	rec.KilledAt = utcTime(killedAt)
	rec.ReviveAfter = utcTime(reviveAfter)
	rec.LastVerified = utcTime(lastVerified)
	rec.DataUpdatedAt = utcTime(dataUpdatedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func scanAuditRows(rows *sql.Rows) (map[domain.EntityKey][]domain.AuditEntry, error) {
	logs := make(map[domain.EntityKey][]domain.AuditEntry)
	for rows.Next() {
		var key domain.EntityKey
		var e domain.AuditEntry
		var prev sql.NullString
		var detailsJSON []byte

		if err := rows.Scan(
			&key.Type,
			&key.ID,
			&e.Seq,
			&e.ID,
			&e.Timestamp,
			&prev,
			&e.NewState,
			&e.Reason,
			&e.Actor,
			&detailsJSON,
			&e.Digest,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.PreviousState = domain.State(prev.String)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		logs[key] = append(logs[key], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return logs, nil
}

func insertAuditEntries(ctx context.Context, tx *sql.Tx, rec *domain.KillSwitchRecord, afterSeq int) error {
	for _, e := range rec.AuditLog[afterSeq:] {
		var detailsJSON []byte
		if len(e.Details) > 0 {
			var err error
			detailsJSON, err = json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("failed to marshal audit details: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO killswitch_audit
				(entity_type, entity_id, seq, id, occurred_at, previous_state, new_state, reason, actor, details, digest)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			rec.EntityType,
			rec.EntityID,
			e.Seq,
			e.ID,
			e.Timestamp,
			nullString(string(e.PreviousState)),
			string(e.NewState),
			e.Reason,
			e.Actor,
			detailsJSON,
			e.Digest,
		)
		if err != nil {
			return fmt.Errorf("failed to append audit entry %d: %w", e.Seq, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func utcTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
