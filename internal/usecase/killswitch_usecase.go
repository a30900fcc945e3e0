package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/metrics"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
	"github.com/unmappedos-sys/unmappedOS-sub002/pkg/clock"
)

// EvaluateRequest represents one anomaly report submitted for evaluation
type EvaluateRequest struct {
	Key         domain.EntityKey      `json:"-"`
	RegionID    string                `json:"region_id"`
	ReportID    string                `json:"report_id,omitempty"`
	AnomalyType domain.AnomalyType    `json:"anomaly_type"`
	Context     domain.AnomalyContext `json:"context"`
	ReportedBy  string                `json:"reported_by"`
	Description string                `json:"description,omitempty"`
	Evidence    map[string]string     `json:"evidence,omitempty"`
}

// EvaluationResult is what the ingestion path reports back to a signal source
type EvaluationResult struct {
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	State      domain.State      `json:"state"`
	Action     domain.Action     `json:"action"`
	Severity   domain.Severity   `json:"severity,omitempty"`
	ReportID   string            `json:"report_id,omitempty"`
	Visibility domain.Visibility `json:"visibility"`
	Note       string            `json:"note,omitempty"`
}

// HazardRequest is a hazard submission from the field
type HazardRequest struct {
	Key         domain.EntityKey   `json:"-"`
	RegionID    string             `json:"region_id"`
	ReportID    string             `json:"report_id,omitempty"`
	HazardType  domain.AnomalyType `json:"hazard_type"`
	ReportedBy  string             `json:"reported_by"`
	Description string             `json:"description,omitempty"`
	Evidence    map[string]string  `json:"evidence,omitempty"`
}

// PriceObservation is a newly observed price for an entity
type PriceObservation struct {
	Key        domain.EntityKey     `json:"-"`
	RegionID   string               `json:"region_id"`
	ReportID   string               `json:"report_id,omitempty"`
	Price      float64              `json:"price"`
	Baseline   domain.PriceBaseline `json:"baseline"`
	Recent     []float64            `json:"recent,omitempty"`
	ReportedBy string               `json:"reported_by"`
}

// ManualKillRequest is an operator taking an entity offline
type ManualKillRequest struct {
	Key          domain.EntityKey  `json:"-"`
	Reason       domain.KillReason `json:"reason"`
	Actor        string            `json:"-"`
	Details      map[string]string `json:"details,omitempty"`
	DurationDays int               `json:"duration_days,omitempty"`
}

// AuditVerification is the result of replaying a record's audit log
type AuditVerification struct {
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Entries    int          `json:"entries"`
	State      domain.State `json:"state"`
	Valid      bool         `json:"valid"`
	Problem    string       `json:"problem,omitempty"`
}

// KillSwitchUseCase handles ingestion and operator actions on kill switch records
type KillSwitchUseCase struct {
	writer  *recordWriter
	records ports.KillSwitchRepository
	reports ports.AnomalyRepository
	limiter ports.ReportLimiter
	policy  domain.Policy
	clock   clock.Clock
	logger  logger.Logger
}

// NewKillSwitchUseCase creates a new kill switch use case
func NewKillSwitchUseCase(
	records ports.KillSwitchRepository,
	reports ports.AnomalyRepository,
	locker ports.KeyLocker,
	limiter ports.ReportLimiter,
	publisher ports.TransitionPublisher,
	policy domain.Policy,
	clk clock.Clock,
	log logger.Logger,
	opts WriterOptions,
) *KillSwitchUseCase {
	return &KillSwitchUseCase{
		writer:  newRecordWriter(records, locker, publisher, clk, log, opts),
		records: records,
		reports: reports,
		limiter: limiter,
		policy:  policy,
		clock:   clk,
		logger:  log,
	}
}

// Policy returns the threshold policy the use case was built with
func (uc *KillSwitchUseCase) Policy() domain.Policy {
	return uc.policy
}

// Evaluate classifies a report, stores it and applies the threshold policy
// to the entity's record. A report id seen before is not applied twice.
func (uc *KillSwitchUseCase) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluationResult, error) {
	start := time.Now()

	severity, err := uc.validateEvaluate(ctx, req)
	if err != nil {
		return nil, err
	}

	allowed, err := uc.limiter.Allow(ctx, req.ReportedBy)
	if err != nil {
		uc.logger.Error(ctx, "Rate limiter unavailable, accepting report", err, map[string]interface{}{
			"reporter": req.ReportedBy,
		})
	} else if !allowed {
		metrics.ObserveRejected("rate_limited")
		return nil, ports.ErrRateLimited
	}

	if err := uc.checkRegion(ctx, req.Key, req.RegionID); err != nil {
		metrics.ObserveRejected("region_mismatch")
		return nil, err
	}

	report, err := uc.storeReport(ctx, domain.NewAnomalyReport(req.ReportID, req.Key, req.RegionID, req.AnomalyType, severity,
		req.Context, req.ReportedBy, req.Description, req.Evidence, uc.clock.Now()))
	if err != nil {
		return nil, err
	}
	severity = report.Severity

	rec, out, err := uc.writer.mutate(ctx, req.Key, req.RegionID, report.ID,
		func(rec *domain.KillSwitchRecord, now time.Time) (domain.Outcome, bool, error) {
			dirty := rec.State != domain.StateKilled
			out, err := rec.ApplyAnomaly(report, uc.policy, now)
			return out, dirty, err
		})
	if errors.Is(err, ports.ErrNonceApplied) {
		return uc.duplicateResult(ctx, req.Key, report, severity)
	}
	if err != nil {
		return nil, err
	}

	metrics.ObserveEvaluation(string(report.AnomalyType), string(out.Action), time.Since(start))
	uc.logger.Info(ctx, "Anomaly evaluated", map[string]interface{}{
		"entity":       req.Key.String(),
		"report_id":    report.ID,
		"anomaly_type": report.AnomalyType,
		"severity":     severity,
		"action":       out.Action,
		"state":        rec.State,
	})

	return &EvaluationResult{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		State:      rec.State,
		Action:     out.Action,
		Severity:   severity,
		ReportID:   report.ID,
		Visibility: rec.Visibility(),
		Note:       out.Note,
	}, nil
}

func (uc *KillSwitchUseCase) validateEvaluate(ctx context.Context, req EvaluateRequest) (domain.Severity, error) {
	if err := req.Key.Validate(); err != nil {
		metrics.ObserveRejected("invalid_key")
		return "", err
	}
	if err := domain.ValidateRegion(req.RegionID); err != nil {
		metrics.ObserveRejected("invalid_region")
		return "", err
	}
	if strings.TrimSpace(req.ReportedBy) == "" {
		metrics.ObserveRejected("missing_reporter")
		return "", domain.ErrMissingActor
	}

	severity, err := uc.policy.Classify(req.AnomalyType, req.Context)
	if err != nil {
		metrics.ObserveRejected("classification")
		if errors.Is(err, domain.ErrUnknownAnomalyType) {
			uc.logger.Error(ctx, "Anomaly type not recognised by classifier", err, map[string]interface{}{
				"entity":       req.Key.String(),
				"anomaly_type": req.AnomalyType,
			})
		}
		return "", err
	}
	return severity, nil
}

// checkRegion rejects a signal for a tracked entity that names another
// region. A record's region never changes after creation.
func (uc *KillSwitchUseCase) checkRegion(ctx context.Context, key domain.EntityKey, regionID string) error {
	rec, err := uc.records.Get(ctx, key)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if rec.RegionID != regionID {
		return fmt.Errorf("%w: %s belongs to %s", domain.ErrRegionMismatch, key, rec.RegionID)
	}
	return nil
}

// storeReport saves a new report. A retried id returns the stored copy, as
// long as it describes the same signal.
func (uc *KillSwitchUseCase) storeReport(ctx context.Context, report *domain.AnomalyReport) (*domain.AnomalyReport, error) {
	err := uc.reports.Create(ctx, report)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, ports.ErrReportExists) {
		return nil, fmt.Errorf("failed to store anomaly report: %w", err)
	}

	stored, err := uc.reports.FindByID(ctx, report.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load anomaly report: %w", err)
	}
	if stored.Key() != report.Key() || stored.RegionID != report.RegionID || stored.AnomalyType != report.AnomalyType {
		metrics.ObserveRejected("report_conflict")
		uc.logger.Warn(ctx, "Report id reused for a different signal", map[string]interface{}{
			"report_id":     report.ID,
			"entity":        report.Key().String(),
			"stored_entity": stored.Key().String(),
			"anomaly_type":  report.AnomalyType,
			"stored_type":   stored.AnomalyType,
		})
		return nil, fmt.Errorf("%w: %s is stored for %s %s", domain.ErrReportConflict, report.ID, stored.Key(), stored.AnomalyType)
	}
	return stored, nil
}

func (uc *KillSwitchUseCase) duplicateResult(ctx context.Context, key domain.EntityKey, report *domain.AnomalyReport, severity domain.Severity) (*EvaluationResult, error) {
	rec, err := uc.records.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	uc.logger.Info(ctx, "Duplicate report ignored", map[string]interface{}{
		"entity":    key.String(),
		"report_id": report.ID,
	})
	metrics.ObserveEvaluation(string(report.AnomalyType), string(domain.ActionDuplicate), 0)
	return &EvaluationResult{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		State:      rec.State,
		Action:     domain.ActionDuplicate,
		Severity:   severity,
		ReportID:   report.ID,
		Visibility: rec.Visibility(),
		Note:       "report already applied",
	}, nil
}

// SubmitHazard evaluates a hazard report
func (uc *KillSwitchUseCase) SubmitHazard(ctx context.Context, req HazardRequest) (*EvaluationResult, error) {
	if !req.HazardType.IsHazard() {
		metrics.ObserveRejected("not_a_hazard")
		return nil, fmt.Errorf("%w: %q is not a hazard type", domain.ErrUnknownAnomalyType, req.HazardType)
	}
	return uc.Evaluate(ctx, EvaluateRequest{
		Key:         req.Key,
		RegionID:    req.RegionID,
		ReportID:    req.ReportID,
		AnomalyType: req.HazardType,
		ReportedBy:  req.ReportedBy,
		Description: req.Description,
		Evidence:    req.Evidence,
	})
}

// SubmitPriceObservation runs the price detector and evaluates a price
// anomaly when one is found. A normal price creates no report.
func (uc *KillSwitchUseCase) SubmitPriceObservation(ctx context.Context, obs PriceObservation) (*EvaluationResult, error) {
	if err := obs.Key.Validate(); err != nil {
		metrics.ObserveRejected("invalid_key")
		return nil, err
	}

	verdict, err := uc.policy.DetectPriceAnomaly(obs.Price, obs.Baseline, obs.Recent)
	if err != nil {
		metrics.ObserveRejected("invalid_price")
		return nil, err
	}

	if !verdict.IsAnomaly {
		result := &EvaluationResult{
			EntityType: obs.Key.Type,
			EntityID:   obs.Key.ID,
			State:      domain.StateActive,
			Action:     domain.ActionNone,
			Visibility: domain.VisibilityShow,
			Note:       "price within expected range",
		}
		rec, err := uc.records.Get(ctx, obs.Key)
		switch {
		case err == nil:
			result.State = rec.State
			result.Visibility = rec.Visibility()
		case !errors.Is(err, domain.ErrRecordNotFound):
			return nil, fmt.Errorf("failed to load record: %w", err)
		}
		return result, nil
	}

	return uc.Evaluate(ctx, EvaluateRequest{
		Key:         obs.Key,
		RegionID:    obs.RegionID,
		ReportID:    obs.ReportID,
		AnomalyType: verdict.Type,
		Context:     verdict.Context(),
		ReportedBy:  obs.ReportedBy,
		Description: fmt.Sprintf("observed price %s outside expected range", formatFloat(obs.Price)),
		Evidence: map[string]string{
			"price":        formatFloat(obs.Price),
			"baseline_min": formatFloat(obs.Baseline.Min),
			"baseline_max": formatFloat(obs.Baseline.Max),
			"rule":         verdict.Rule,
			"variance":     formatFloat(verdict.Variance),
		},
	})
}

// RecordFreshness stores when the entity's underlying data last changed.
// Staleness is measured from this timestamp.
func (uc *KillSwitchUseCase) RecordFreshness(ctx context.Context, key domain.EntityKey, regionID string, updatedAt time.Time) (*domain.KillSwitchRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateRegion(regionID); err != nil {
		return nil, err
	}
	if updatedAt.IsZero() {
		return nil, fmt.Errorf("%w: last update time is required", domain.ErrInvalidDuration)
	}

	rec, _, err := uc.writer.mutate(ctx, key, regionID, "",
		func(rec *domain.KillSwitchRecord, now time.Time) (domain.Outcome, bool, error) {
			out := domain.Outcome{Action: domain.ActionNone, PreviousState: rec.State, State: rec.State}
			if updatedAt.After(now) {
				updatedAt = now
			}
			return out, rec.RecordDataUpdate(updatedAt), nil
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecord retrieves a record by entity key
func (uc *KillSwitchUseCase) GetRecord(ctx context.Context, key domain.EntityKey) (*domain.KillSwitchRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec, err := uc.records.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// ListRecords retrieves records matching the filter
func (uc *KillSwitchUseCase) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]*domain.KillSwitchRecord, error) {
	records, err := uc.records.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// ManualKill takes an entity offline on behalf of an operator
func (uc *KillSwitchUseCase) ManualKill(ctx context.Context, req ManualKillRequest) (*domain.KillSwitchRecord, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	if err := checkOperator(req.Actor); err != nil {
		return nil, err
	}
	if req.DurationDays < 0 {
		return nil, domain.ErrInvalidDuration
	}
	reason := domain.ReasonAdminManual
	if req.Reason != "" {
		parsed, err := domain.ParseKillReason(string(req.Reason))
		if err != nil {
			return nil, err
		}
		reason = parsed
	}

	rec, _, err := uc.writer.mutate(ctx, req.Key, "", "",
		func(rec *domain.KillSwitchRecord, now time.Time) (domain.Outcome, bool, error) {
			out := domain.Outcome{Action: domain.ActionKill, PreviousState: rec.State, Reason: reason}
			reviveIn := time.Duration(req.DurationDays) * 24 * time.Hour
			if err := rec.TriggerKill(reason, req.Actor, req.Details, reviveIn, now); err != nil {
				return domain.Outcome{}, false, err
			}
			out.State = rec.State
			return out, true, nil
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ManualRevive returns an OFFLINE or DEGRADED entity to ACTIVE
func (uc *KillSwitchUseCase) ManualRevive(ctx context.Context, key domain.EntityKey, actor, note string) (*domain.KillSwitchRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := checkOperator(actor); err != nil {
		return nil, err
	}
	if note == "" {
		note = "manual revive"
	}

	rec, _, err := uc.writer.mutate(ctx, key, "", "",
		func(rec *domain.KillSwitchRecord, now time.Time) (domain.Outcome, bool, error) {
			out := domain.Outcome{Action: domain.ActionRevive, PreviousState: rec.State}
			reset := uc.policy.ResetAnomaliesOnRevive(rec.Reason, actor)
			if err := rec.Revive(actor, note, reset, now); err != nil {
				return domain.Outcome{}, false, err
			}
			out.State = rec.State
			return out, true, nil
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PermanentKill moves an entity to the terminal KILLED state
func (uc *KillSwitchUseCase) PermanentKill(ctx context.Context, key domain.EntityKey, actor, note string) (*domain.KillSwitchRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	rec, _, err := uc.writer.mutate(ctx, key, "", "",
		func(rec *domain.KillSwitchRecord, now time.Time) (domain.Outcome, bool, error) {
			out := domain.Outcome{Action: domain.ActionPermanentKill, PreviousState: rec.State}
			if err := rec.PermanentKill(actor, note, now); err != nil {
				return domain.Outcome{}, false, err
			}
			out.State = rec.State
			out.Reason = rec.Reason
			return out, true, nil
		})
	if err != nil {
		return nil, err
	}
	uc.logger.Warn(ctx, "Entity permanently killed", map[string]interface{}{
		"entity": key.String(),
		"actor":  actor,
	})
	return rec, nil
}

// checkOperator keeps the system actor reserved for automatic transitions
func checkOperator(actor string) error {
	if actor == domain.SystemActor {
		return domain.ErrSystemActor
	}
	return nil
}

// ListAnomalies retrieves anomaly reports based on filter criteria
func (uc *KillSwitchUseCase) ListAnomalies(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyReport, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	reports, err := uc.reports.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomaly reports: %w", err)
	}
	return reports, nil
}

// ResolveAnomaly marks a report as reviewed. It does not change the record.
func (uc *KillSwitchUseCase) ResolveAnomaly(ctx context.Context, id, actor, notes string) (*domain.AnomalyReport, error) {
	if id == "" {
		return nil, domain.ErrReportNotFound
	}
	if err := checkOperator(actor); err != nil {
		return nil, err
	}

	report, err := uc.reports.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := report.Resolve(actor, notes, uc.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := uc.reports.Resolve(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to resolve anomaly report: %w", err)
	}

	uc.logger.Info(ctx, "Anomaly report resolved", map[string]interface{}{
		"report_id": id,
		"actor":     actor,
	})
	return report, nil
}

// VerifyAudit replays a record's audit log and compares it with the live fields
func (uc *KillSwitchUseCase) VerifyAudit(ctx context.Context, key domain.EntityKey) (*AuditVerification, error) {
	rec, err := uc.GetRecord(ctx, key)
	if err != nil {
		return nil, err
	}

	result := &AuditVerification{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Entries:    len(rec.AuditLog),
		State:      rec.State,
		Valid:      true,
	}
	if err := rec.VerifyAudit(); err != nil {
		result.Valid = false
		result.Problem = err.Error()
		uc.logger.Error(ctx, "Audit log verification failed", err, map[string]interface{}{
			"entity": key.String(),
		})
	}
	return result, nil
}

// ExportAudit writes the human-readable audit trail of a record
func (uc *KillSwitchUseCase) ExportAudit(ctx context.Context, key domain.EntityKey, w io.Writer) error {
	rec, err := uc.GetRecord(ctx, key)
	if err != nil {
		return err
	}
	if err := domain.ExportAuditLog(w, rec.AuditLog); err != nil {
		return fmt.Errorf("failed to export audit log: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
