package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SystemActor is the actor recorded for automatic transitions
const SystemActor = "system"

// State is the trust state of an entity
type State string

const (
	StateActive   State = "ACTIVE"
	StateDegraded State = "DEGRADED"
	StateOffline  State = "OFFLINE"
	StateKilled   State = "KILLED"
)

// AllStates lists every state in severity order
var AllStates = []State{StateActive, StateDegraded, StateOffline, StateKilled}

// Valid reports whether s is a known state
func (s State) Valid() bool {
	switch s {
	case StateActive, StateDegraded, StateOffline, StateKilled:
		return true
	}
	return false
}

// Visibility tells the display layer how to render an entity
type Visibility string

const (
	VisibilityShow        Visibility = "SHOW"
	VisibilityShowWarning Visibility = "SHOW_WITH_WARNING"
	VisibilityHide        Visibility = "HIDE"
)

// KillReason is the cause of a non-ACTIVE state
type KillReason string

const (
	ReasonHazardReports KillReason = "HAZARD_REPORTS"
	ReasonPriceAnomaly  KillReason = "PRICE_ANOMALY"
	ReasonStaleness     KillReason = "STALENESS"
	ReasonSystemAuto    KillReason = "SYSTEM_AUTO"
	ReasonAdminManual   KillReason = "ADMIN_MANUAL"
)

// ReasonInitialization labels the first audit entry of every record
const ReasonInitialization = "INITIALIZATION"

// ParseKillReason validates an operator-supplied reason
func ParseKillReason(s string) (KillReason, error) {
	r := KillReason(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case ReasonHazardReports, ReasonPriceAnomaly, ReasonStaleness, ReasonSystemAuto, ReasonAdminManual:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKillReason, s)
}

// KillSwitchRecord is the trust state of one entity. The live fields are a
// projection of AuditLog and change only through the transition methods.
type KillSwitchRecord struct {
	EntityType    string       `json:"entity_type"`
	EntityID      string       `json:"entity_id"`
	RegionID      string       `json:"region_id"`
	State         State        `json:"state"`
	Reason        KillReason   `json:"reason,omitempty"`
	KilledAt      *time.Time   `json:"killed_at,omitempty"`
	KilledBy      *string      `json:"killed_by,omitempty"`
	ReviveAfter   *time.Time   `json:"revive_after,omitempty"`
	HazardCount   int          `json:"hazard_count"`
	AnomalyCount  int          `json:"anomaly_count"`
	LastVerified  *time.Time   `json:"last_verified,omitempty"`
	DataUpdatedAt *time.Time   `json:"data_updated_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Version       int64        `json:"version"`
	AuditLog      []AuditEntry `json:"audit_log"`
}

// NewKillSwitchRecord creates an ACTIVE record with its INITIALIZATION entry.
func NewKillSwitchRecord(key EntityKey, regionID string, now time.Time) *KillSwitchRecord {
	now = normalizeTime(now)
	r := &KillSwitchRecord{
		EntityType: key.Type,
		EntityID:   key.ID,
		RegionID:   regionID,
		CreatedAt:  now,
		Version:    1,
	}
	r.appendEntry("", StateActive, ReasonInitialization, SystemActor, nil, now)
	return r
}

// Key returns the record's entity key
func (r *KillSwitchRecord) Key() EntityKey {
	return EntityKey{Type: r.EntityType, ID: r.EntityID}
}

// Visibility derives the display decision. OFFLINE and KILLED are treated
// identically.
func (r *KillSwitchRecord) Visibility() Visibility {
	switch r.State {
	case StateActive:
		return VisibilityShow
	case StateDegraded:
		return VisibilityShowWarning
	default:
		return VisibilityHide
	}
}

// LastUpdate is the newest of the last data update and the last
// verification, falling back to creation time.
func (r *KillSwitchRecord) LastUpdate() time.Time {
	latest := r.CreatedAt
	if r.DataUpdatedAt != nil && r.DataUpdatedAt.After(latest) {
		latest = *r.DataUpdatedAt
	}
	if r.LastVerified != nil && r.LastVerified.After(latest) {
		latest = *r.LastVerified
	}
	return latest
}

// TriggerKill moves the record to OFFLINE. A zero reviveIn means the record
// waits for a manual or verification-based revival.
func (r *KillSwitchRecord) TriggerKill(reason KillReason, actor string, details map[string]string, reviveIn time.Duration, now time.Time) error {
	if err := r.checkMutable(actor); err != nil {
		return err
	}
	if reviveIn < 0 {
		return ErrInvalidDuration
	}
	now = normalizeTime(now)

	details = copyDetails(details)
	delete(details, detailReviveAfter)
	killedBy := actor
	r.KilledAt = &now
	r.KilledBy = &killedBy
	r.ReviveAfter = nil
	if reviveIn > 0 {
		at := now.Add(reviveIn)
		r.ReviveAfter = &at
		if details == nil {
			details = map[string]string{}
		}
		details[detailReviveAfter] = at.Format(time.RFC3339Nano)
	}
	r.Reason = reason
	r.appendEntry(r.State, StateOffline, string(reason), actor, details, now)
	return nil
}

// SetDegraded moves the record to DEGRADED without touching kill metadata.
func (r *KillSwitchRecord) SetDegraded(reason KillReason, actor string, details map[string]string, now time.Time) error {
	if err := r.checkMutable(actor); err != nil {
		return err
	}
	now = normalizeTime(now)
	r.Reason = reason
	r.appendEntry(r.State, StateDegraded, string(reason), actor, details, now)
	return nil
}

// Revive returns an OFFLINE or DEGRADED record to ACTIVE. hazard_count is
// always reset; anomaly_count only when resetAnomalies is set.
func (r *KillSwitchRecord) Revive(actor, note string, resetAnomalies bool, now time.Time) error {
	if err := r.checkMutable(actor); err != nil {
		return err
	}
	if r.State != StateOffline && r.State != StateDegraded {
		return fmt.Errorf("%w: cannot revive from %s", ErrInvalidTransition, r.State)
	}
	now = normalizeTime(now)

	details := map[string]string{
		"previous_reason": string(r.Reason),
		"hazard_count":    strconv.Itoa(r.HazardCount),
	}
	if resetAnomalies {
		details["anomaly_count"] = strconv.Itoa(r.AnomalyCount)
		r.AnomalyCount = 0
	}

	r.Reason = ""
	r.KilledAt = nil
	r.KilledBy = nil
	r.ReviveAfter = nil
	r.HazardCount = 0
	r.LastVerified = &now
	r.appendEntry(r.State, StateActive, note, actor, details, now)
	return nil
}

// PermanentKill moves the record to the terminal KILLED state. Only a
// named human actor may do this.
func (r *KillSwitchRecord) PermanentKill(actor, note string, now time.Time) error {
	if err := r.checkMutable(actor); err != nil {
		return err
	}
	if actor == SystemActor {
		return ErrSystemActor
	}
	now = normalizeTime(now)

	killedBy := actor
	r.KilledAt = &now
	r.KilledBy = &killedBy
	r.ReviveAfter = nil
	r.Reason = ReasonAdminManual
	var details map[string]string
	if note != "" {
		details = map[string]string{"note": note}
	}
	r.appendEntry(r.State, StateKilled, string(ReasonAdminManual), actor, details, now)
	return nil
}

// RecordDataUpdate stores the time the entity's underlying data last
// changed. It never changes state.
func (r *KillSwitchRecord) RecordDataUpdate(at time.Time) bool {
	at = normalizeTime(at)
	if r.DataUpdatedAt != nil && !at.After(*r.DataUpdatedAt) {
		return false
	}
	r.DataUpdatedAt = &at
	return true
}

// Outcome describes what an operation did to a record
type Outcome struct {
	Action        Action     `json:"action"`
	PreviousState State      `json:"previous_state"`
	State         State      `json:"state"`
	Reason        KillReason `json:"reason,omitempty"`
	Note          string     `json:"note,omitempty"`
}

// Changed reports whether the outcome appended an audit entry
func (o Outcome) Changed() bool {
	switch o.Action {
	case ActionDegrade, ActionKill, ActionRevive, ActionPermanentKill:
		return true
	}
	return false
}

// ApplyAnomaly increments the matching counter and applies the threshold
// policy. A KILLED record is frozen. The policy never lifts an OFFLINE
// record to DEGRADED.
func (r *KillSwitchRecord) ApplyAnomaly(report *AnomalyReport, policy Policy, now time.Time) (Outcome, error) {
	out := Outcome{Action: ActionNone, PreviousState: r.State, State: r.State}
	if r.State == StateKilled {
		out.Note = "entity is permanently killed"
		return out, nil
	}

	details := map[string]string{
		"report_id":    report.ID,
		"anomaly_type": string(report.AnomalyType),
		"severity":     string(report.Severity),
	}
	if report.AnomalyType.IsHazard() {
		r.HazardCount++
		details["hazard_count"] = strconv.Itoa(r.HazardCount)
	} else {
		r.AnomalyCount++
		details["anomaly_count"] = strconv.Itoa(r.AnomalyCount)
	}
	r.UpdatedAt = normalizeTime(now)

	decision := policy.DecideAnomaly(report.AnomalyType, report.Severity, r.HazardCount, r.AnomalyCount)
	return r.applyDecision(decision, details, now, out)
}

// CheckStaleness applies the staleness policy against LastUpdate.
func (r *KillSwitchRecord) CheckStaleness(policy Policy, now time.Time) (Outcome, error) {
	out := Outcome{Action: ActionNone, PreviousState: r.State, State: r.State}
	age := now.Sub(r.LastUpdate())
	decision := policy.DecideStaleness(r.State, age)
	details := map[string]string{
		"days_since_update": strconv.Itoa(int(age / day)),
	}
	return r.applyDecision(decision, details, now, out)
}

// CheckAutoRevive revives an OFFLINE record whose cooling period elapsed.
func (r *KillSwitchRecord) CheckAutoRevive(policy Policy, now time.Time) (Outcome, error) {
	out := Outcome{Action: ActionNone, PreviousState: r.State, State: r.State}
	if !policy.ShouldAutoRevive(r.State, r.ReviveAfter, now) {
		return out, nil
	}
	if err := r.Revive(SystemActor, "auto-revive after cooling period", false, now); err != nil {
		return out, err
	}
	out.Action = ActionRevive
	out.State = r.State
	return out, nil
}

func (r *KillSwitchRecord) applyDecision(d Decision, details map[string]string, now time.Time, out Outcome) (Outcome, error) {
	switch d.Action {
	case ActionKill:
		if err := r.TriggerKill(d.Reason, SystemActor, details, d.ReviveIn, now); err != nil {
			return out, err
		}
	case ActionDegrade:
		if r.State == StateOffline {
			out.Note = "already offline"
			return out, nil
		}
		if err := r.SetDegraded(d.Reason, SystemActor, details, now); err != nil {
			return out, err
		}
	default:
		return out, nil
	}
	out.Action = d.Action
	out.State = r.State
	out.Reason = d.Reason
	return out, nil
}

func (r *KillSwitchRecord) checkMutable(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrMissingActor
	}
	if r.State == StateKilled {
		return ErrEntityKilled
	}
	return nil
}

// appendEntry is the only place State is written.
func (r *KillSwitchRecord) appendEntry(prev, next State, reason, actor string, details map[string]string, now time.Time) {
	var prevDigest string
	if n := len(r.AuditLog); n > 0 {
		prevDigest = r.AuditLog[n-1].Digest
	}
	entry := newAuditEntry(len(r.AuditLog)+1, prev, next, reason, actor, details, now, prevDigest)
	r.AuditLog = append(r.AuditLog, entry)
	r.State = next
	r.UpdatedAt = now
}

// Clone returns a deep copy so stores never share memory with callers.
func (r *KillSwitchRecord) Clone() *KillSwitchRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.KilledAt = cloneTime(r.KilledAt)
	c.ReviveAfter = cloneTime(r.ReviveAfter)
	c.LastVerified = cloneTime(r.LastVerified)
	c.DataUpdatedAt = cloneTime(r.DataUpdatedAt)
	if r.KilledBy != nil {
		by := *r.KilledBy
		c.KilledBy = &by
	}
	c.AuditLog = make([]AuditEntry, len(r.AuditLog))
	for i, e := range r.AuditLog {
		e.Details = copyDetails(e.Details)
		c.AuditLog[i] = e
	}
	return &c
}

// RecordFilter represents filters for listing records
type RecordFilter struct {
	RegionID   *string `json:"region_id,omitempty"`
	State      *State  `json:"state,omitempty"`
	EntityType *string `json:"entity_type,omitempty"`
}

// Matches reports whether the record passes the filter
func (f RecordFilter) Matches(r *KillSwitchRecord) bool {
	if f.RegionID != nil && r.RegionID != *f.RegionID {
		return false
	}
	if f.State != nil && r.State != *f.State {
		return false
	}
	if f.EntityType != nil && r.EntityType != *f.EntityType {
		return false
	}
	return true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// normalizeTime keeps timestamps at the precision PostgreSQL stores so audit
// digests survive a round trip.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
