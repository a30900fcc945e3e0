package domain

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// AuditEntry is one state transition of a record. Entries are chained: each
// Digest covers the entry's fields and the previous entry's Digest.
type AuditEntry struct {
	ID            string            `json:"id"`
	Seq           int               `json:"seq"`
	Timestamp     time.Time         `json:"timestamp"`
	PreviousState State             `json:"previous_state,omitempty"`
	NewState      State             `json:"new_state"`
	Reason        string            `json:"reason"`
	Actor         string            `json:"actor"`
	Details       map[string]string `json:"details,omitempty"`
	Digest        string            `json:"digest"`
}

func newAuditEntry(seq int, prev, next State, reason, actor string, details map[string]string, at time.Time, prevDigest string) AuditEntry {
	e := AuditEntry{
		ID:            uuid.NewString(),
		Seq:           seq,
		Timestamp:     at,
		PreviousState: prev,
		NewState:      next,
		Reason:        reason,
		Actor:         actor,
		Details:       copyDetails(details),
	}
	e.Digest = e.computeDigest(prevDigest)
	return e
}

func (e AuditEntry) computeDigest(prevDigest string) string {
	var b strings.Builder
	b.WriteString(prevDigest)
	for _, field := range []string{
		strconv.Itoa(e.Seq),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.PreviousState),
		string(e.NewState),
		e.Reason,
		e.Actor,
		formatDetails(e.Details),
	} {
		b.WriteByte(0x1f)
		b.WriteString(field)
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Detail keys the fold reads back from audit entries
const (
	detailReviveAfter  = "revive_after"
	detailHazardCount  = "hazard_count"
	detailAnomalyCount = "anomaly_count"
)

// Projection is the state obtained by folding an audit log. The counters
// are lower bounds: anomalies that change nothing are counted without an
// entry.
type Projection struct {
	State        State
	Reason       KillReason
	KilledAt     *time.Time
	KilledBy     *string
	ReviveAfter  *time.Time
	MinHazards   int
	MinAnomalies int
}

// Replay folds an audit log from its INITIALIZATION entry, checking order,
// continuity and the digest chain.
func Replay(entries []AuditEntry) (Projection, error) {
	if len(entries) == 0 {
		return Projection{}, fmt.Errorf("%w: empty audit log", ErrAuditCorrupted)
	}
	first := entries[0]
	if first.NewState != StateActive || first.Reason != ReasonInitialization || first.PreviousState != "" {
		return Projection{}, fmt.Errorf("%w: first entry is not an initialization", ErrAuditCorrupted)
	}

	var p Projection
	var prevDigest string
	for i, e := range entries {
		if e.Seq != i+1 {
			return Projection{}, fmt.Errorf("%w: entry %d has seq %d", ErrAuditCorrupted, i+1, e.Seq)
		}
		if i > 0 && e.PreviousState != p.State {
			return Projection{}, fmt.Errorf("%w: entry %d starts from %s, log is at %s", ErrAuditCorrupted, e.Seq, e.PreviousState, p.State)
		}
		if !e.NewState.Valid() {
			return Projection{}, fmt.Errorf("%w: entry %d has unknown state %q", ErrAuditCorrupted, e.Seq, e.NewState)
		}
		if want := e.computeDigest(prevDigest); want != e.Digest {
			return Projection{}, fmt.Errorf("%w: digest mismatch at entry %d", ErrAuditCorrupted, e.Seq)
		}
		prevDigest = e.Digest

		if err := p.apply(e); err != nil {
			return Projection{}, err
		}
	}
	return p, nil
}

func (p *Projection) apply(e AuditEntry) error {
	p.State = e.NewState
	switch e.NewState {
	case StateActive:
		p.Reason = ""
		p.KilledAt, p.KilledBy, p.ReviveAfter = nil, nil, nil
		p.MinHazards = 0
		if _, ok := e.Details[detailAnomalyCount]; ok {
			p.MinAnomalies = 0
		}
		return nil
	case StateOffline, StateKilled:
		at := e.Timestamp
		by := e.Actor
		p.KilledAt, p.KilledBy, p.ReviveAfter = &at, &by, nil
		if raw, ok := e.Details[detailReviveAfter]; ok && e.NewState == StateOffline {
			revive, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return fmt.Errorf("%w: entry %d has revive_after %q", ErrAuditCorrupted, e.Seq, raw)
			}
			p.ReviveAfter = &revive
		}
	}
	p.Reason = KillReason(e.Reason)

	if e.Actor != SystemActor {
		return nil
	}
	for key, floor := range map[string]*int{detailHazardCount: &p.MinHazards, detailAnomalyCount: &p.MinAnomalies} {
		raw, ok := e.Details[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: entry %d has %s %q", ErrAuditCorrupted, e.Seq, key, raw)
		}
		*floor = n
	}
	return nil
}

// VerifyAudit checks that the live fields equal the fold of the audit log
// and that the counters are not below what the log recorded.
func (r *KillSwitchRecord) VerifyAudit() error {
	p, err := Replay(r.AuditLog)
	if err != nil {
		return err
	}
	if p.State != r.State || p.Reason != r.Reason {
		return fmt.Errorf("%w: record is %s/%s, log folds to %s/%s", ErrAuditCorrupted, r.State, r.Reason, p.State, p.Reason)
	}
	if !sameTime(p.KilledAt, r.KilledAt) || !sameString(p.KilledBy, r.KilledBy) {
		return fmt.Errorf("%w: kill metadata differs from the log", ErrAuditCorrupted)
	}
	if !sameTime(p.ReviveAfter, r.ReviveAfter) {
		return fmt.Errorf("%w: revive_after differs from the log", ErrAuditCorrupted)
	}
	if r.HazardCount < p.MinHazards || r.AnomalyCount < p.MinAnomalies {
		return fmt.Errorf("%w: counters %d/%d are below the logged %d/%d", ErrAuditCorrupted,
			r.HazardCount, r.AnomalyCount, p.MinHazards, p.MinAnomalies)
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// FormatAuditEntry renders one line of the operator export:
// timestamp, new state, reason, actor, details, tab separated.
func FormatAuditEntry(e AuditEntry) string {
	details := formatDetails(e.Details)
	if details == "" {
		details = "-"
	}
	return strings.Join([]string{
		e.Timestamp.UTC().Format(time.RFC3339),
		string(e.NewState),
		e.Reason,
		e.Actor,
		details,
	}, "\t")
}

// ExportAuditLog writes one line per entry
func ExportAuditLog(w io.Writer, entries []AuditEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, FormatAuditEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

// formatDetails renders details as space separated key=value pairs in key order.
func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Quote(details[k]))
	}
	return strings.Join(parts, " ")
}
