package ports

import (
	"context"
	"errors"
	"time"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
)

var (
	ErrLockTimeout = errors.New("timed out acquiring entity lock")
	ErrRateLimited = errors.New("reporter rate limit exceeded")
)

// Unlock releases a lock obtained from KeyLocker
type Unlock func()

// KeyLocker serializes read-modify-write cycles per entity key
type KeyLocker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key domain.EntityKey) (Unlock, error)
}

// ReportLimiter throttles signal submissions per reporter
type ReportLimiter interface {
	// Allow counts one submission and reports whether it is within limits
	Allow(ctx context.Context, reporter string) (bool, error)
}

// TransitionEvent is published after a transition is durably stored
type TransitionEvent struct {
	EntityType    string            `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	RegionID      string            `json:"region_id"`
	Seq           int               `json:"seq"`
	PreviousState domain.State      `json:"previous_state"`
	NewState      domain.State      `json:"new_state"`
	Visibility    domain.Visibility `json:"visibility"`
	Reason        string            `json:"reason"`
	Actor         string            `json:"actor"`
	Details       map[string]string `json:"details,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewTransitionEvent builds an event from a stored audit entry
func NewTransitionEvent(record *domain.KillSwitchRecord, entry domain.AuditEntry) TransitionEvent {
	return TransitionEvent{
		EntityType:    record.EntityType,
		EntityID:      record.EntityID,
		RegionID:      record.RegionID,
		Seq:           entry.Seq,
		PreviousState: entry.PreviousState,
		NewState:      entry.NewState,
		Visibility:    record.Visibility(),
		Reason:        entry.Reason,
		Actor:         entry.Actor,
		Details:       entry.Details,
		OccurredAt:    entry.Timestamp,
	}
}

// TransitionPublisher notifies downstream caches about state changes.
// Delivery is best effort; the audit log stays the source of truth.
type TransitionPublisher interface {
	Publish(ctx context.Context, event TransitionEvent) error
}
