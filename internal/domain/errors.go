package domain

// DomainError represents a domain-specific error
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(message string) *DomainError {
	return &DomainError{Message: message}
}

// Input errors
var (
	ErrInvalidEntityKey   = NewDomainError("invalid entity key")
	ErrInvalidRegion      = NewDomainError("invalid region id")
	ErrRegionMismatch     = NewDomainError("region does not match the tracked entity")
	ErrUnknownAnomalyType = NewDomainError("unknown anomaly type")
	ErrMissingActor       = NewDomainError("actor is required")
	ErrInvalidKillReason  = NewDomainError("invalid kill reason")
	ErrInvalidPrice       = NewDomainError("invalid price observation")
	ErrInvalidDuration    = NewDomainError("kill duration must be positive")
)

// State machine errors
var (
	ErrRecordNotFound    = NewDomainError("kill switch record not found")
	ErrInvalidTransition = NewDomainError("invalid state transition")
	ErrEntityKilled      = NewDomainError("entity is permanently killed")
	ErrSystemActor       = NewDomainError("system actor cannot perform manual actions")
	ErrAuditCorrupted    = NewDomainError("audit log does not match record")
)

// Report errors
var (
	ErrReportNotFound = NewDomainError("anomaly report not found")
	ErrReportResolved = NewDomainError("anomaly report already resolved")
	ErrReportConflict = NewDomainError("report id already used for a different signal")
)

// Policy errors
var (
	ErrInvalidPolicy = NewDomainError("invalid threshold policy")
)
