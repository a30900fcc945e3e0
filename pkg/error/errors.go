package error

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes for different categories
const (
	// Authentication Errors (1xxx)
	ErrCodeMissingToken ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken ErrorCode = "AUTH_1002"

	// Validation Errors (2xxx)
	ErrCodeInvalidRequest    ErrorCode = "VALID_2001"
	ErrCodeInvalidEntityKey  ErrorCode = "VALID_2002"
	ErrCodeInvalidRegion     ErrorCode = "VALID_2003"
	ErrCodeUnknownAnomaly    ErrorCode = "VALID_2004"
	ErrCodeMissingActor      ErrorCode = "VALID_2005"
	ErrCodeInvalidKillReason ErrorCode = "VALID_2006"
	ErrCodeInvalidPrice      ErrorCode = "VALID_2007"
	ErrCodeInvalidDuration   ErrorCode = "VALID_2008"

	// Policy Errors (3xxx)
	ErrCodeInvalidPolicy ErrorCode = "POLICY_3001"
	ErrCodeSystemActor   ErrorCode = "POLICY_3002"

	// State Errors (4xxx)
	ErrCodeRecordNotFound    ErrorCode = "STATE_4001"
	ErrCodeReportNotFound    ErrorCode = "STATE_4002"
	ErrCodeRegionMismatch    ErrorCode = "STATE_4003"
	ErrCodeInvalidTransition ErrorCode = "STATE_4004"
	ErrCodeEntityKilled      ErrorCode = "STATE_4005"
	ErrCodeReportResolved    ErrorCode = "STATE_4006"
	ErrCodeAuditCorrupted    ErrorCode = "STATE_4007"
	ErrCodeReportConflict    ErrorCode = "STATE_4008"

	// Database Errors (5xxx)
	ErrCodeDatabaseError   ErrorCode = "DB_5001"
	ErrCodeVersionConflict ErrorCode = "DB_5002"
	ErrCodeLockTimeout     ErrorCode = "DB_5003"

	// Server Errors (6xxx)
	ErrCodeInternalServerError ErrorCode = "SERVER_6001"
	ErrCodeServiceUnavailable  ErrorCode = "SERVER_6002"
	ErrCodeConfigurationError  ErrorCode = "SERVER_6003"

	// Rate Limiting Errors (7xxx)
	ErrCodeRateLimitExceeded ErrorCode = "RATE_7001"
)

var statusByCode = map[ErrorCode]int{
	ErrCodeMissingToken: http.StatusUnauthorized,
	ErrCodeInvalidToken: http.StatusUnauthorized,

	ErrCodeInvalidRequest:    http.StatusBadRequest,
	ErrCodeInvalidEntityKey:  http.StatusBadRequest,
	ErrCodeInvalidRegion:     http.StatusBadRequest,
	ErrCodeUnknownAnomaly:    http.StatusBadRequest,
	ErrCodeMissingActor:      http.StatusBadRequest,
	ErrCodeInvalidKillReason: http.StatusBadRequest,
	ErrCodeInvalidPrice:      http.StatusBadRequest,
	ErrCodeInvalidDuration:   http.StatusBadRequest,

	ErrCodeInvalidPolicy: http.StatusUnprocessableEntity,
	ErrCodeSystemActor:   http.StatusForbidden,

	ErrCodeRecordNotFound:    http.StatusNotFound,
	ErrCodeReportNotFound:    http.StatusNotFound,
	ErrCodeRegionMismatch:    http.StatusConflict,
	ErrCodeInvalidTransition: http.StatusConflict,
	ErrCodeEntityKilled:      http.StatusConflict,
	ErrCodeReportResolved:    http.StatusConflict,
	ErrCodeAuditCorrupted:    http.StatusInternalServerError,
	ErrCodeReportConflict:    http.StatusConflict,

	ErrCodeDatabaseError:   http.StatusServiceUnavailable,
	ErrCodeVersionConflict: http.StatusConflict,
	ErrCodeLockTimeout:     http.StatusServiceUnavailable,

	ErrCodeInternalServerError: http.StatusInternalServerError,
	ErrCodeServiceUnavailable:  http.StatusServiceUnavailable,
	ErrCodeConfigurationError:  http.StatusInternalServerError,

	ErrCodeRateLimitExceeded: http.StatusTooManyRequests,
}

// AppError represents a structured application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

func ErrInvalidRequest(details string) *AppError {
	return NewAppError(ErrCodeInvalidRequest, "Invalid request", details, nil)
}

func ErrMissingField(field string) *AppError {
	return NewAppError(ErrCodeInvalidRequest, "Missing required field", fmt.Sprintf("Field: %s", field), nil)
}

func ErrMissingToken() *AppError {
	return NewAppError(ErrCodeMissingToken, "Authorization token required", "", nil)
}

func ErrInvalidToken(details string) *AppError {
	return NewAppError(ErrCodeInvalidToken, "Invalid token", details, nil)
}

func ErrInternalServerError(details string, cause error) *AppError {
	return NewAppError(ErrCodeInternalServerError, "Internal server error", details, cause)
}

type domainMapping struct {
	target error
	code   ErrorCode
}

var domainMappings = []domainMapping{
	{domain.ErrInvalidEntityKey, ErrCodeInvalidEntityKey},
	{domain.ErrInvalidRegion, ErrCodeInvalidRegion},
	{domain.ErrUnknownAnomalyType, ErrCodeUnknownAnomaly},
	{domain.ErrMissingActor, ErrCodeMissingActor},
	{domain.ErrInvalidKillReason, ErrCodeInvalidKillReason},
	{domain.ErrInvalidPrice, ErrCodeInvalidPrice},
	{domain.ErrInvalidDuration, ErrCodeInvalidDuration},
	{domain.ErrInvalidPolicy, ErrCodeInvalidPolicy},
	{domain.ErrSystemActor, ErrCodeSystemActor},
	{domain.ErrRecordNotFound, ErrCodeRecordNotFound},
	{domain.ErrReportNotFound, ErrCodeReportNotFound},
	{domain.ErrRegionMismatch, ErrCodeRegionMismatch},
	{domain.ErrInvalidTransition, ErrCodeInvalidTransition},
	{domain.ErrEntityKilled, ErrCodeEntityKilled},
	{domain.ErrReportResolved, ErrCodeReportResolved},
	{domain.ErrAuditCorrupted, ErrCodeAuditCorrupted},
	{domain.ErrReportConflict, ErrCodeReportConflict},
	{ports.ErrRateLimited, ErrCodeRateLimitExceeded},
	{ports.ErrVersionConflict, ErrCodeVersionConflict},
	{ports.ErrLockTimeout, ErrCodeLockTimeout},
}

// FromDomain converts a domain or port error into an AppError. Errors that
// carry no known sentinel become SERVER_6001 with the cause attached.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	for _, m := range domainMappings {
		if errors.Is(err, m.target) {
			return NewAppError(m.code, m.target.Error(), detailsOf(err, m.target), err)
		}
	}
	return ErrInternalServerError("", err)
}

// detailsOf returns the context wrapped around a sentinel, if any
func detailsOf(err, target error) string {
	if err.Error() == target.Error() {
		return ""
	}
	return err.Error()
}

// GetHTTPStatusCode returns the HTTP status for an error
func GetHTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if status, ok := statusByCode[appErr.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}
