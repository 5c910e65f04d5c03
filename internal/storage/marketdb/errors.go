package marketdb

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Sentinel errors surfaced by the store.
var (
	ErrStoreClosed = errors.New("store connection is closed")
	ErrTxClosed    = errors.New("transaction is closed")

	ErrUserNotFound        = errors.New("user not found")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrContractNotFound    = errors.New("contract not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateEntry      = errors.New("duplicate entry")

	ErrMissingDatabase = errors.New("database name is required")
	ErrMissingHost     = errors.New("database host is required")
	ErrMissingUsername = errors.New("database username is required")
	ErrInvalidPort     = errors.New("invalid database port")
	ErrInvalidTimeout  = errors.New("timeout must be positive")
	ErrInvalidRetries  = errors.New("max retries must be >= 0")
)

// ErrorType categorizes store errors.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConfiguration
	ErrorTypeConnection
	ErrorTypeTransaction
	ErrorTypeQuery
	ErrorTypeData
	ErrorTypeConstraint
	ErrorTypeSchema
)

// StoreError carries the failing operation and its category alongside the
// underlying cause.
type StoreError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Retryable bool
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newError(t ErrorType, op, msg string, cause error) *StoreError {
	return &StoreError{
		Type:      t,
		Operation: op,
		Message:   msg,
		Cause:     cause,
		Retryable: isSerializationFailure(cause),
	}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(op, msg string, cause error) *StoreError {
	return newError(ErrorTypeConfiguration, op, msg, cause)
}

// NewConnectionError creates a connection error.
func NewConnectionError(op, msg string, cause error) *StoreError {
	return newError(ErrorTypeConnection, op, msg, cause)
}

// NewTransactionError creates a transaction error.
func NewTransactionError(op, msg string, cause error) *StoreError {
	return newError(ErrorTypeTransaction, op, msg, cause)
}

// NewQueryError creates a query error.
func NewQueryError(op, msg string, cause error) *StoreError {
	return newError(ErrorTypeQuery, op, msg, cause)
}

// NewDataError creates a data error.
func NewDataError(op, msg string, cause error) *StoreError {
	return newError(ErrorTypeData, op, msg, cause)
}

// NewSchemaError creates a schema error.
func NewSchemaError(op, msg string, cause error) *StoreError {
	return newError(ErrorTypeSchema, op, msg, cause)
}

// Postgres SQLSTATE codes that justify retrying a serializable transaction.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return code == sqlstateSerializationFailure || code == sqlstateDeadlockDetected
	}
	return false
}

// IsRetryable reports whether the error is a transient serialization or
// deadlock failure that a fresh transaction may not hit.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) && se.Retryable {
		return true
	}
	return isSerializationFailure(err)
}

// IsUniqueViolation reports whether the error is a unique constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
