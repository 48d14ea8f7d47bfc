package strata

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard sentinel errors. Every typed error below matches one of them
// through errors.Is.
var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("strata: invalid builder input")

	// ErrCompile is matched by every CompileError.
	ErrCompile = errors.New("strata: statement cannot be compiled")

	// ErrAcquireTimeout is matched by every AcquireTimeoutError.
	ErrAcquireTimeout = errors.New("strata: timeout acquiring a connection")

	// ErrPoolClosed is returned by acquire calls made after the pool was destroyed.
	ErrPoolClosed = errors.New("strata: pool is closed")

	// ErrQuery is matched by every QueryError.
	ErrQuery = errors.New("strata: query failed")

	// ErrTransactionState is matched by every TransactionStateError.
	ErrTransactionState = errors.New("strata: invalid transaction state")
)

// ValidationError reports malformed builder input. It never reaches the database.
type ValidationError struct {
	Op      string // Builder method that rejected the input, e.g. "where"
	Message string
	Err     error // Optional underlying error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("strata: %s: %s", e.Op, msg)
	}
	return "strata: " + msg
}

// Is reports whether the target error matches ErrValidation.
func (e *ValidationError) Is(err error) bool {
	return err == ErrValidation
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given builder method.
func NewValidationError(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// CompileError reports an IR that cannot be rendered for the target dialect.
type CompileError struct {
	Dialect string
	Message string
}

// Error returns the error string.
func (e *CompileError) Error() string {
	if e.Dialect != "" {
		return fmt.Sprintf("strata: compile %s: %s", e.Dialect, e.Message)
	}
	return "strata: compile: " + e.Message
}

// Is reports whether the target error matches ErrCompile.
func (e *CompileError) Is(err error) bool {
	return err == ErrCompile
}

// NewCompileError returns a new CompileError.
func NewCompileError(dialect, format string, args ...any) *CompileError {
	return &CompileError{Dialect: dialect, Message: fmt.Sprintf(format, args...)}
}

// IsCompileError returns true if the error is a CompileError.
func IsCompileError(err error) bool {
	if err == nil {
		return false
	}
	var e *CompileError
	return errors.As(err, &e)
}

// AcquireTimeoutError is returned when a connection could not be acquired
// within the configured acquire timeout.
type AcquireTimeoutError struct {
	Timeout time.Duration
	Waiting int // Number of callers queued when the timeout fired
}

// Error returns the error string.
func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("strata: timeout acquiring a connection after %s (%d waiting). The pool is probably full. Are you missing a release or a transaction commit?", e.Timeout, e.Waiting)
}

// Is reports whether the target error matches ErrAcquireTimeout.
func (e *AcquireTimeoutError) Is(err error) bool {
	return err == ErrAcquireTimeout
}

// IsAcquireTimeout returns true if the error is an AcquireTimeoutError.
func IsAcquireTimeout(err error) bool {
	if err == nil {
		return false
	}
	var e *AcquireTimeoutError
	return errors.As(err, &e) || errors.Is(err, ErrAcquireTimeout)
}

// IsPoolClosed returns true if the error reports a destroyed pool.
func IsPoolClosed(err error) bool {
	return errors.Is(err, ErrPoolClosed)
}

// ConnectionError wraps a failure of the raw connection capability to connect.
type ConnectionError struct {
	Attempts int
	Err      error
}

// Error returns the error string.
func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("strata: connect failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("strata: connect failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError returns true if the error is a ConnectionError.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConnectionError
	return errors.As(err, &e)
}

// Constraint kinds reported by QueryError.
const (
	ConstraintUnique     = "unique"
	ConstraintForeignKey = "foreign_key"
	ConstraintCheck      = "check"
	ConstraintNotNull    = "not_null"
)

// QueryError reports a statement rejected by the driver or the database.
// Its message is the interpolated statement followed by the driver message.
type QueryError struct {
	SQL          string // Compiled SQL with placeholders
	Args         []any
	Interpolated string // SQL with the arguments inlined, for diagnostics only
	Constraint   string // One of the Constraint kinds, or empty
	Err          error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	sql := e.Interpolated
	if sql == "" {
		sql = e.SQL
	}
	return fmt.Sprintf("%s - %v", sql, e.Err)
}

// Is reports whether the target error matches ErrQuery.
func (e *QueryError) Is(err error) bool {
	return err == ErrQuery
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// IsConstraintError returns true if the error is a QueryError caused by
// a constraint violation.
func IsConstraintError(err error) bool {
	var e *QueryError
	return errors.As(err, &e) && e.Constraint != ""
}

// TransactionStateError reports a commit, rollback or statement issued
// against a transaction that can no longer accept it.
type TransactionStateError struct {
	Op    string // Attempted operation, e.g. "commit"
	State string // Current transaction state, e.g. "committed"
	ID    string
}

// Error returns the error string.
func (e *TransactionStateError) Error() string {
	var sb strings.Builder
	sb.WriteString("strata: cannot ")
	sb.WriteString(e.Op)
	sb.WriteString(" transaction")
	if e.ID != "" {
		fmt.Fprintf(&sb, " %s", e.ID)
	}
	fmt.Fprintf(&sb, ": transaction is %s", e.State)
	return sb.String()
}

// Is reports whether the target error matches ErrTransactionState.
func (e *TransactionStateError) Is(err error) bool {
	return err == ErrTransactionState
}

// NewTransactionStateError returns a new TransactionStateError.
func NewTransactionStateError(id, op, state string) *TransactionStateError {
	return &TransactionStateError{ID: id, Op: op, State: state}
}

// IsTransactionStateError returns true if the error is a TransactionStateError.
func IsTransactionStateError(err error) bool {
	if err == nil {
		return false
	}
	var e *TransactionStateError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred while rolling back after a failure.
type RollbackError struct {
	Cause error // Error that triggered the rollback
	Err   error // Rollback failure
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v (rollback failed: %v)", e.Cause, e.Err)
}

// Unwrap returns both errors so errors.Is matches either of them.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, e.Err}
}
