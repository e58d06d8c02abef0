package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the store and driver. API handlers map these
// to HTTP status codes via errors.Is/errors.As (see pkg/api/errors.go).
var (
	// ErrRunNotFound indicates no run directory matches the given runId.
	ErrRunNotFound = errors.New("run not found")

	// ErrTurnSequenceConflict indicates a submitted turn does not equal
	// 1 + max(snapshot.turn).
	ErrTurnSequenceConflict = errors.New("turn sequence conflict")

	// ErrExecutionAlreadyExists indicates a second non-completed
	// TurnExecution was attempted for a run.
	ErrExecutionAlreadyExists = errors.New("turn execution already exists")

	// ErrExecutionNotFound indicates no TurnExecution row matches (runId, turn).
	ErrExecutionNotFound = errors.New("turn execution not found")

	// ErrGameProjectNotFound indicates no manifest exists for a game project id.
	ErrGameProjectNotFound = errors.New("game project not found")
)

// TurnSequenceConflictError carries the details the API needs for its 409 response.
type TurnSequenceConflictError struct {
	ExpectedTurn int
	ReceivedTurn int
}

// Error implements error.
func (e *TurnSequenceConflictError) Error() string {
	return fmt.Sprintf("turn sequence conflict: expected %d, received %d", e.ExpectedTurn, e.ReceivedTurn)
}

// Unwrap allows errors.Is(err, ErrTurnSequenceConflict) to succeed.
func (e *TurnSequenceConflictError) Unwrap() error {
	return ErrTurnSequenceConflict
}

// StepExecutionConflictError carries the details the API needs for its 409 response.
type StepExecutionConflictError struct {
	ActiveTurn int
}

// Error implements error.
func (e *StepExecutionConflictError) Error() string {
	return fmt.Sprintf("step execution already running for turn %d", e.ActiveTurn)
}

// Unwrap allows errors.Is(err, ErrExecutionAlreadyExists) to succeed.
func (e *StepExecutionConflictError) Unwrap() error {
	return ErrExecutionAlreadyExists
}

// StoreError wraps any I/O or schema-parse failure from the RunStore.
// Per spec.md §4.1, these are fatal to the current turn and never partially
// committed.
type StoreError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err with the operation that failed. Returns nil if err is nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ModuleErrorKind enumerates the module RPC error taxonomy from spec.md §4.2.
type ModuleErrorKind string

// Recognized module error kinds.
const (
	ModuleErrorNetwork ModuleErrorKind = "NetworkError"
	ModuleErrorTimeout ModuleErrorKind = "TimeoutError"
	ModuleErrorHTTP    ModuleErrorKind = "HttpError"
	ModuleErrorSchema  ModuleErrorKind = "SchemaError"
)

// ModuleError is the error surfaced by ModuleClient for any failed RPC.
// It is always fatal to the current stage.
type ModuleError struct {
	Kind        ModuleErrorKind
	Role        string
	Status      int    // set for ModuleErrorHTTP
	BodySnippet string // set for ModuleErrorHTTP
	Issue       string // set for ModuleErrorSchema
	Err         error
}

// Error implements error.
func (e *ModuleError) Error() string {
	switch e.Kind {
	case ModuleErrorHTTP:
		return fmt.Sprintf("%s[%s]: status=%d body=%q", e.Kind, e.Role, e.Status, e.BodySnippet)
	case ModuleErrorSchema:
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Role, e.Issue)
	default:
		return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Role, e.Err)
	}
}

// Unwrap exposes the underlying transport error, if any.
func (e *ModuleError) Unwrap() error {
	return e.Err
}
