package patient

import (
	"errors"
	"strings"
)

// Sentinel errors returned (possibly wrapped) by the service and the stores.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrConflict     = errors.New("revision conflict")
)

// ValidationError aggregates every field rule that failed.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, ", ")
}

func (e *ValidationError) Kind() string { return "validation" }

func newValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Messages: msgs}
}

// NotFoundError carries a user-facing message and matches ErrNotFound.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Kind() string { return "not_found" }

var (
	errPatientNotFound    = &NotFoundError{Msg: "Patient not found"}
	errVisitNotFound      = &NotFoundError{Msg: "Visit not found"}
	errAttachmentNotFound = &NotFoundError{Msg: "Attachment not found"}
	errInvalidIndex       = &NotFoundError{Msg: "Invalid index"}
)

// DuplicateKeyError reports a unique-key collision on create.
type DuplicateKeyError struct {
	Key   string
	Value string
}

func (e *DuplicateKeyError) Error() string {
	return "duplicate " + e.Key + ": " + e.Value
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

func (e *DuplicateKeyError) Kind() string { return "duplicate_key" }

// ConflictError reports a save against a stale revision.
type ConflictError struct {
	Revision int64
}

func (e *ConflictError) Error() string {
	return "patient was modified concurrently, reload and retry"
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Kind() string { return "conflict" }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
