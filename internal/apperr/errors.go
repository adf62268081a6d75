package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code    Code              // Machine-readable error code
	Message string            // Human-readable message
	Fields  map[string]string // Per-field validation messages
	Cause   error             // Wrapped underlying error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinel values for errors.Is comparisons; matching is by code only.
var (
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrForbidden          = New(CodeForbidden, "forbidden")
	ErrRoleConflict       = New(CodeRoleConflict, "person already enrolled in this event with another role")
	ErrAlreadyEnrolled    = New(CodeAlreadyEnrolled, "person already enrolled in this event")
	ErrCapacityExhausted  = New(CodeCapacityExhausted, "event capacity exhausted")
	ErrMissingDocument    = New(CodeMissingDocument, "required document missing")
	ErrStateNotAllowed    = New(CodeStateNotAllowed, "state does not allow this operation")
	ErrEventNotModifiable = New(CodeEventNotModifiable, "event does not accept changes in its current state")
	ErrEventEnded         = New(CodeEventEnded, "event already ended")
	ErrScoringDisabled    = New(CodeScoringDisabled, "scoring is not enabled for this event")
	ErrGroupFull          = New(CodeGroupFull, "project already has the maximum number of members")
	ErrWindowElapsed      = New(CodeWindowElapsed, "time window elapsed")
)

// NotFound builds a not-found error naming the missing entity.
func NotFound(entity string) *Error {
	return Newf(CodeNotFound, "%s not found", entity)
}

// Validation aggregates per-field messages; the zero value is ready to use.
type Validation struct {
	fields map[string]string
}

func (v *Validation) Add(field, message string) {
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, exists := v.fields[field]; !exists {
		v.fields[field] = message
	}
}

// Check adds message for field when ok is false.
func (v *Validation) Check(ok bool, field, message string) {
	if !ok {
		v.Add(field, message)
	}
}

// Err returns nil when no field failed.
func (v *Validation) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &Error{Code: CodeValidation, Message: "invalid input", Fields: v.fields}
}

// CodeOf extracts the code of a domain error; other errors report CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// KindOf extracts the kind of a domain error; other errors report KindInternal.
func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}
