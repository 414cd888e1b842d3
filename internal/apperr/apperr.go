// Package apperr defines the error taxonomy shared by the store, the graph
// index and the transport layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindValidationFailed Kind = "validation_failed"
	KindTransient        Kind = "transient"
	KindInternal         Kind = "internal"
)

// Reason refines a Conflict.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonCycleDetected         Reason = "cycle_detected"
	ReasonCrossProjectReference Reason = "cross_project_reference"
	ReasonInvalidTrace          Reason = "invalid_trace"
	ReasonDuplicateID           Reason = "duplicate_id"
	ReasonHasDependents         Reason = "has_dependents"
	ReasonInvalidReference      Reason = "invalid_reference"
	ReasonStaleWrite            Reason = "stale_write"
)

// Error carries a kind, an optional conflict reason and the ids a caller
// needs to correct the request.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	IDs     []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != ReasonNone {
		b.WriteString("/")
		b.WriteString(string(e.Reason))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind and, when the sentinel names one, by reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrValidationFailed      = &Error{Kind: KindValidationFailed}
	ErrTransient             = &Error{Kind: KindTransient}
	ErrInternal              = &Error{Kind: KindInternal}
	ErrCycleDetected         = &Error{Kind: KindConflict, Reason: ReasonCycleDetected}
	ErrCrossProjectReference = &Error{Kind: KindConflict, Reason: ReasonCrossProjectReference}
	ErrInvalidTrace          = &Error{Kind: KindConflict, Reason: ReasonInvalidTrace}
	ErrDuplicateID           = &Error{Kind: KindConflict, Reason: ReasonDuplicateID}
	ErrHasDependents         = &Error{Kind: KindConflict, Reason: ReasonHasDependents}
	ErrInvalidReference      = &Error{Kind: KindConflict, Reason: ReasonInvalidReference}
	ErrStaleWrite            = &Error{Kind: KindConflict, Reason: ReasonStaleWrite}
)

func NotFound(msg string, ids ...string) error {
	return &Error{Kind: KindNotFound, Message: msg, IDs: ids}
}

func Conflict(reason Reason, msg string, ids ...string) error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg, IDs: ids}
}

func Invalid(msg string, ids ...string) error {
	return &Error{Kind: KindValidationFailed, Message: msg, IDs: ids}
}

func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf classifies err; anything outside the taxonomy is Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the conflict reason of err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// IDsOf returns the offending ids carried by err.
func IDsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.IDs
	}
	return nil
}
