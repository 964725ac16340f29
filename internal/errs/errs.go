package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes pipeline failures. The kind decides retry behavior:
// only cardinality-tolerance failures are retried, everything else is
// fatal for the unit or the job.
type Kind string

const (
	KindConnectivity         Kind = "connectivity"
	KindCapture              Kind = "capture"
	KindRestore              Kind = "restore"
	KindSchemaMismatch       Kind = "schema_mismatch"
	KindCardinalityTolerance Kind = "cardinality_tolerance"
	KindTransfer             Kind = "transfer"
	KindResourceExhaustion   Kind = "resource_exhaustion"
	KindInterrupted          Kind = "interrupted"
)

// Error carries the failure kind plus the pipeline location it was
// raised from, so the failure event can name the stage, unit, and
// check without string parsing.
type Error struct {
	Kind  Kind
	Stage string
	Unit  string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Stage != "" {
		s += " [" + e.Stage + "]"
	}
	if e.Unit != "" {
		s += " unit=" + e.Unit
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on kind, so callers can test errors.Is(err, &Error{Kind: KindTransfer}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithStage returns a copy annotated with the pipeline stage.
func (e *Error) WithStage(stage string) *Error {
	c := *e
	c.Stage = stage
	return &c
}

// WithUnit returns a copy annotated with the failing unit.
func (e *Error) WithUnit(unit string) *Error {
	c := *e
	c.Unit = unit
	return &c
}

// KindOf extracts the kind from any error in the chain, or empty.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
