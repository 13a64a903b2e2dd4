// Package errs defines the closed error-kind taxonomy shared by every
// stage of the migration engine. Callers that need to branch on a
// specific failure (insufficient space vs. a missing tool, say) switch
// on Kind rather than comparing error strings.
package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind enumerates the error taxonomy. It is deliberately closed: new
// failure modes should map onto one of these, not grow the set.
type Kind int

const (
	NotFound Kind = iota
	InvalidParameter
	NotImplemented
	NoMatch
	EnumFailed
	InsufficientSpace
	Unsupported
	ToolMissing
	IoError
	BackupFailed
	CommitFailed
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidParameter:
		return "InvalidParameter"
	case NotImplemented:
		return "NotImplemented"
	case NoMatch:
		return "NoMatch"
	case EnumFailed:
		return "EnumFailed"
	case InsufficientSpace:
		return "InsufficientSpace"
	case Unsupported:
		return "Unsupported"
	case ToolMissing:
		return "ToolMissing"
	case IoError:
		return "IoError"
	case BackupFailed:
		return "BackupFailed"
	case CommitFailed:
		return "CommitFailed"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carrying a Kind alongside the
// usual message/cause chain.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Kind reports the error's taxonomy member.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying cause, preserving it via
// Unwrap and adding a stack trace courtesy of pkg/errors.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: pkgerrors.WithStack(cause)}
}

// ToolMissingFor builds the ToolMissing error spec.md §6 requires: the
// tool name must be reported.
func ToolMissingFor(tool string) *Error {
	return New(ToolMissing, fmt.Sprintf("required external tool not found: %s", tool))
}

// Is reports whether err, or anything it wraps, is an *Error of the
// given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.kind == kind {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
