// Package cerr defines the seven wire error kinds Secure9P and the dual
// console surface to clients, and a small wrapped-error type that carries
// one.
//
// Modeled on dittofs's pkg/metadata/errors (an ErrorCode enum plus
// fmt.Errorf-wrapping helpers), but the enum itself is specific to Cohesix:
// POSIX errno-style codes (EACCES, ENOENT, ENOSPC, ...) are replaced with
// the seven kinds spec.md §7 names. Every denial in this module is a value
// of this type; nothing panics on user input.
package cerr

import (
	"errors"
	"fmt"
)

// Kind is one of the wire error kinds from spec.md §7.
type Kind int

const (
	// Permission: role not permitted for path/mode.
	Permission Kind = iota + 1
	// NotFound: no such path or worker id.
	NotFound
	// Busy: lease, worker slot, or queue exhausted.
	Busy
	// Invalid: malformed JSON, malformed 9P frame, unknown verb.
	Invalid
	// TooBig: frame exceeds negotiated msize.
	TooBig
	// Closed: fid used after clunk or after revocation.
	Closed
	// RateLimited: auth cooldown in effect.
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Permission:
		return "Permission"
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case Invalid:
		return "Invalid"
	case TooBig:
		return "TooBig"
	case Closed:
		return "Closed"
	case RateLimited:
		return "RateLimited"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with a human-readable cause. It is the only error type
// returned across Secure9P, console, dispatcher, and policy boundaries.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf builds an Error with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an underlying error, preserving it for Unwrap.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: cause.Error(), cause: cause}
}

// As extracts the Kind of err, returning (kind, true) if err is or wraps a
// *Error, and (0, false) otherwise.
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is or wraps an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := As(err)
	return ok && k == kind
}
