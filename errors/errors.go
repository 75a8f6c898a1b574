// Package errors provides structured error types for the engine layer.
//
// Errors are categorized by Phase (which operation failed) and Kind
// (failure class). Deserialization failures carry a distinct Kind per
// class so callers can tell a malformed header from an incompatible
// target or a corrupted payload without string matching.
//
// All errors implement the standard error interface and support
// errors.Is/As; two *Error values match when Phase and Kind agree.
package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which engine operation the error occurred in.
type Phase string

const (
	PhaseCompile     Phase = "compile"
	PhaseSerialize   Phase = "serialize"
	PhaseDeserialize Phase = "deserialize"
	PhaseLink        Phase = "link"
	PhaseInstantiate Phase = "instantiate"
	PhaseCall        Phase = "call"
)

// Kind categorizes the error.
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindUnsupported   Kind = "unsupported"
	KindHeadless      Kind = "headless"
	KindClosed        Kind = "closed"
	KindIO            Kind = "io"
	KindResourceLimit Kind = "resource_limit"
	KindInstantiation Kind = "instantiation"
	KindTrap          Kind = "trap"

	// Deserialization failure classes, checked in this order.
	KindBadMagic           Kind = "bad_magic"
	KindUnknownVersion     Kind = "unknown_version"
	KindIncompatibleTarget Kind = "incompatible_target"
	KindTruncated          Kind = "truncated"
	KindHashMismatch       Kind = "hash_mismatch"
	KindCorrupt            Kind = "corrupt"
)

// Error is the structured error type used throughout the engine.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two *Error values match
// when their Phase and Kind agree; an empty Phase or Kind on the target
// acts as a wildcard.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the context path, e.g. an import's module and field name.
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return &b.err
}
