package errors

import "fmt"

// Convenience constructors for common error patterns.

// Compile wraps a code generator failure.
func Compile(cause error) *Error {
	return &Error{Phase: PhaseCompile, Kind: KindInvalidInput, Cause: cause}
}

// Headless reports an operation requiring a code generator on an engine
// built without one.
func Headless(op string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindHeadless,
		Detail: fmt.Sprintf("engine has no compiler, cannot %s", op),
	}
}

// Closed reports use of an engine, artifact or instance after Close.
func Closed(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindClosed, Detail: what + " is closed"}
}

// BadMagic reports a serialized artifact that does not start with the
// expected magic bytes.
func BadMagic(got []byte) *Error {
	return &Error{
		Phase:  PhaseDeserialize,
		Kind:   KindBadMagic,
		Detail: fmt.Sprintf("not a serialized artifact (magic %x)", got),
	}
}

// UnknownVersion reports a format version this build cannot read.
func UnknownVersion(got, supported uint16) *Error {
	return &Error{
		Phase:  PhaseDeserialize,
		Kind:   KindUnknownVersion,
		Detail: fmt.Sprintf("format version %d, this build reads version %d", got, supported),
	}
}

// IncompatibleTarget reports an artifact compiled for a target the host
// cannot satisfy.
func IncompatibleTarget(cause error) *Error {
	return &Error{Phase: PhaseDeserialize, Kind: KindIncompatibleTarget, Cause: cause}
}

// Truncated reports input that ends before a section is complete.
func Truncated(section string) *Error {
	return &Error{
		Phase:  PhaseDeserialize,
		Kind:   KindTruncated,
		Detail: fmt.Sprintf("input ends inside %s", section),
	}
}

// HashMismatch reports a payload whose content hash does not match the
// header.
func HashMismatch(want, got uint64) *Error {
	return &Error{
		Phase:  PhaseDeserialize,
		Kind:   KindHashMismatch,
		Detail: fmt.Sprintf("payload hash %016x, header records %016x", got, want),
	}
}

// Corrupt reports a structurally invalid payload.
func Corrupt(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseDeserialize,
		Kind:   KindCorrupt,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Unsupported reports an operation a backend cannot perform.
func Unsupported(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindUnsupported, Detail: what}
}

// IO wraps a filesystem failure.
func IO(phase Phase, cause error) *Error {
	return &Error{Phase: phase, Kind: KindIO, Cause: cause}
}

// ResourceLimit reports instantiation hitting a host resource limit.
func ResourceLimit(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindResourceLimit,
		Detail: what,
		Cause:  cause,
	}
}

// Instantiation wraps a failure while building or starting an instance.
func Instantiation(cause error) *Error {
	return &Error{Phase: PhaseInstantiate, Kind: KindInstantiation, Cause: cause}
}
