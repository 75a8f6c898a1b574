package trap

import "strings"

// Trap is a runtime fault elevated to a structured error. It carries the
// trap cause and, when the fault happened inside registered code, a
// symbolicated stack trace.
type Trap struct {
	// Kind is the classified trap cause.
	Kind Kind

	// Message is backend-provided detail. When empty, the Kind's
	// canonical message is used.
	Message string

	// Frames is the recovered call stack, innermost first. Empty when
	// the fault could not be traced.
	Frames []Frame

	cause error
}

// New creates a trap of the given kind with no trace.
func New(kind Kind) *Trap {
	return &Trap{Kind: kind}
}

// User wraps an error raised by a host function as a trap. The original
// error stays reachable through errors.Unwrap.
func User(err error) *Trap {
	return &Trap{Kind: Host, cause: err}
}

func (t *Trap) Error() string {
	var b strings.Builder
	b.WriteString("wasm trap: ")
	if t.Message != "" {
		b.WriteString(t.Message)
	} else {
		b.WriteString(t.Kind.String())
	}
	if t.cause != nil {
		b.WriteString(": ")
		b.WriteString(t.cause.Error())
	}
	if len(t.Frames) > 0 {
		b.WriteString(" (at ")
		b.WriteString(t.Frames[0].String())
		b.WriteString(")")
	}
	return b.String()
}

// Trace renders the full stack trace, one frame per line. The first line
// repeats the trap message.
func (t *Trap) Trace() string {
	var b strings.Builder
	b.WriteString("wasm trap: ")
	if t.Message != "" {
		b.WriteString(t.Message)
	} else {
		b.WriteString(t.Kind.String())
	}
	for _, f := range t.Frames {
		b.WriteString("\n  at ")
		b.WriteString(f.String())
	}
	return b.String()
}

// Unwrap returns the host error for user traps, nil otherwise.
func (t *Trap) Unwrap() error { return t.cause }

// Is matches a target Kind by cause, or any *Trap.
func (t *Trap) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return t.Kind == k
	}
	_, ok := target.(*Trap)
	return ok
}
