// Package trap turns raw machine faults from executing code into
// structured runtime errors with symbolicated stack traces.
//
// A virtual machine that runs compiled code reports a Fault: the trap
// cause plus the program counter, frame pointer and a stack snapshot at
// the moment of the fault. Symbolicate walks the frame-pointer chain
// through a Registry of live code regions and maps each return address
// back to a function index and bytecode offset via the artifact's
// address map.
package trap

// Kind classifies the cause of a trap.
type Kind int

const (
	// Unknown covers faults the engine cannot classify.
	Unknown Kind = iota

	// Unreachable is an executed unreachable instruction.
	Unreachable

	// MemoryOutOfBounds is a linear memory access outside the
	// allocated region.
	MemoryOutOfBounds

	// TableOutOfBounds is a table access past the table's bounds.
	TableOutOfBounds

	// IndirectCallToNull is an indirect call through an uninitialized
	// table element.
	IndirectCallToNull

	// BadSignature is an indirect call whose target's signature does
	// not match the declared type.
	BadSignature

	// IntegerDivideByZero is an integer division or remainder by zero.
	IntegerDivideByZero

	// IntegerOverflow is an integer operation whose result cannot be
	// represented, such as INT_MIN / -1.
	IntegerOverflow

	// BadConversionToInteger is a float-to-integer truncation of a NaN
	// or out-of-range value.
	BadConversionToInteger

	// StackExhausted is a call stack overflow.
	StackExhausted

	// UnalignedAtomic is an atomic access on a misaligned address.
	UnalignedAtomic

	// Host marks a trap raised by a host function returning an error.
	Host
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case MemoryOutOfBounds:
		return "out of bounds memory access"
	case TableOutOfBounds:
		return "undefined element: out of bounds table access"
	case IndirectCallToNull:
		return "uninitialized element"
	case BadSignature:
		return "indirect call type mismatch"
	case IntegerDivideByZero:
		return "integer divide by zero"
	case IntegerOverflow:
		return "integer overflow"
	case BadConversionToInteger:
		return "invalid conversion to integer"
	case StackExhausted:
		return "call stack exhausted"
	case UnalignedAtomic:
		return "unaligned atomic access"
	case Host:
		return "host error"
	}
	return "unknown trap"
}

// Error makes a bare Kind usable as an error sentinel with errors.Is.
func (k Kind) Error() string { return "wasm trap: " + k.String() }
