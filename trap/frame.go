package trap

import "fmt"

// Frame is one symbolicated call frame, innermost first in a trace.
type Frame struct {
	// FuncIndex is the function's index in the module's combined
	// function index space.
	FuncIndex uint32

	// FuncName is the demangled function name, or "" when the module
	// carries no name for the function.
	FuncName string

	// WasmOffset is the byte offset of the faulting or call-site
	// instruction within the function body.
	WasmOffset uint32

	// PC is the native program counter the frame was recovered from.
	PC uintptr
}

func (f Frame) String() string {
	name := f.FuncName
	if name == "" {
		name = "<unknown>"
	}
	return fmt.Sprintf("%s (func %d, offset %d)", name, f.FuncIndex, f.WasmOffset)
}
