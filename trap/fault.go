package trap

import "fmt"

// Fault is the raw machine-state snapshot a virtual machine captures when
// compiled code faults. It carries no symbols; Symbolicate resolves it
// into a Trap using the engine's code registry.
type Fault struct {
	// Kind is the backend's classification of the native fault.
	Kind Kind

	// Message is optional backend detail, such as the faulting address.
	Message string

	// PC is the program counter at the fault.
	PC uintptr

	// FP is the frame pointer at the fault. Zero when the backend did
	// not preserve frame pointers.
	FP uintptr

	// Stack is a copy of the machine stack taken at the fault,
	// covering addresses [StackBase, StackBase+len(Stack)). The saved
	// frame-pointer chain is walked inside this window only.
	Stack []byte

	// StackBase is the address the first byte of Stack was copied from.
	StackBase uintptr
}

func (f *Fault) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("fault: %s at pc %#x", f.Message, f.PC)
	}
	return fmt.Sprintf("fault: %s at pc %#x", f.Kind, f.PC)
}

// Unwrap lets errors.Is match the fault's kind before symbolication.
func (f *Fault) Unwrap() error { return f.Kind }
