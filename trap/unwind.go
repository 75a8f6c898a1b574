package trap

import "encoding/binary"

// MaxFrames bounds how many frames Unwind recovers from one fault.
const MaxFrames = 128

const wordSize = 8

// Unwind recovers the native return-address chain from a fault snapshot.
// The faulting PC comes first, followed by each caller found by walking
// saved frame pointers.
//
// Frame layout is the conventional pair at the frame pointer: the callee's
// saved FP at fp, the return address at fp+8. The walk stops at the first
// return address outside registered code (the host frame that entered the
// compiled code), at a frame pointer leaving the snapshot window, or when
// the chain stops growing upward.
func Unwind(f *Fault, inText func(pc uintptr) bool, max int) []uintptr {
	var pcs []uintptr
	if f.PC != 0 {
		pcs = append(pcs, f.PC)
	}

	fp := f.FP
	for fp != 0 && len(pcs) < max {
		if fp < f.StackBase {
			break
		}
		off := fp - f.StackBase
		if off+2*wordSize > uintptr(len(f.Stack)) {
			break
		}

		saved := uintptr(binary.LittleEndian.Uint64(f.Stack[off:]))
		ret := uintptr(binary.LittleEndian.Uint64(f.Stack[off+wordSize:]))

		if !inText(ret) {
			break
		}
		pcs = append(pcs, ret)

		// The stack grows down, so a valid caller frame sits strictly
		// above. Anything else is a corrupt or cyclic chain.
		if saved <= fp {
			break
		}
		fp = saved
	}
	return pcs
}
