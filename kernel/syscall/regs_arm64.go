//go:build arm64

package syscall

import (
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
)

// toTrapRegs copies x0-x30 straight across: arch.Traits reads
// arguments from x0-x5, the syscall number from x8, and the return
// slot is x0, all directly addressable in Raw without reordering.
func toTrapRegs(r *irq.Regs) arch.TrapRegs {
	var t arch.TrapRegs
	copy(t.Raw[:], r.X[:])
	return t
}

// storeReturn writes the dispatcher's result back into x0.
func storeReturn(t *arch.TrapRegs, r *irq.Regs) {
	r.X[0] = t.Raw[0]
}

// setEntryPoint overwrites the trap frame's resume address and stack
// so the pending syscall return lands in a brand new program instead
// of back into the one that called execve.
func setEntryPoint(r *irq.Regs, entry, stack uintptr) {
	r.ELR = uint64(entry)
	r.SP = uint64(stack)
}
