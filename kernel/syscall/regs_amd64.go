//go:build amd64

package syscall

import (
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
)

// toTrapRegs copies the six syscall argument registers plus rax into
// the neutral Raw layout arch.Traits.SyscallArgs/SyscallNumber expect:
// Raw[0..5] = rdi, rsi, rdx, r10, r8, r9; Raw[6] = rax.
func toTrapRegs(r *irq.Regs) arch.TrapRegs {
	var t arch.TrapRegs
	t.Raw[0] = r.RDI
	t.Raw[1] = r.RSI
	t.Raw[2] = r.RDX
	t.Raw[3] = r.R10
	t.Raw[4] = r.R8
	t.Raw[5] = r.R9
	t.Raw[6] = r.RAX
	return t
}

// storeReturn writes the dispatcher's result back into rax, the only
// field SetSyscallReturn ever touches on this architecture.
func storeReturn(t *arch.TrapRegs, r *irq.Regs) {
	r.RAX = t.Raw[6]
}

// setEntryPoint overwrites the trap frame's resume address and stack
// so the pending syscall return lands in a brand new program instead
// of back into the one that called execve.
func setEntryPoint(r *irq.Regs, entry, stack uintptr) {
	r.RIP = uint64(entry)
	r.RSP = uint64(stack)
}
