//go:build 386

package syscall

import (
	"github.com/castorworks/CastorOS-sub004/kernel/arch"
	"github.com/castorworks/CastorOS-sub004/kernel/irq"
)

// toTrapRegs copies the six syscall argument registers plus eax into
// the neutral Raw layout arch.Traits.SyscallArgs/SyscallNumber expect:
// Raw[0..5] = ebx, ecx, edx, esi, edi, ebp; Raw[6] = eax.
func toTrapRegs(r *irq.Regs) arch.TrapRegs {
	var t arch.TrapRegs
	t.Raw[0] = uint64(r.EBX)
	t.Raw[1] = uint64(r.ECX)
	t.Raw[2] = uint64(r.EDX)
	t.Raw[3] = uint64(r.ESI)
	t.Raw[4] = uint64(r.EDI)
	t.Raw[5] = uint64(r.EBP)
	t.Raw[6] = uint64(r.EAX)
	return t
}

// storeReturn writes the dispatcher's result back into eax, the only
// field SetSyscallReturn ever touches on this architecture.
func storeReturn(t *arch.TrapRegs, r *irq.Regs) {
	r.EAX = uint32(t.Raw[6])
}

// setEntryPoint overwrites the trap frame's resume address and stack
// so the pending syscall return lands in a brand new program instead
// of back into the one that called execve.
func setEntryPoint(r *irq.Regs, entry, stack uintptr) {
	r.EIP = uint32(entry)
	r.ESP = uint32(stack)
}
