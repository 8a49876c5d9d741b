//go:build amd64

package irq

import "github.com/castorworks/CastorOS-sub004/kernel/kfmt/early"

// Regs is a snapshot of the general purpose registers and the
// hardware-pushed return frame at the point an interrupt, exception
// or syscall trapped into the kernel.
type Regs struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Print dumps the register snapshot to the active terminal.
func (r *Regs) Print() {
	early.Printf("RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	early.Printf("RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	early.Printf("RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	early.Printf("RBP = %16x\n", r.RBP)
	early.Printf("R8  = %16x R9  = %16x\n", r.R8, r.R9)
	early.Printf("R10 = %16x R11 = %16x\n", r.R10, r.R11)
	early.Printf("R12 = %16x R13 = %16x\n", r.R12, r.R13)
	early.Printf("R14 = %16x R15 = %16x\n", r.R14, r.R15)
	early.Printf("RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	early.Printf("RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	early.Printf("RFL = %16x\n", r.RFlags)
}

// Frame is the hardware-pushed exception return frame. On amd64 its
// fields already appear inside Regs (RIP/CS/RFlags/RSP/SS), so Print
// is a no-op; the type exists so callers that receive a frame
// separately from the general purpose registers (e.g. the page fault
// handler) have something to hold and pass around.
type Frame struct{}

// Print is a no-op; see the Frame doc comment.
func (f *Frame) Print() {}
