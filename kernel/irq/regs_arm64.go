//go:build arm64

package irq

import "github.com/castorworks/CastorOS-sub004/kernel/kfmt/early"

// Regs is a snapshot of the general purpose registers and the
// exception return state at the point a synchronous exception or IRQ
// trapped into the kernel.
type Regs struct {
	X [31]uint64

	ELR  uint64
	SPSR uint64
	SP   uint64
}

// Print dumps the register snapshot to the active terminal.
func (r *Regs) Print() {
	for i := 0; i < len(r.X); i += 2 {
		if i+1 < len(r.X) {
			early.Printf("x%-2d = %16x  x%-2d = %16x\n", i, r.X[i], i+1, r.X[i+1])
		} else {
			early.Printf("x%-2d = %16x\n", i, r.X[i])
		}
	}
	early.Printf("elr = %16x  spsr = %16x  sp = %16x\n", r.ELR, r.SPSR, r.SP)
}

// Frame is the exception return frame. On arm64 its fields already
// appear inside Regs (ELR/SPSR/SP), so Print is a no-op.
type Frame struct{}

// Print is a no-op; see the Frame doc comment.
func (f *Frame) Print() {}
