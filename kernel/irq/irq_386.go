//go:build 386

package irq

// Init installs the IDT and wires every gate entry to dispatchTrap.
func Init() {
	installIDT()
}

// installIDT populates the IDT with gate descriptors pointing at the
// generated per-vector trampolines and loads it via LIDT.
func installIDT()

// dispatchTrap is invoked by the generated trampolines after they
// have saved the register state. It converts the raw stack layout
// into a Regs/Frame pair and calls Dispatch.
func dispatchTrap()
