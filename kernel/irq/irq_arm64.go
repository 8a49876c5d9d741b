//go:build arm64

package irq

// Init installs the AArch64 exception vector table (populated with
// trampolines for each of the 16 entries covering EL1/EL0, sync/IRQ/
// FIQ/SError) and points VBAR_EL1 at it.
func Init() {
	installVectorTable()
}

// installVectorTable writes the exception vector table and loads
// VBAR_EL1.
func installVectorTable()

// dispatchTrap is invoked by the generated trampolines after they
// have saved the register state. It converts the raw exception frame
// into a Regs/Frame pair, decodes ESR_EL1/FAR_EL1 where relevant and
// calls Dispatch.
func dispatchTrap()
