// Package drivercontract defines the neutral driver-facing interfaces
// TimeKeeper and InterruptController depend on. kernel/irq already
// exposes the IRQ half of this contract directly
// (Register/Mask/Unmask/EOI); this package adds the timer half, which
// needs its own registration point since "the timer" is a concrete
// piece of hardware (PIT, HPET, ARM generic timer, ...) that differs
// per platform the way kernel/irq.Controller already abstracts over
// the interrupt controller (8259/APIC/GIC).
package drivercontract

// Timer is the contract a platform timer driver implements. Exactly
// one implementation is installed via SetTimer during arch-specific
// boot, mirroring kernel/irq.SetController.
type Timer interface {
	// Init programs the timer to fire at the given frequency, in Hz.
	Init(hz uint32) error

	// OnTick registers the callback invoked from the timer's IRQ
	// handler on every tick. Only one callback is ever registered;
	// kernel/timekeeper is the sole caller and fans out to its own
	// registered periodic callbacks from there.
	OnTick(cb func())
}

var activeTimer Timer

// SetTimer installs the platform timer driver used by Init and OnTick.
func SetTimer(t Timer) {
	activeTimer = t
}

// Init programs the active timer to fire at hz, or reports false if no
// timer driver has been installed yet.
func Init(hz uint32) (ok bool, err error) {
	if activeTimer == nil {
		return false, nil
	}
	return true, activeTimer.Init(hz)
}

// OnTick registers cb with the active timer driver, if one is
// installed.
func OnTick(cb func()) {
	if activeTimer != nil {
		activeTimer.OnTick(cb)
	}
}
