package irq

// Controller abstracts the platform interrupt controller (8259 PIC or
// local APIC on amd64/i686, the GIC on arm64). Exactly one
// implementation is installed via SetController during arch-specific
// boot.
type Controller interface {
	// Mask disables delivery of the given IRQ line.
	Mask(line uint8)

	// Unmask enables delivery of the given IRQ line.
	Unmask(line uint8)

	// EOI signals end-of-interrupt for the given IRQ line so the
	// controller can deliver further interrupts on it.
	EOI(line uint8)
}

var activeController Controller

// SetController installs the platform interrupt controller
// implementation used by Mask, Unmask and EOI.
func SetController(c Controller) {
	activeController = c
}

// Mask disables delivery of the given IRQ line on the active controller.
func Mask(line uint8) {
	if activeController != nil {
		activeController.Mask(line)
	}
}

// Unmask enables delivery of the given IRQ line on the active controller.
func Unmask(line uint8) {
	if activeController != nil {
		activeController.Unmask(line)
	}
}

// EOI signals end-of-interrupt for the given IRQ line on the active
// controller.
func EOI(line uint8) {
	if activeController != nil {
		activeController.EOI(line)
	}
}
