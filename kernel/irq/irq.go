// Package irq provides an architecture-neutral interrupt and exception
// dispatch layer. Each architecture's entry trampoline (written in
// assembly) saves the trapped register state and calls Dispatch with
// the vector number that fired; this package routes the trap to
// whichever handler was registered for that vector.
package irq

import "github.com/castorworks/CastorOS-sub004/kernel/cpu"

// ExceptionNum identifies an interrupt, exception or syscall gate. The
// low vectors (0-31) are reserved for CPU exceptions, mirroring the
// layout used by the amd64 IDT; other architectures map their own
// exception classes onto the same numbering so the rest of the kernel
// can stay architecture-neutral.
type ExceptionNum uint8

const (
	// DivideByZero occurs when dividing any number by 0.
	DivideByZero ExceptionNum = 0

	// NMI is a non-maskable interrupt, typically raised for fatal
	// hardware conditions.
	NMI ExceptionNum = 2

	// InvalidOpcode occurs when the CPU encounters an undefined
	// instruction.
	InvalidOpcode ExceptionNum = 6

	// DeviceNotAvailable occurs when executing a floating point
	// instruction while the FPU is unavailable.
	DeviceNotAvailable ExceptionNum = 7

	// DoubleFault occurs when an exception fires while another
	// exception handler is already running.
	DoubleFault ExceptionNum = 8

	// GPFException is a general protection fault: a privilege or
	// segment/permission check failed.
	GPFException ExceptionNum = 13

	// PageFaultException occurs when a virtual address translation
	// fails (missing mapping or permission check).
	PageFaultException ExceptionNum = 14

	// FirstIRQNum is the first vector number reserved for external
	// (device) interrupts, after the CPU exception range.
	FirstIRQNum ExceptionNum = 32
)

// ExceptionHandler handles a CPU exception that does not carry an
// error code.
type ExceptionHandler func(frame *Frame, regs *Regs)

// ExceptionHandlerWithCode handles a CPU exception that pushes an
// error code (e.g. page faults, general protection faults).
type ExceptionHandlerWithCode func(errorCode uint64, frame *Frame, regs *Regs)

// IRQHandler handles an external (device) interrupt.
type IRQHandler func(regs *Regs)

var (
	exceptionHandlers         [FirstIRQNum]ExceptionHandler
	exceptionHandlersWithCode [FirstIRQNum]ExceptionHandlerWithCode
	irqHandlers               = make(map[ExceptionNum]IRQHandler)

	// the following function vars are used by tests and are
	// automatically inlined by the compiler when building the kernel.
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// HandleException registers handler to run when num fires. Only valid
// for exception numbers that do not push an error code.
func HandleException(num ExceptionNum, handler ExceptionHandler) {
	exceptionHandlers[num] = handler
}

// HandleExceptionWithCode registers handler to run when num fires.
// Only valid for exception numbers that push an error code onto the
// trap frame (GPFException, PageFaultException, ...).
func HandleExceptionWithCode(num ExceptionNum, handler ExceptionHandlerWithCode) {
	exceptionHandlersWithCode[num] = handler
}

// Register installs handler for an external interrupt number.
func Register(num ExceptionNum, handler IRQHandler) {
	irqHandlers[num] = handler
}

// Unregister removes any handler previously installed for num.
func Unregister(num ExceptionNum) {
	delete(irqHandlers, num)
}

// Dispatch routes a trapped vector to its registered handler. It is
// called by the architecture-specific trap entrypoint after the
// register state has been saved.
func Dispatch(num ExceptionNum, errorCode uint64, frame *Frame, regs *Regs) {
	switch {
	case num < FirstIRQNum && exceptionHandlersWithCode[num] != nil:
		exceptionHandlersWithCode[num](errorCode, frame, regs)
	case num < FirstIRQNum && exceptionHandlers[num] != nil:
		exceptionHandlers[num](frame, regs)
	default:
		if handler, ok := irqHandlers[num]; ok {
			handler(regs)
		}
	}
}

// interruptsEnabled tracks whether interrupts are currently enabled so
// nested SaveAndDisable/Restore pairs behave correctly. It assumes
// interrupts start out enabled once the kernel reaches its main loop.
var interruptsEnabled = true

// SaveAndDisable disables interrupts and returns whether they were
// enabled beforehand, so the caller can later restore the prior state
// via Restore.
func SaveAndDisable() bool {
	wasEnabled := interruptsEnabled
	disableInterruptsFn()
	interruptsEnabled = false
	return wasEnabled
}

// Restore re-enables interrupts if wasEnabled is true.
func Restore(wasEnabled bool) {
	if wasEnabled {
		enableInterruptsFn()
		interruptsEnabled = true
	}
}
