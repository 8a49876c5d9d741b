package kernel

import "github.com/castorworks/CastorOS-sub004/kernel/errno"

// Error describes a kernel kerror. All kernel errors must be defined as global
// variables that are pointers to the Error structure. This requirement stems
// from the fact that the Go allocator is not available to us so we cannot use
// errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// Category classifies this error into one of the POSIX-flavored
	// categories that the syscall dispatcher surfaces to user mode. Errors
	// that never cross the syscall boundary may leave this as its zero
	// value (errno.None).
	Category errno.Category
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// NewError builds an *Error tagged with the given category. Kernel code that
// never needs to classify an error (e.g. early boot failures) can keep using
// an untagged &Error{...} literal instead.
func NewError(module, message string, category errno.Category) *Error {
	return &Error{Module: module, Message: message, Category: category}
}
