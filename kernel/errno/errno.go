// Package errno defines the POSIX-flavored error categories that the
// syscall dispatcher returns to user mode. The category is numeric,
// not a type hierarchy, because it has to survive the trip through a
// single machine-word syscall return value.
package errno

// Category classifies a kernel error for the purposes of the syscall return
// convention: zero or positive is success, negative is -Category.
type Category int32

const (
	// None marks an *kernel.Error that never crosses the syscall boundary.
	None Category = iota
	InvalidArgument
	NoSuchFileOrDirectory
	PermissionDenied
	FileExists
	NotADirectory
	IsADirectory
	TooManyOpenFiles
	BadFileDescriptor
	WouldBlock
	Interrupted
	OutOfMemory
	NoSuchProcess
	NotImplemented
	NoSuchSyscall
)

var names = [...]string{
	None:                  "no error",
	InvalidArgument:       "invalid argument",
	NoSuchFileOrDirectory: "no such file or directory",
	PermissionDenied:      "permission denied",
	FileExists:            "file exists",
	NotADirectory:         "not a directory",
	IsADirectory:          "is a directory",
	TooManyOpenFiles:      "too many open files",
	BadFileDescriptor:     "bad file descriptor",
	WouldBlock:            "would block",
	Interrupted:           "interrupted",
	OutOfMemory:           "out of memory",
	NoSuchProcess:         "no such process",
	NotImplemented:        "not implemented",
	NoSuchSyscall:         "no such syscall",
}

// String implements fmt.Stringer (and satisfies early.Printf's %s verb when
// called explicitly since the early package cannot rely on itab resolution).
func (c Category) String() string {
	if int(c) < 0 || int(c) >= len(names) {
		return "unknown error"
	}
	return names[c]
}

// Retval converts a category into the negative machine-word value that
// SyscallDispatcher hands back to user mode. Success paths never call this;
// they return the non-negative result directly.
func (c Category) Retval() int64 {
	return -int64(c)
}
