// Package vfscontract defines the neutral interface ProcessControl and
// SyscallDispatcher program against for filesystem access. No concrete
// filesystem lives in this repository; a real one registers itself via
// SetFS during boot, the same way kernel/hal exposes a neutral
// Terminal/Console interface that concrete drivers attach to at
// runtime instead of the rest of the kernel importing a specific
// driver package.
package vfscontract

import "github.com/castorworks/CastorOS-sub004/kernel"

// NodeKind classifies a Dirent/Stat result.
type NodeKind uint8

const (
	File NodeKind = iota
	Dir
	CharDev
	BlockDev
	Pipe
	Symlink
)

// NodeRef is an opaque reference to a filesystem object, resolved by
// path via FS.Resolve. The core never inspects its contents; it only
// ever passes it back to the owning FS implementation.
type NodeRef interface{}

// Handle is an opaque open-file reference returned by FS.Open. Reads,
// writes and offset tracking inside the underlying object happen
// through the FS interface, keyed by this handle.
type Handle interface{}

// Dirent is one entry returned by FS.Readdir.
type Dirent struct {
	Name  string
	Inode uint64
	Kind  NodeKind
}

// Stat is the metadata FS.Stat reports for a node.
type Stat struct {
	Inode  uint64
	Kind   NodeKind
	Size   uint64
	Mode   uint32
	Nlink  uint32
}

// OpenFlags mirrors the POSIX open(2) flag bits the dispatcher needs to
// forward.
type OpenFlags uint32

const (
	ReadOnly OpenFlags = 1 << iota
	WriteOnly
	ReadWrite
	Create
	Truncate
	Append
	CloseOnExec
)

// FS is the contract every filesystem/VFS layer implements. ProcessControl
// and SyscallDispatcher call through this interface exclusively; they
// never import a concrete filesystem package.
type FS interface {
	Resolve(path string) (NodeRef, *kernel.Error)
	Open(node NodeRef, flags OpenFlags) (Handle, *kernel.Error)
	Close(h Handle) *kernel.Error
	Read(h Handle, offset, length uint64, buf []byte) (uint64, *kernel.Error)
	Write(h Handle, offset, length uint64, buf []byte) (uint64, *kernel.Error)
	Readdir(node NodeRef, index int) (Dirent, bool, *kernel.Error)
	Mkdir(parent NodeRef, name string, mode uint32) *kernel.Error
	Unlink(parent NodeRef, name string) *kernel.Error
	Stat(node NodeRef) (Stat, *kernel.Error)
}

// activeFS is the registered filesystem implementation. Left nil until
// SetFS is called; every operation above reports NotImplemented (via
// the caller checking activeFS == nil) until then.
var activeFS FS

// SetFS installs the filesystem implementation that Active returns.
func SetFS(fs FS) {
	activeFS = fs
}

// Active returns the currently registered FS, or nil if none has been
// installed yet.
func Active() FS {
	return activeFS
}

// FileHandle is a task's per-descriptor open-file record: a Handle
// into the active FS, a byte offset and the flags it was opened with.
// ProcessControl and SyscallDispatcher are the only code that mutates
// it.
type FileHandle struct {
	Node   NodeRef
	Handle Handle
	Offset uint64
	Flags  OpenFlags
}
