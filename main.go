package main

import "github.com/castorworks/CastorOS-sub004/kernel/kmain"

var (
	multibootInfoPtr       uintptr
	kernelStart, kernelEnd uintptr
)

// main makes a dummy call to the actual kernel entrypoint function. It is
// intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code, which is otherwise only reachable from the rt0
// assembly trampoline.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the call and removing Kmain from the generated object file.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd)
}
