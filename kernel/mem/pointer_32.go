//go:build 386

package mem

const pointerShift = 2
