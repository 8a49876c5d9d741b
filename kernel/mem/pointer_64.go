//go:build amd64 || arm64

package mem

const pointerShift = 3
