//go:build (linux || darwin) && amd64

package jit

import "github.com/ebitengine/purego"

// callNative calls fn as a C function taking one pointer argument.
// purego switches to the system stack and follows the platform C ABI.
func callNative(fn, arg uintptr) error {
	purego.SyscallN(fn, arg)
	return nil
}
