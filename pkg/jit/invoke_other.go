//go:build !((linux || darwin) && amd64)

package jit

func callNative(fn, arg uintptr) error {
	return ErrUnsupportedPlatform
}
