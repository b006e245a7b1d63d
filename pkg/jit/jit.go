// Package jit compiles parsed programs into native x86-64 machine code and runs them.
//
// Compilation writes instruction bytes into a page-aligned CodeBuffer, flips the
// region from writable to executable once, and wraps it in a Function that can be
// invoked with a Context. Generated code follows the System V AMD64 calling
// convention and takes a single pointer argument.
//
// Register use inside generated code:
//
//	rsp  base of the zeroed tape reserved in the prologue
//	r8   cell pointer (offset into the tape)
//	r9   output cursor
//	r10  output end
//	rdi  the Context frame, never modified
//	al   scratch for EmitByte
package jit

import (
	"errors"
	"os"
	"runtime"
)

// Errors.
var (
	// ErrMemory wraps a failed mmap, mprotect or munmap. No retry is attempted.
	ErrMemory = errors.New("jit memory")

	// ErrUnsupportedPlatform is returned when generated code cannot run on this host.
	ErrUnsupportedPlatform = errors.New("jit: native execution requires linux or darwin on amd64")

	// ErrReleased is returned when invoking a Function after Close.
	ErrReleased = errors.New("jit: function already released")

	// ErrOutputOverflow is returned when a program emits more bytes than its Context holds.
	ErrOutputOverflow = errors.New("jit: output buffer overflow")

	// ErrTapeOutOfBounds is returned when a program touches a cell outside the tape.
	// The access does not happen; output written before it is kept.
	ErrTapeOutOfBounds = errors.New("jit: cell pointer out of bounds")

	// ErrInvalidTapeSize is returned for a tape size that is not a positive multiple of 8.
	ErrInvalidTapeSize = errors.New("jit: invalid tape size")
)

// Tape constants.
const (
	// DefaultTapeSize is the number of data cells reserved on the stack.
	DefaultTapeSize = 32

	// MaxTapeSize bounds the tape so the prologue stays small.
	MaxTapeSize = 4096
)

// PageSize is the host memory page size.
var PageSize = os.Getpagesize()

// NativeSupported reports whether generated code can be executed on this host.
func NativeSupported() bool {
	return runtime.GOARCH == "amd64" && (runtime.GOOS == "linux" || runtime.GOOS == "darwin")
}

// ValidTapeSize reports whether n can be used as a tape size.
func ValidTapeSize(n int) bool {
	return n > 0 && n <= MaxTapeSize && n%8 == 0
}
