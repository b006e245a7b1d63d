package jit

import (
	"runtime"
	"sync"
	"unsafe"
)

// Function is a finalized, executable code region.
// It is the sole owner of the region and unmaps it exactly once on Close.
// Function values must not be copied; pass the pointer.
type Function struct {
	mu   sync.RWMutex
	mem  []byte
	size int
}

// Size returns the number of code bytes in the region.
func (f *Function) Size() int {
	return f.size
}

// Invoke runs the generated code with ctx as its only argument. It blocks
// until the code returns; there is no timeout. Concurrent calls are safe as
// long as each uses its own Context.
func (f *Function) Invoke(ctx *Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.mem == nil {
		return ErrReleased
	}
	if !NativeSupported() {
		return ErrUnsupportedPlatform
	}

	ctx.arm()

	// Generated code dereferences the frame and the buffer through raw addresses.
	var pinner runtime.Pinner
	pinner.Pin(ctx.frame)
	if len(ctx.out) > 0 {
		pinner.Pin(unsafe.SliceData(ctx.out))
	}
	defer pinner.Unpin()

	entry := uintptr(unsafe.Pointer(unsafe.SliceData(f.mem)))
	if err := callNative(entry, uintptr(unsafe.Pointer(ctx.frame))); err != nil {
		return err
	}

	return ctx.collect()
}

// Close unmaps the code region. It waits for running invocations, and later
// calls are no-ops.
func (f *Function) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mem == nil {
		return nil
	}
	mem := f.mem
	f.mem = nil
	return unmapRegion(mem)
}

// Released reports whether Close has been called.
func (f *Function) Released() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mem == nil
}
