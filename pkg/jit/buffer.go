package jit

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Protection is the page protection state of a CodeBuffer.
type Protection uint8

const (
	// Writable regions accept Append and PatchInt32.
	Writable Protection = iota

	// Executable regions can be called but no longer written.
	Executable
)

// String returns the name of the protection state.
func (p Protection) String() string {
	switch p {
	case Writable:
		return "writable"
	case Executable:
		return "executable"
	default:
		return "unknown"
	}
}

// emitter is the byte sink the assembler writes into.
type emitter interface {
	Append(b ...byte)
	CurrentAddress() uintptr
	PatchInt32(addr uintptr, v int32)
}

// CodeBuffer owns a page-aligned region of memory that holds generated code.
// The region never moves, so addresses returned by CurrentAddress stay valid
// for the life of the buffer.
type CodeBuffer struct {
	mem    []byte
	offset int
	pages  int
	prot   Protection
}

// NewCodeBuffer maps pages*PageSize bytes of read-write memory.
func NewCodeBuffer(pages int) (*CodeBuffer, error) {
	if pages < 1 {
		pages = 1
	}
	mem, err := mapRegion(pages * PageSize)
	if err != nil {
		return nil, err
	}
	return &CodeBuffer{
		mem:   mem,
		pages: pages,
		prot:  Writable,
	}, nil
}

// PagesFor returns the number of pages needed to hold size bytes.
func PagesFor(size int) int {
	if size <= 0 {
		return 1
	}
	return (size + PageSize - 1) / PageSize
}

// Append writes bytes at the cursor and advances it.
// Writing past capacity or after Finalize is a programming error and panics.
func (b *CodeBuffer) Append(p ...byte) {
	if b.prot != Writable {
		panic("jit: append to executable code buffer")
	}
	if b.offset+len(p) > len(b.mem) {
		panic(fmt.Sprintf("jit: code buffer overflow (%d + %d > %d)", b.offset, len(p), len(b.mem)))
	}
	b.offset += copy(b.mem[b.offset:], p)
}

// CurrentAddress returns the absolute address of the next write position.
func (b *CodeBuffer) CurrentAddress() uintptr {
	return b.base() + uintptr(b.offset)
}

// PatchInt32 overwrites four already-emitted bytes at addr with v (little-endian).
func (b *CodeBuffer) PatchInt32(addr uintptr, v int32) {
	if b.prot != Writable {
		panic("jit: patch of executable code buffer")
	}
	off := int(addr - b.base())
	if addr < b.base() || off+4 > b.offset {
		panic(fmt.Sprintf("jit: patch outside emitted code at offset %d", off))
	}
	binary.LittleEndian.PutUint32(b.mem[off:], uint32(v))
}

// Len returns the number of bytes emitted.
func (b *CodeBuffer) Len() int {
	return b.offset
}

// Cap returns the capacity of the region in bytes.
func (b *CodeBuffer) Cap() int {
	return len(b.mem)
}

// Protection returns the current protection state.
func (b *CodeBuffer) Protection() Protection {
	return b.prot
}

// Bytes returns a copy of the emitted code.
func (b *CodeBuffer) Bytes() []byte {
	out := make([]byte, b.offset)
	copy(out, b.mem[:b.offset])
	return out
}

// Finalize makes the region executable and hands ownership to the returned Function.
// The buffer must not be used afterwards.
func (b *CodeBuffer) Finalize() (*Function, error) {
	if b.prot != Writable {
		panic("jit: code buffer finalized twice")
	}
	if err := protectExec(b.mem); err != nil {
		return nil, err
	}
	b.prot = Executable
	return &Function{
		mem:  b.mem,
		size: b.offset,
	}, nil
}

// Release unmaps a buffer that was never finalized.
func (b *CodeBuffer) Release() error {
	if b.prot != Writable || b.mem == nil {
		return nil
	}
	mem := b.mem
	b.mem = nil
	b.offset = 0
	return unmapRegion(mem)
}

func (b *CodeBuffer) base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.mem)))
}

// sliceSink collects code in ordinary memory. Addresses are offsets from zero,
// which yields the same relative displacements as a mapped buffer.
type sliceSink struct {
	code []byte
}

func (s *sliceSink) Append(p ...byte) {
	s.code = append(s.code, p...)
}

func (s *sliceSink) CurrentAddress() uintptr {
	return uintptr(len(s.code))
}

func (s *sliceSink) PatchInt32(addr uintptr, v int32) {
	binary.LittleEndian.PutUint32(s.code[addr:], uint32(v))
}
