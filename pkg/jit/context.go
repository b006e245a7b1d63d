package jit

import (
	"strings"
	"unsafe"
)

// nativeFrame is the memory layout generated code sees through rdi.
//
//	+0   output cursor, written back on return
//	+8   output end
//	+16  overflow flag, set when an EmitByte hits the end
//	+17  tape flag, set when a cell access finds the pointer off the tape
type nativeFrame struct {
	cursor   uintptr
	end      uintptr
	overflow uint8
	tapeOut  uint8
	_        [6]byte
}

// Context is the output channel passed into generated code.
// Its buffer capacity is fixed at construction.
type Context struct {
	out   []byte
	n     int
	frame *nativeFrame
}

// NewContext creates a Context whose output buffer holds capacity bytes.
func NewContext(capacity int) *Context {
	if capacity < 0 {
		capacity = 0
	}
	return &Context{
		out:   make([]byte, capacity),
		frame: new(nativeFrame),
	}
}

// Cap returns the capacity of the output buffer.
func (c *Context) Cap() int {
	return len(c.out)
}

// Len returns the number of bytes written by the last invocation.
func (c *Context) Len() int {
	return c.n
}

// Output returns the bytes written by the last invocation.
func (c *Context) Output() []byte {
	return c.out[:c.n]
}

// Buffer returns the whole output buffer, including unwritten zero bytes.
func (c *Context) Buffer() []byte {
	return c.out
}

// Render returns the buffer as text, one character per buffer byte.
func (c *Context) Render() string {
	return RenderText(c.out)
}

// RenderText returns output bytes as text, one character per byte. Bytes
// above 0x7f become the matching Latin-1 character.
func RenderText(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

// Reset clears the buffer so the Context can be reused.
func (c *Context) Reset() {
	clear(c.out)
	c.n = 0
	*c.frame = nativeFrame{}
}

// arm points the native frame at the output buffer.
func (c *Context) arm() {
	*c.frame = nativeFrame{}
	if len(c.out) == 0 {
		return
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(c.out)))
	c.frame.cursor = base
	c.frame.end = base + uintptr(len(c.out))
}

// collect records how far the generated code advanced the cursor and
// reports the fault flags.
func (c *Context) collect() error {
	if len(c.out) > 0 {
		base := uintptr(unsafe.Pointer(unsafe.SliceData(c.out)))
		c.n = int(c.frame.cursor - base)
	}
	switch {
	case c.frame.tapeOut != 0:
		return ErrTapeOutOfBounds
	case c.frame.overflow != 0:
		return ErrOutputOverflow
	}
	return nil
}
