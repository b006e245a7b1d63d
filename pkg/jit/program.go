package jit

import (
	"fmt"

	"github.com/fortiblox/bfjit/pkg/parser"
)

// Program is a compiled, executable program.
type Program struct {
	fn    *Function
	code  []byte
	emits int
	tape  int
}

// Compile assembles ops into an executable code region sized to fit.
func Compile(ops []parser.Op, opts Options) (*Program, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !NativeSupported() {
		return nil, ErrUnsupportedPlatform
	}

	buf, err := NewCodeBuffer(PagesFor(CodeSize(ops, opts.TapeSize)))
	if err != nil {
		return nil, err
	}
	newAssembler(buf, opts).assemble(ops)

	return finalize(buf, parser.CountEmits(ops), opts.TapeSize)
}

// Load maps previously generated code, such as an image from the code cache.
// The code must come from Assemble or Program.Code; it is position independent.
func Load(code []byte, emits, tapeSize int) (*Program, error) {
	if !NativeSupported() {
		return nil, ErrUnsupportedPlatform
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("jit: empty code image")
	}

	buf, err := NewCodeBuffer(PagesFor(len(code)))
	if err != nil {
		return nil, err
	}
	buf.Append(code...)

	return finalize(buf, emits, tapeSize)
}

func finalize(buf *CodeBuffer, emits, tape int) (*Program, error) {
	code := buf.Bytes()
	fn, err := buf.Finalize()
	if err != nil {
		buf.Release()
		return nil, err
	}
	return &Program{
		fn:    fn,
		code:  code,
		emits: emits,
		tape:  tape,
	}, nil
}

// NewContext returns a Context sized to the program's static EmitByte count.
func (p *Program) NewContext() *Context {
	return NewContext(p.emits)
}

// Invoke runs the program against ctx.
func (p *Program) Invoke(ctx *Context) error {
	return p.fn.Invoke(ctx)
}

// Run invokes the program with a fresh Context and returns what it wrote.
func (p *Program) Run() ([]byte, error) {
	ctx := p.NewContext()
	err := p.Invoke(ctx)
	return ctx.Output(), err
}

// Code returns the generated machine code.
func (p *Program) Code() []byte {
	return p.code
}

// Emits returns the static number of EmitByte operations.
func (p *Program) Emits() int {
	return p.emits
}

// TapeSize returns the tape size the code was generated for.
func (p *Program) TapeSize() int {
	return p.tape
}

// Close releases the executable region.
func (p *Program) Close() error {
	return p.fn.Close()
}
