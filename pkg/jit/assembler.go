package jit

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/bfjit/pkg/parser"
)

// Options configures code generation.
type Options struct {
	// TapeSize is the number of zeroed cells reserved on the stack.
	// Must be a positive multiple of 8, at most MaxTapeSize.
	TapeSize int
}

// DefaultOptions returns the default code generation options.
func DefaultOptions() Options {
	return Options{
		TapeSize: DefaultTapeSize,
	}
}

func (o Options) validate() error {
	if !ValidTapeSize(o.TapeSize) {
		return fmt.Errorf("%w: %d (want a multiple of 8 in 8..%d)", ErrInvalidTapeSize, o.TapeSize, MaxTapeSize)
	}
	return nil
}

// loopEntry is one LoopEntryStack record.
type loopEntry struct {
	body      uintptr // first byte of the loop body, target of the closing jnz
	exitPatch uintptr // rel32 field of the opening jz, patched at the close
}

// Assembler translates an operation sequence into machine code.
// One Assembler performs one pass.
type Assembler struct {
	out   emitter
	tape  int
	loops []loopEntry

	// rel32 fields of the output bounds checks, patched to the overflow stub.
	overflowPatches []uintptr

	// rel32 fields of the cell pointer checks, patched to the tape stub.
	tapePatches []uintptr

	// inBounds is false after a pointer move until the next check.
	inBounds bool
}

func newAssembler(out emitter, opts Options) *Assembler {
	return &Assembler{
		out:      out,
		tape:     opts.TapeSize,
		inBounds: true,
	}
}

// accessesCell reports whether op reads or writes the current cell.
func accessesCell(k parser.OpKind) bool {
	switch k {
	case parser.IncrementCell, parser.DecrementCell, parser.EmitByte, parser.LoopOpen, parser.LoopClose:
		return true
	}
	return false
}

// CodeSize returns the exact number of bytes generated for ops.
func CodeSize(ops []parser.Op, tapeSize int) int {
	size := prologueFixedSize + (tapeSize/8)*len(opPushRAX) + epilogueSize + overflowStubSize + tapeStubSize
	inBounds := true
	for _, op := range ops {
		if accessesCell(op.Kind) && !inBounds {
			size += tapeCheckSize
			inBounds = true
		}
		switch op.Kind {
		case parser.MovePointerForward, parser.MovePointerBackward:
			size += movePointerSize
			inBounds = false
		case parser.IncrementCell, parser.DecrementCell:
			size += cellArithSize
		case parser.EmitByte:
			size += emitByteSize
		case parser.LoopOpen:
			size += loopOpenSize
		case parser.LoopClose:
			size += loopCloseSize
		}
	}
	return size
}

// Assemble generates machine code for ops without mapping or running it.
// It works on every host architecture.
func Assemble(ops []parser.Op, opts Options) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	sink := &sliceSink{code: make([]byte, 0, CodeSize(ops, opts.TapeSize))}
	newAssembler(sink, opts).assemble(ops)
	return sink.code, nil
}

func (a *Assembler) assemble(ops []parser.Op) {
	a.prologue()
	a.translate(ops)
	if len(a.loops) != 0 {
		panic(fmt.Sprintf("jit: %d loop(s) left open after assembly", len(a.loops)))
	}
	a.epilogue()
	a.overflowStub()
	a.tapeStub()
}

// prologue sets up the frame, reserves the zeroed tape and loads the output window.
func (a *Assembler) prologue() {
	a.out.Append(opPushRBP...)
	a.out.Append(opMovRBPRSP...)

	a.out.Append(opXorRAXRAX...)
	for i := 0; i < a.tape/8; i++ {
		a.out.Append(opPushRAX...)
	}

	a.out.Append(opXorR8R8...)
	a.out.Append(opMovR9RDI...)
	a.out.Append(opMovR10RDI8...)
}

func (a *Assembler) translate(ops []parser.Op) {
	for _, op := range ops {
		if accessesCell(op.Kind) && !a.inBounds {
			a.checkPointer()
		}
		switch op.Kind {
		case parser.MovePointerForward:
			a.out.Append(opIncR8...)
			a.inBounds = false
		case parser.MovePointerBackward:
			a.out.Append(opDecR8...)
			a.inBounds = false
		case parser.IncrementCell:
			a.out.Append(opIncCell...)
		case parser.DecrementCell:
			a.out.Append(opDecCell...)
		case parser.EmitByte:
			a.emitByte()
		case parser.ReadByte:
			// Input is not supported; the operation is a no-op.
		case parser.LoopOpen:
			a.loopOpen()
		case parser.LoopClose:
			a.loopClose()
		}
	}
}

// checkPointer leaves through the tape stub unless 0 <= r8 < tape. The compare
// is unsigned, so a pointer moved left of the tape fails it too.
//
// Every jump into a loop body or past a loop lands where the pointer was
// already checked and not moved since, so one check per run of moves holds
// on all paths.
func (a *Assembler) checkPointer() {
	var imm [4]byte
	binary.LittleEndian.PutUint32(imm[:], uint32(a.tape))
	a.out.Append(opCmpR8Imm32...)
	a.out.Append(imm[:]...)
	a.out.Append(opJAE...)
	a.tapePatches = append(a.tapePatches, a.out.CurrentAddress())
	a.out.Append(0, 0, 0, 0)
	a.inBounds = true
}

func (a *Assembler) emitByte() {
	a.out.Append(opCmpR9R10...)
	a.out.Append(opJAE...)
	a.overflowPatches = append(a.overflowPatches, a.out.CurrentAddress())
	a.out.Append(0, 0, 0, 0)

	a.out.Append(opLoadCell...)
	a.out.Append(opStoreOut...)
	a.out.Append(opIncR9...)
}

// loopOpen skips the body when the current cell is zero. The forward
// displacement is unknown until the matching close and is patched there.
func (a *Assembler) loopOpen() {
	a.out.Append(opCmpCell0...)
	a.out.Append(opJZ...)
	patch := a.out.CurrentAddress()
	a.out.Append(0, 0, 0, 0)

	a.loops = append(a.loops, loopEntry{
		body:      a.out.CurrentAddress(),
		exitPatch: patch,
	})
}

// loopClose jumps back to the body while the current cell is not zero.
func (a *Assembler) loopClose() {
	if len(a.loops) == 0 {
		panic("jit: attempted to close a loop that was never opened")
	}
	entry := a.loops[len(a.loops)-1]
	a.loops = a.loops[:len(a.loops)-1]

	a.out.Append(opCmpCell0...)
	a.out.Append(opJNZ...)
	next := a.out.CurrentAddress() + rel32Size
	a.out.Append(rel32(entry.body, next)...)

	exit := a.out.CurrentAddress()
	a.out.PatchInt32(entry.exitPatch, displacement(exit, entry.exitPatch+rel32Size))
}

func (a *Assembler) epilogue() {
	a.out.Append(opStoreR9RDI...)
	a.out.Append(opMovRSPRBP...)
	a.out.Append(opPopRBP...)
	a.out.Append(opRet...)
}

// overflowStub flags the frame and returns. Every EmitByte bounds check lands here.
func (a *Assembler) overflowStub() {
	stub := a.out.CurrentAddress()
	a.out.Append(opSetOverflow...)
	a.epilogue()

	for _, patch := range a.overflowPatches {
		a.out.PatchInt32(patch, displacement(stub, patch+rel32Size))
	}
}

// tapeStub flags the frame and returns. Every cell pointer check lands here.
func (a *Assembler) tapeStub() {
	stub := a.out.CurrentAddress()
	a.out.Append(opSetTapeOut...)
	a.epilogue()

	for _, patch := range a.tapePatches {
		a.out.PatchInt32(patch, displacement(stub, patch+rel32Size))
	}
}

// displacement returns target - next as a rel32 value, where next is the
// address of the instruction following the jump.
func displacement(target, next uintptr) int32 {
	d := int64(target) - int64(next)
	if d != int64(int32(d)) {
		panic(fmt.Sprintf("jit: jump displacement %d out of rel32 range", d))
	}
	return int32(d)
}

func rel32(target, next uintptr) []byte {
	var b [rel32Size]byte
	binary.LittleEndian.PutUint32(b[:], uint32(displacement(target, next)))
	return b[:]
}
