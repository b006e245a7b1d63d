// Package parser turns program source text into an ordered operation sequence.
//
// The language has eight control symbols:
//
//	>  move the cell pointer forward
//	<  move the cell pointer backward
//	+  increment the current cell
//	-  decrement the current cell
//	.  emit the current cell as one output byte
//	,  read one input byte (accepted, no backend implements input)
//	[  open a loop, skipped when the current cell is zero
//	]  close a loop, jumps back while the current cell is not zero
//
// Every other character is a comment and is ignored.
package parser

import (
	"fmt"
	"strings"
)

// OpKind identifies one of the eight operations.
type OpKind uint8

const (
	MovePointerForward OpKind = iota
	MovePointerBackward
	IncrementCell
	DecrementCell
	EmitByte
	ReadByte
	LoopOpen
	LoopClose
)

// symbols maps each OpKind to its source character.
var symbols = [...]byte{
	MovePointerForward:  '>',
	MovePointerBackward: '<',
	IncrementCell:       '+',
	DecrementCell:       '-',
	EmitByte:            '.',
	ReadByte:            ',',
	LoopOpen:            '[',
	LoopClose:           ']',
}

// Symbol returns the source character for the operation kind.
func (k OpKind) Symbol() byte {
	if int(k) < len(symbols) {
		return symbols[k]
	}
	return '?'
}

// String returns the name of the operation kind.
func (k OpKind) String() string {
	switch k {
	case MovePointerForward:
		return "MovePointerForward"
	case MovePointerBackward:
		return "MovePointerBackward"
	case IncrementCell:
		return "IncrementCell"
	case DecrementCell:
		return "DecrementCell"
	case EmitByte:
		return "EmitByte"
	case ReadByte:
		return "ReadByte"
	case LoopOpen:
		return "LoopOpen"
	case LoopClose:
		return "LoopClose"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one parsed operation.
type Op struct {
	Kind OpKind

	// Pos is the zero-based character index of the symbol in the source.
	Pos int
}

// ErrorKind classifies a parse failure.
type ErrorKind uint8

const (
	// UnexpectedLoopClose is a ']' with no unmatched '[' before it.
	UnexpectedLoopClose ErrorKind = iota

	// UnclosedLoop is a '[' that is never closed.
	UnclosedLoop
)

func (k ErrorKind) String() string {
	switch k {
	case UnexpectedLoopClose:
		return "UnexpectedLoopClose"
	case UnclosedLoop:
		return "UnclosedLoop"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// ParseError reports a malformed program.
type ParseError struct {
	Kind ErrorKind

	// Pos is the zero-based character index of the offending symbol.
	Pos int
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	switch e.Kind {
	case UnexpectedLoopClose:
		return fmt.Sprintf("Unexpected loop close at character: %d", e.Pos)
	case UnclosedLoop:
		return fmt.Sprintf("Unclosed loop opened at character: %d", e.Pos)
	default:
		return fmt.Sprintf("parse error at character: %d", e.Pos)
	}
}

// Parse scans source and returns its operations in order.
func Parse(source string) ([]Op, error) {
	var (
		ops   []Op
		loops []int
		pos   int
	)

	for _, c := range source {
		var kind OpKind
		switch c {
		case '>':
			kind = MovePointerForward
		case '<':
			kind = MovePointerBackward
		case '+':
			kind = IncrementCell
		case '-':
			kind = DecrementCell
		case '.':
			kind = EmitByte
		case ',':
			kind = ReadByte
		case '[':
			kind = LoopOpen
			loops = append(loops, pos)
		case ']':
			if len(loops) == 0 {
				return nil, &ParseError{Kind: UnexpectedLoopClose, Pos: pos}
			}
			loops = loops[:len(loops)-1]
			kind = LoopClose
		default:
			pos++
			continue
		}
		ops = append(ops, Op{Kind: kind, Pos: pos})
		pos++
	}

	if len(loops) > 0 {
		return nil, &ParseError{Kind: UnclosedLoop, Pos: loops[len(loops)-1]}
	}

	return ops, nil
}

// Symbols re-derives the control-symbol text of an operation sequence.
func Symbols(ops []Op) string {
	var sb strings.Builder
	sb.Grow(len(ops))
	for _, op := range ops {
		sb.WriteByte(op.Kind.Symbol())
	}
	return sb.String()
}

// CountEmits returns the number of EmitByte operations in ops.
// This is the static output size of a program.
func CountEmits(ops []Op) int {
	n := 0
	for _, op := range ops {
		if op.Kind == EmitByte {
			n++
		}
	}
	return n
}
