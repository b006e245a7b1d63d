// Package interp implements the reference interpreter for parsed programs.
//
// It runs the same operation sequence as the JIT with the same cell, tape and
// output semantics, and adds an optional step budget the generated code lacks.
// Tests use it as the oracle for JIT output.
package interp

import (
	"errors"
	"fmt"

	"github.com/fortiblox/bfjit/pkg/parser"
)

// DefaultTapeSize matches the JIT's stack tape.
const DefaultTapeSize = 32

// Errors.
var (
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	ErrTapeOutOfBounds    = errors.New("cell pointer out of bounds")
	ErrOutputOverflow     = errors.New("output buffer overflow")
	ErrUnbalancedLoops    = errors.New("unbalanced loops")
)

// StepMeter counts executed operations against a limit. A zero limit is unlimited.
type StepMeter struct {
	used  uint64
	limit uint64
}

// NewStepMeter creates a step meter.
func NewStepMeter(limit uint64) *StepMeter {
	return &StepMeter{limit: limit}
}

// Consume records one step.
func (m *StepMeter) Consume() error {
	m.used++
	if m.limit != 0 && m.used > m.limit {
		return ErrStepBudgetExceeded
	}
	return nil
}

// Used returns the number of steps consumed.
func (m *StepMeter) Used() uint64 {
	return m.used
}

// Opts configures the interpreter.
type Opts struct {
	TapeSize int
	MaxSteps uint64
}

// Interpreter executes an operation sequence.
type Interpreter struct {
	ops   []parser.Op
	jumps []int // index of the matching bracket for every loop op

	tape  []byte
	ptr   int
	meter *StepMeter
}

// New prepares an interpreter for ops.
func New(ops []parser.Op, opts Opts) (*Interpreter, error) {
	tapeSize := opts.TapeSize
	if tapeSize <= 0 {
		tapeSize = DefaultTapeSize
	}

	jumps, err := matchLoops(ops)
	if err != nil {
		return nil, err
	}

	return &Interpreter{
		ops:   ops,
		jumps: jumps,
		tape:  make([]byte, tapeSize),
		meter: NewStepMeter(opts.MaxSteps),
	}, nil
}

func matchLoops(ops []parser.Op) ([]int, error) {
	jumps := make([]int, len(ops))
	var stack []int
	for i, op := range ops {
		switch op.Kind {
		case parser.LoopOpen:
			stack = append(stack, i)
		case parser.LoopClose:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: close at op %d", ErrUnbalancedLoops, i)
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			jumps[open] = i
			jumps[i] = open
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: %d open loop(s)", ErrUnbalancedLoops, len(stack))
	}
	return jumps, nil
}

// Run executes the program from a zeroed tape, writing output into out.
// It returns the number of bytes written. On error the bytes written so far
// remain in out[:n].
func (ip *Interpreter) Run(out []byte) (n int, err error) {
	clear(ip.tape)
	ip.ptr = 0
	ip.meter.used = 0

	for pc := 0; pc < len(ip.ops); pc++ {
		if err := ip.meter.Consume(); err != nil {
			return n, err
		}

		switch ip.ops[pc].Kind {
		case parser.MovePointerForward:
			ip.ptr++
		case parser.MovePointerBackward:
			ip.ptr--
		case parser.IncrementCell:
			cell, err := ip.cell(pc)
			if err != nil {
				return n, err
			}
			*cell++
		case parser.DecrementCell:
			cell, err := ip.cell(pc)
			if err != nil {
				return n, err
			}
			*cell--
		case parser.EmitByte:
			cell, err := ip.cell(pc)
			if err != nil {
				return n, err
			}
			if n >= len(out) {
				return n, ErrOutputOverflow
			}
			out[n] = *cell
			n++
		case parser.ReadByte:
			// Input is unsupported, as in the JIT.
		case parser.LoopOpen:
			cell, err := ip.cell(pc)
			if err != nil {
				return n, err
			}
			if *cell == 0 {
				pc = ip.jumps[pc]
			}
		case parser.LoopClose:
			cell, err := ip.cell(pc)
			if err != nil {
				return n, err
			}
			if *cell != 0 {
				pc = ip.jumps[pc]
			}
		}
	}

	return n, nil
}

// cell returns the current cell, checking the pointer against the tape.
func (ip *Interpreter) cell(pc int) (*byte, error) {
	if ip.ptr < 0 || ip.ptr >= len(ip.tape) {
		return nil, fmt.Errorf("%w: pointer %d at character %d (tape %d)", ErrTapeOutOfBounds, ip.ptr, ip.ops[pc].Pos, len(ip.tape))
	}
	return &ip.tape[ip.ptr], nil
}

// Steps returns the number of operations executed by the last Run.
func (ip *Interpreter) Steps() uint64 {
	return ip.meter.Used()
}

// Run is a convenience wrapper that interprets ops with an output buffer of
// outCap bytes and returns what was written.
func Run(ops []parser.Op, outCap int, opts Opts) ([]byte, error) {
	ip, err := New(ops, opts)
	if err != nil {
		return nil, err
	}
	out := make([]byte, outCap)
	n, err := ip.Run(out)
	return out[:n], err
}
