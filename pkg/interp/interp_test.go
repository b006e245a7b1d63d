package interp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fortiblox/bfjit/pkg/parser"
)

func run(t *testing.T, source string, outCap int, opts Opts) ([]byte, error) {
	t.Helper()
	ops, err := parser.Parse(source)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", source, err)
	}
	return Run(ops, outCap, opts)
}

func TestInterpreterScenarios(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []byte
	}{
		{"increment and emit", "+++.", []byte{3}},
		{"move and emit", "++>+++.", []byte{3}},
		{"empty", "", []byte{}},
		{"loop skipped", "[-]", []byte{}},
		{"loop once", "+[-]", []byte{}},
		{"skip body with emit", "[.]+.", []byte{1}},
		{"nested", "++[>++[>+<-]<-]>>.", []byte{4}},
		{"wraparound", "-.", []byte{255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.source, 4, Opts{})
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("output = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInterpreterTapeBounds(t *testing.T) {
	_, err := run(t, "<+", 0, Opts{})
	if !errors.Is(err, ErrTapeOutOfBounds) {
		t.Errorf("left of tape: error = %v, want ErrTapeOutOfBounds", err)
	}

	_, err = run(t, ">>>>>>>>+", 0, Opts{TapeSize: 8})
	if !errors.Is(err, ErrTapeOutOfBounds) {
		t.Errorf("right of tape: error = %v, want ErrTapeOutOfBounds", err)
	}

	// Moving out and back without touching a cell is fine.
	if _, err := run(t, "<>+", 0, Opts{}); err != nil {
		t.Errorf("transient move: %v", err)
	}
}

func TestInterpreterOutputOverflow(t *testing.T) {
	got, err := run(t, "+++[.-]", 1, Opts{})
	if !errors.Is(err, ErrOutputOverflow) {
		t.Fatalf("error = %v, want ErrOutputOverflow", err)
	}
	if !bytes.Equal(got, []byte{3}) {
		t.Errorf("partial output = %v, want [3]", got)
	}
}

func TestInterpreterStepBudget(t *testing.T) {
	_, err := run(t, "+[]", 0, Opts{MaxSteps: 1000})
	if !errors.Is(err, ErrStepBudgetExceeded) {
		t.Errorf("error = %v, want ErrStepBudgetExceeded", err)
	}
}

func TestInterpreterRerunResetsState(t *testing.T) {
	ops, _ := parser.Parse("+++.")
	ip, err := New(ops, Opts{MaxSteps: 10})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		out := make([]byte, 1)
		n, err := ip.Run(out)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n != 1 || out[0] != 3 {
			t.Errorf("run %d: output = %v", i, out[:n])
		}
		if ip.Steps() != 4 {
			t.Errorf("run %d: Steps() = %d, want 4", i, ip.Steps())
		}
	}
}

func TestNewRejectsUnbalanced(t *testing.T) {
	ops := []parser.Op{{Kind: parser.LoopOpen}}
	if _, err := New(ops, Opts{}); !errors.Is(err, ErrUnbalancedLoops) {
		t.Errorf("error = %v, want ErrUnbalancedLoops", err)
	}
}
