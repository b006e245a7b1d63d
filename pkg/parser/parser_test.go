package parser

import (
	"errors"
	"testing"
)

func TestParseKinds(t *testing.T) {
	ops, err := Parse("><+-.,[]")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	want := []OpKind{
		MovePointerForward,
		MovePointerBackward,
		IncrementCell,
		DecrementCell,
		EmitByte,
		ReadByte,
		LoopOpen,
		LoopClose,
	}
	if len(ops) != len(want) {
		t.Fatalf("len(ops) = %d, want %d", len(ops), len(want))
	}
	for i, k := range want {
		if ops[i].Kind != k {
			t.Errorf("ops[%d].Kind = %v, want %v", i, ops[i].Kind, k)
		}
		if ops[i].Pos != i {
			t.Errorf("ops[%d].Pos = %d, want %d", i, ops[i].Pos, i)
		}
	}
}

func TestParseIgnoresComments(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"empty", "", ""},
		{"only comments", "hello world\n", ""},
		{"mixed", "add three: +++ then print .", "+++."},
		{"loops with text", "[ clear -]", "[-]"},
		{"unicode comments", "λ+λ>λ.", "+>."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := Parse(tt.source)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.source, err)
			}
			if got := Symbols(ops); got != tt.want {
				t.Errorf("Symbols() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePositions(t *testing.T) {
	ops, err := Parse("a+ b[c]")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	want := []int{1, 4, 6}
	for i, p := range want {
		if ops[i].Pos != p {
			t.Errorf("ops[%d].Pos = %d, want %d", i, ops[i].Pos, p)
		}
	}
}

func TestParseUnexpectedLoopClose(t *testing.T) {
	tests := []struct {
		source string
		pos    int
	}{
		{"]", 0},
		{"+]", 1},
		{"[]]", 2},
		{"ab ]", 3},
	}

	for _, tt := range tests {
		_, err := Parse(tt.source)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Parse(%q) error = %v, want *ParseError", tt.source, err)
		}
		if perr.Kind != UnexpectedLoopClose {
			t.Errorf("Parse(%q) kind = %v, want UnexpectedLoopClose", tt.source, perr.Kind)
		}
		if perr.Pos != tt.pos {
			t.Errorf("Parse(%q) pos = %d, want %d", tt.source, perr.Pos, tt.pos)
		}
	}
}

func TestParseErrorMessage(t *testing.T) {
	_, err := Parse("]")
	if err == nil {
		t.Fatal("Parse(\"]\") succeeded, want error")
	}
	if got, want := err.Error(), "Unexpected loop close at character: 0"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestParseUnclosedLoop(t *testing.T) {
	_, err := Parse("[[]+")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if perr.Kind != UnclosedLoop || perr.Pos != 0 {
		t.Errorf("got kind=%v pos=%d, want UnclosedLoop at 0", perr.Kind, perr.Pos)
	}

	_, err = Parse("+[[-]")
	if !errors.As(err, &perr) || perr.Pos != 1 {
		t.Errorf("innermost unmatched open: got %v, want pos 1", err)
	}
}

func TestCountEmits(t *testing.T) {
	ops, err := Parse("+.[.-]..")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if n := CountEmits(ops); n != 4 {
		t.Errorf("CountEmits() = %d, want 4", n)
	}
}
