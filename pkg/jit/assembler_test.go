package jit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fortiblox/bfjit/pkg/parser"
)

var (
	emptyPrologue = []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xe5, // mov rbp, rsp
		0x48, 0x31, 0xc0, // xor rax, rax
		0x50, 0x50, 0x50, 0x50, // 32-byte tape
		0x4d, 0x31, 0xc0, // xor r8, r8
		0x4c, 0x8b, 0x0f, // mov r9, [rdi]
		0x4c, 0x8b, 0x57, 0x08, // mov r10, [rdi+8]
	}
	wantEpilogue = []byte{
		0x4c, 0x89, 0x0f, // mov [rdi], r9
		0x48, 0x89, 0xec, // mov rsp, rbp
		0x5d, // pop rbp
		0xc3, // ret
	}
)

func mustParse(t *testing.T, source string) []parser.Op {
	t.Helper()
	ops, err := parser.Parse(source)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", source, err)
	}
	return ops
}

func TestAssembleEmptyProgram(t *testing.T) {
	code, err := Assemble(nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	var want []byte
	want = append(want, emptyPrologue...)
	want = append(want, wantEpilogue...)
	want = append(want, 0xc6, 0x47, 0x10, 0x01)
	want = append(want, wantEpilogue...)
	want = append(want, 0xc6, 0x47, 0x11, 0x01)
	want = append(want, wantEpilogue...)

	if !bytes.Equal(code, want) {
		t.Errorf("code = % x\nwant   % x", code, want)
	}
}

func TestAssembleCodeSizeMatches(t *testing.T) {
	sources := []string{
		"",
		"+++.",
		"++>+++.",
		"[-]",
		"+[-]",
		"++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.",
		",,,",
	}
	for _, tape := range []int{8, 32, 256} {
		for _, src := range sources {
			ops := mustParse(t, src)
			code, err := Assemble(ops, Options{TapeSize: tape})
			if err != nil {
				t.Fatalf("Assemble(%q) failed: %v", src, err)
			}
			if got, want := len(code), CodeSize(ops, tape); got != want {
				t.Errorf("tape=%d %q: len(code) = %d, CodeSize = %d", tape, src, got, want)
			}
		}
	}
}

func TestAssembleCellOps(t *testing.T) {
	code, err := Assemble(mustParse(t, "><+-,"), DefaultOptions())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	body := code[len(emptyPrologue):]
	moves := []byte{
		0x49, 0xff, 0xc0, // inc r8
		0x49, 0xff, 0xc8, // dec r8
		0x49, 0x81, 0xf8, 0x20, 0x00, 0x00, 0x00, // cmp r8, 32
		0x0f, 0x83, // jae rel32
	}
	if !bytes.HasPrefix(body, moves) {
		t.Fatalf("body = % x\nwant prefix % x", body, moves)
	}

	jaeNext := len(emptyPrologue) + len(moves) + rel32Size
	rel := int32(binary.LittleEndian.Uint32(code[jaeNext-rel32Size:]))
	if stub := len(code) - tapeStubSize; int(rel) != stub-jaeNext {
		t.Errorf("pointer check rel = %d, want %d", rel, stub-jaeNext)
	}

	// One check covers both cell ops; ReadByte emits nothing.
	rest := body[len(moves)+rel32Size:]
	want := []byte{
		0x42, 0xfe, 0x04, 0x04, // inc byte [rsp+r8]
		0x42, 0xfe, 0x0c, 0x04, // dec byte [rsp+r8]
	}
	want = append(want, wantEpilogue...)
	if !bytes.HasPrefix(rest, want) {
		t.Errorf("after check = % x\nwant prefix % x", rest, want)
	}
}

func TestAssemblePointerChecks(t *testing.T) {
	tests := []struct {
		source string
		checks int
	}{
		{"+-.[-]", 0},
		{">", 0},
		{">+", 1},
		{">+++<-", 2},
		{">>>>+-.", 1},
		{"+[>+<-]>.", 3},
		{"><,", 0},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			ops := mustParse(t, tt.source)
			code, err := Assemble(ops, DefaultOptions())
			if err != nil {
				t.Fatalf("Assemble() failed: %v", err)
			}
			if got := bytes.Count(code, opCmpR8Imm32); got != tt.checks {
				t.Errorf("pointer checks = %d, want %d", got, tt.checks)
			}
		})
	}
}

func TestAssembleLoopDisplacements(t *testing.T) {
	code, err := Assemble(mustParse(t, "[-]"), DefaultOptions())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}

	p := len(emptyPrologue)
	open := code[p : p+11]
	if !bytes.Equal(open[:7], []byte{0x42, 0x80, 0x3c, 0x04, 0x00, 0x0f, 0x84}) {
		t.Fatalf("loop open = % x", open)
	}
	body := p + 11
	closeAt := body + 4
	if !bytes.Equal(code[closeAt:closeAt+7], []byte{0x42, 0x80, 0x3c, 0x04, 0x00, 0x0f, 0x85}) {
		t.Fatalf("loop close = % x", code[closeAt:closeAt+7])
	}

	back := int32(binary.LittleEndian.Uint32(code[closeAt+7:]))
	exit := closeAt + 11
	if want := int32(body - exit); back != want {
		t.Errorf("backward displacement = %d, want %d", back, want)
	}

	forward := int32(binary.LittleEndian.Uint32(open[7:]))
	if want := int32(exit - body); forward != want {
		t.Errorf("forward displacement = %d, want %d", forward, want)
	}
}

func TestAssembleOverflowPatches(t *testing.T) {
	ops := mustParse(t, "..")
	code, err := Assemble(ops, DefaultOptions())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}
	stub := len(code) - tapeStubSize - overflowStubSize
	if !bytes.Equal(code[stub:stub+4], opSetOverflow) {
		t.Fatalf("overflow stub not at end: % x", code[stub:])
	}

	for i := 0; i < 2; i++ {
		at := len(emptyPrologue) + i*emitByteSize
		jae := at + len(opCmpR9R10)
		if !bytes.Equal(code[jae:jae+2], opJAE) {
			t.Fatalf("emit %d: jae not found: % x", i, code[at:at+emitByteSize])
		}
		rel := int32(binary.LittleEndian.Uint32(code[jae+2:]))
		if next := jae + 2 + rel32Size; int(rel) != stub-next {
			t.Errorf("emit %d: rel = %d, want %d", i, rel, stub-next)
		}
	}
}

func TestAssembleNestedLoopsBalanced(t *testing.T) {
	code, err := Assemble(mustParse(t, "+[>+[-]<-]"), DefaultOptions())
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("no code generated")
	}
}

func TestAssembleInvalidTapeSize(t *testing.T) {
	for _, n := range []int{0, -8, 12, MaxTapeSize + 8} {
		if _, err := Assemble(nil, Options{TapeSize: n}); !errors.Is(err, ErrInvalidTapeSize) {
			t.Errorf("TapeSize %d: error = %v, want ErrInvalidTapeSize", n, err)
		}
	}
}

func TestAssembleCloseWithoutOpenPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unmatched LoopClose")
		}
	}()
	ops := []parser.Op{{Kind: parser.LoopClose}}
	Assemble(ops, DefaultOptions())
}

func TestAssembleTapeSizeChangesPrologue(t *testing.T) {
	small, _ := Assemble(nil, Options{TapeSize: 8})
	large, _ := Assemble(nil, Options{TapeSize: 64})
	if len(large)-len(small) != 7 {
		t.Errorf("prologue growth = %d bytes, want 7 extra pushes", len(large)-len(small))
	}
}
