package jit

// x86-64 instruction encodings used by the assembler.
// The tape is addressed as [rsp + r8]: REX.X selects r8 as the SIB index,
// SIB 0x04 is scale 1, index r8, base rsp.

var (
	opPushRBP    = []byte{0x55}
	opMovRBPRSP  = []byte{0x48, 0x89, 0xe5} // mov rbp, rsp
	opMovRSPRBP  = []byte{0x48, 0x89, 0xec} // mov rsp, rbp
	opPopRBP     = []byte{0x5d}
	opRet        = []byte{0xc3}
	opXorRAXRAX  = []byte{0x48, 0x31, 0xc0}
	opPushRAX    = []byte{0x50}
	opXorR8R8    = []byte{0x4d, 0x31, 0xc0}
	opMovR9RDI   = []byte{0x4c, 0x8b, 0x0f}       // mov r9, [rdi]
	opMovR10RDI8 = []byte{0x4c, 0x8b, 0x57, 0x08} // mov r10, [rdi+8]
	opStoreR9RDI = []byte{0x4c, 0x89, 0x0f}       // mov [rdi], r9

	opIncR8 = []byte{0x49, 0xff, 0xc0}
	opDecR8 = []byte{0x49, 0xff, 0xc8}
	opIncR9 = []byte{0x49, 0xff, 0xc1}

	opIncCell     = []byte{0x42, 0xfe, 0x04, 0x04}       // inc byte [rsp+r8]
	opDecCell     = []byte{0x42, 0xfe, 0x0c, 0x04}       // dec byte [rsp+r8]
	opLoadCell    = []byte{0x42, 0x8a, 0x04, 0x04}       // mov al, byte [rsp+r8]
	opStoreOut    = []byte{0x41, 0x88, 0x01}             // mov byte [r9], al
	opCmpCell0    = []byte{0x42, 0x80, 0x3c, 0x04, 0x00} // cmp byte [rsp+r8], 0
	opCmpR9R10    = []byte{0x4d, 0x39, 0xd1}             // cmp r9, r10
	opCmpR8Imm32  = []byte{0x49, 0x81, 0xf8}             // cmp r8, imm32
	opSetOverflow = []byte{0xc6, 0x47, 0x10, 0x01}       // mov byte [rdi+16], 1
	opSetTapeOut  = []byte{0xc6, 0x47, 0x11, 0x01}       // mov byte [rdi+17], 1

	// Near conditional jumps with a rel32 displacement that follows.
	opJZ  = []byte{0x0f, 0x84}
	opJNZ = []byte{0x0f, 0x85}
	opJAE = []byte{0x0f, 0x83}
)

// rel32Size is the width of a jump displacement.
const rel32Size = 4

// Encoded sizes, used to size the code buffer before emitting.
var (
	prologueFixedSize = len(opPushRBP) + len(opMovRBPRSP) + len(opXorRAXRAX) +
		len(opXorR8R8) + len(opMovR9RDI) + len(opMovR10RDI8)
	epilogueSize     = len(opStoreR9RDI) + len(opMovRSPRBP) + len(opPopRBP) + len(opRet)
	overflowStubSize = len(opSetOverflow) + epilogueSize
	tapeStubSize     = len(opSetTapeOut) + epilogueSize

	// cmp r8, tape; jae tapeStub
	tapeCheckSize = len(opCmpR8Imm32) + 4 + len(opJAE) + rel32Size

	movePointerSize = len(opIncR8)
	cellArithSize   = len(opIncCell)
	emitByteSize    = len(opCmpR9R10) + len(opJAE) + rel32Size +
		len(opLoadCell) + len(opStoreOut) + len(opIncR9)
	loopOpenSize  = len(opCmpCell0) + len(opJZ) + rel32Size
	loopCloseSize = len(opCmpCell0) + len(opJNZ) + rel32Size
)
