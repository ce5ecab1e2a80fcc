package proc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// AsmInstructionKind classifies instructions the way execution control
// cares about them.
type AsmInstructionKind uint8

const (
	OtherInstruction AsmInstructionKind = iota
	CallInstruction
	RetInstruction
	JmpInstruction
	HardBreakInstruction
	SyscallInstruction
)

// AsmInstruction is a decoded instruction.
type AsmInstruction struct {
	Loc   uint64
	Bytes []byte
	Kind  AsmInstructionKind
	// PCRelative is set when an operand is relative to the program
	// counter: moving the instruction changes its meaning.
	PCRelative bool
	// Dest is the target of direct calls and jumps.
	Dest uint64
}

// Len returns the length of the instruction in bytes.
func (inst *AsmInstruction) Len() int { return len(inst.Bytes) }

// Arch describes the platform: instruction set, calling convention and
// stack layout.
type Arch struct {
	Name    string
	PtrSize int
	// FrameAlignment is the stack alignment required at call sites.
	FrameAlignment uint64
	// RedZoneSize is the area below the stack pointer that leaf functions
	// may use without moving it.
	RedZoneSize           uint64
	BreakpointInstruction []byte
	MaxInstructionLength  int
	IntArgRegs            []RegNum
}

var amd64BreakInstruction = []byte{0xCC}

// AMD64Arch returns the description of the amd64 System V platform.
func AMD64Arch() *Arch {
	return &Arch{
		Name:                  "amd64",
		PtrSize:               8,
		FrameAlignment:        16,
		RedZoneSize:           128,
		BreakpointInstruction: amd64BreakInstruction,
		MaxInstructionLength:  15,
		IntArgRegs:            []RegNum{RDI, RSI, RDX, RCX, R8, R9},
	}
}

// FrameAlign aligns sp downwards to the platform frame alignment.
func (a *Arch) FrameAlign(sp uint64) uint64 {
	if a.FrameAlignment == 0 {
		return sp
	}
	return sp &^ (a.FrameAlignment - 1)
}

// Decode decodes the instruction at the start of mem, which was read from
// address pc.
func (a *Arch) Decode(mem []byte, pc uint64) (AsmInstruction, error) {
	if len(mem) > 0 && mem[0] == amd64BreakInstruction[0] {
		return AsmInstruction{Loc: pc, Bytes: mem[:1], Kind: HardBreakInstruction}, nil
	}
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		return AsmInstruction{}, fmt.Errorf("could not decode instruction at %#x: %v", pc, err)
	}
	r := AsmInstruction{Loc: pc, Bytes: mem[:inst.Len]}
	switch inst.Op {
	case x86asm.CALL, x86asm.LCALL:
		r.Kind = CallInstruction
	case x86asm.RET, x86asm.LRET:
		r.Kind = RetInstruction
	case x86asm.JMP, x86asm.LJMP:
		r.Kind = JmpInstruction
	case x86asm.INT:
		r.Kind = HardBreakInstruction
	case x86asm.SYSCALL:
		r.Kind = SyscallInstruction
	}
	for _, arg := range inst.Args {
		switch arg := arg.(type) {
		case x86asm.Rel:
			r.PCRelative = true
			r.Dest = uint64(int64(pc) + int64(inst.Len) + int64(arg))
		case x86asm.Mem:
			if arg.Base == x86asm.RIP {
				r.PCRelative = true
			}
		}
	}
	return r, nil
}

// CanDisplaceStep returns true if inst can be executed at a different
// address with the same effect, apart from the program counter.
func (a *Arch) CanDisplaceStep(inst *AsmInstruction) bool {
	return inst.Kind == OtherInstruction && !inst.PCRelative
}

// ReturnInFirstHiddenParam returns true if values of type t are returned
// through a pointer passed as the first ordinary argument.
func (a *Arch) ReturnInFirstHiddenParam(lang Language, t *Type) bool {
	return t.IsAggregate() && !lang.PassByReference(t).TriviallyCopyable
}

// UsingStructReturn returns true if values of type t are returned in
// memory provided by the caller.
func (a *Arch) UsingStructReturn(t *Type) bool {
	switch t.Code {
	case TypeStruct, TypeUnion, TypeArray:
		return t.Size > 16
	case TypeFloat:
		return t.Size > 8
	}
	return false
}

// ReturnValue reads the value of type t just returned by a function. For
// values returned in memory structAddr is the address of the buffer, when
// it is zero the address returned in RAX is used.
func (a *Arch) ReturnValue(t *Type, regs *Registers, mem MemoryReader, structAddr uint64) (*Value, error) {
	if t.Code == TypeVoid {
		return &Value{Type: t}, nil
	}
	if structAddr == 0 && a.UsingStructReturn(t) {
		structAddr = regs.Get(RAX)
	}
	if structAddr != 0 {
		return ValueAt(mem, t, structAddr)
	}
	buf := make([]byte, 16)
	switch {
	case t.Code == TypeFloat:
		binary.LittleEndian.PutUint64(buf, regs.Get(XMM0))
	default:
		binary.LittleEndian.PutUint64(buf, regs.Get(RAX))
		binary.LittleEndian.PutUint64(buf[8:], regs.Get(RDX))
	}
	if t.Size > int64(len(buf)) {
		return nil, fmt.Errorf("can not read return value of type %s from registers", t)
	}
	return &Value{Type: t, Contents: buf[:t.Size]}, nil
}
