package proc

import (
	"fmt"
	"strings"
)

// RegNum indexes Registers. The general purpose registers are in x86
// encoding order so that an instruction's register operand number can be
// used directly.
type RegNum int

const (
	RAX RegNum = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RIP
	RFLAGS
	// XMM0 holds the low 64 bits of xmm0, used for floating point
	// arguments and return values.
	XMM0
	NumRegs
)

var regNames = [NumRegs]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "rflags", "xmm0",
}

func (r RegNum) String() string {
	if r < 0 || r >= NumRegs {
		return fmt.Sprintf("reg%d", int(r))
	}
	return regNames[r]
}

// Registers is the register file of a stopped thread.
type Registers struct {
	Regs [NumRegs]uint64
}

// PC returns the program counter.
func (r *Registers) PC() uint64 { return r.Regs[RIP] }

// SP returns the stack pointer.
func (r *Registers) SP() uint64 { return r.Regs[RSP] }

// BP returns the frame pointer.
func (r *Registers) BP() uint64 { return r.Regs[RBP] }

func (r *Registers) SetPC(pc uint64) { r.Regs[RIP] = pc }

func (r *Registers) SetSP(sp uint64) { r.Regs[RSP] = sp }

// Get returns the value of register n.
func (r *Registers) Get(n RegNum) uint64 { return r.Regs[n] }

// Set changes the value of register n.
func (r *Registers) Set(n RegNum, v uint64) { r.Regs[n] = v }

// Copy returns a deep copy of r.
func (r *Registers) Copy() *Registers {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Equal returns true if every register of r and o matches.
func (r *Registers) Equal(o *Registers) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Regs == o.Regs
}

func (r *Registers) String() string {
	var b strings.Builder
	for i := RegNum(0); i < NumRegs; i++ {
		fmt.Fprintf(&b, "%6s = %#016x\n", i, r.Regs[i])
	}
	return b.String()
}
