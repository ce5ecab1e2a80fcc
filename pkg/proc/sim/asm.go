package sim

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// The assembler understands the subset of x86-64 the interpreter
// executes, in Intel syntax, one instruction per line:
//
//	push/pop reg
//	mov reg, reg|imm|sym|[base+disp]    mov [base+disp], reg
//	lea reg, [base+disp]
//	add/sub/and/or/xor/cmp reg, reg|imm
//	imul reg, reg      inc/dec reg
//	movq xmm0, reg     movq reg, xmm0
//	call sym|reg       jmp sym      je/jne/jl/jge/jle/jg/jb/jae sym
//	ret  nop  int3  ud2  syscall
//
// Every form has a fixed encoding, immediates are 64 bit for mov and 32
// bit otherwise, branches are rel32. Symbols are function names, labels
// ("name:" lines) and data names.

type operandKind uint8

const (
	opReg operandKind = iota
	opXMM
	opImm
	opSym
	opMem
)

type operand struct {
	kind operandKind
	reg  int
	imm  int64
	sym  string
	disp int64
}

type insn struct {
	mnemonic string
	args     []operand
	text     string
	addr     uint64
	size     int
}

var regNums = map[string]int{
	"rax": 0, "rcx": 1, "rdx": 2, "rbx": 3, "rsp": 4, "rbp": 5, "rsi": 6, "rdi": 7,
	"r8": 8, "r9": 9, "r10": 10, "r11": 11, "r12": 12, "r13": 13, "r14": 14, "r15": 15,
}

const regRSP = 4

func parseOperand(s string) (operand, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "qword ptr ")
	switch {
	case s == "":
		return operand{}, fmt.Errorf("empty operand")
	case s == "xmm0":
		return operand{kind: opXMM}, nil
	case strings.HasPrefix(s, "["):
		if !strings.HasSuffix(s, "]") {
			return operand{}, fmt.Errorf("bad memory operand %q", s)
		}
		in := strings.ReplaceAll(s[1:len(s)-1], " ", "")
		base, disp := in, int64(0)
		if i := strings.IndexAny(in, "+-"); i >= 0 {
			base = in[:i]
			n, err := strconv.ParseInt(in[i:], 0, 64)
			if err != nil {
				return operand{}, fmt.Errorf("bad displacement in %q", s)
			}
			disp = n
		}
		r, ok := regNums[base]
		if !ok {
			return operand{}, fmt.Errorf("bad base register in %q", s)
		}
		return operand{kind: opMem, reg: r, disp: disp}, nil
	}
	if r, ok := regNums[s]; ok {
		return operand{kind: opReg, reg: r}, nil
	}
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return operand{kind: opImm, imm: n}, nil
	}
	if n, err := strconv.ParseUint(s, 0, 64); err == nil {
		return operand{kind: opImm, imm: int64(n)}, nil
	}
	if !isIdent(s) {
		return operand{}, fmt.Errorf("bad operand %q", s)
	}
	return operand{kind: opSym, sym: s}, nil
}

func isIdent(s string) bool {
	for i, c := range s {
		switch {
		case c == '_' || c == '.' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}

// parseInsn parses one line of assembly. It returns a nil insn and the
// label name for label lines.
func parseInsn(line string) (*insn, string, error) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if strings.HasSuffix(line, ":") {
		l := strings.TrimSuffix(line, ":")
		if !isIdent(l) {
			return nil, "", fmt.Errorf("bad label %q", line)
		}
		return nil, strings.ToLower(l), nil
	}
	if line == "" {
		return nil, "", nil
	}
	in := &insn{text: line}
	fields := strings.SplitN(line, " ", 2)
	in.mnemonic = strings.ToLower(fields[0])
	if len(fields) > 1 {
		for _, a := range strings.Split(fields[1], ",") {
			op, err := parseOperand(a)
			if err != nil {
				return nil, "", fmt.Errorf("%s: %v", line, err)
			}
			in.args = append(in.args, op)
		}
	}
	return in, "", nil
}

func rex(w bool, r, x, b int) byte {
	v := byte(0x40)
	if w {
		v |= 8
	}
	if r >= 8 {
		v |= 4
	}
	if x >= 8 {
		v |= 2
	}
	if b >= 8 {
		v |= 1
	}
	return v
}

func modrm(mod, reg, rm int) byte {
	return byte(mod<<6 | (reg&7)<<3 | rm&7)
}

// memOperand encodes a [base+disp32] operand with reg in the reg field.
func memOperand(reg int, m operand) []byte {
	b := []byte{modrm(2, reg, m.reg)}
	if m.reg&7 == regRSP {
		b = append(b, 0x24)
	}
	return appendUint32(b, uint32(int32(m.disp)))
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

var aluOps = map[string]struct {
	ext   int
	rrOp  byte
	flags bool
}{
	"add": {0, 0x01, true},
	"or":  {1, 0x09, true},
	"and": {4, 0x21, true},
	"sub": {5, 0x29, true},
	"xor": {6, 0x31, true},
	"cmp": {7, 0x39, true},
}

var jccOps = map[string]byte{
	"jb": 0x82, "jae": 0x83, "je": 0x84, "jz": 0x84, "jne": 0x85, "jnz": 0x85,
	"jl": 0x8C, "jge": 0x8D, "jle": 0x8E, "jg": 0x8F,
}

// encode returns the machine code of in, placed at in.addr. resolve
// returns the value of a symbol.
func encode(in *insn, resolve func(string) (uint64, error)) ([]byte, error) {
	args := in.args
	form := func(kinds ...operandKind) bool {
		if len(args) != len(kinds) {
			return false
		}
		for i, k := range kinds {
			if args[i].kind != k {
				return false
			}
		}
		return true
	}
	value := func(op operand) (uint64, error) {
		if op.kind == opSym {
			return resolve(op.sym)
		}
		return uint64(op.imm), nil
	}
	rel32 := func(op []byte, size int) ([]byte, error) {
		dest, err := resolve(args[0].sym)
		if err != nil {
			return nil, err
		}
		rel := int64(dest) - int64(in.addr) - int64(size)
		return appendUint32(op, uint32(int32(rel))), nil
	}

	switch m := in.mnemonic; {
	case m == "nop" && len(args) == 0:
		return []byte{0x90}, nil
	case m == "int3" && len(args) == 0:
		return []byte{0xCC}, nil
	case m == "ret" && len(args) == 0:
		return []byte{0xC3}, nil
	case m == "ud2" && len(args) == 0:
		return []byte{0x0F, 0x0B}, nil
	case m == "syscall" && len(args) == 0:
		return []byte{0x0F, 0x05}, nil
	case (m == "push" || m == "pop") && form(opReg):
		op := byte(0x50)
		if m == "pop" {
			op = 0x58
		}
		r := args[0].reg
		if r >= 8 {
			return []byte{0x41, op + byte(r&7)}, nil
		}
		return []byte{op + byte(r)}, nil
	case m == "mov" && form(opReg, opReg):
		src, dst := args[1].reg, args[0].reg
		return []byte{rex(true, src, 0, dst), 0x89, modrm(3, src, dst)}, nil
	case m == "mov" && (form(opReg, opImm) || form(opReg, opSym)):
		v, err := value(args[1])
		if err != nil {
			return nil, err
		}
		dst := args[0].reg
		return appendUint64([]byte{rex(true, 0, 0, dst), 0xB8 + byte(dst&7)}, v), nil
	case (m == "mov" || m == "lea") && form(opReg, opMem):
		op := byte(0x8B)
		if m == "lea" {
			op = 0x8D
		}
		dst := args[0].reg
		return append([]byte{rex(true, dst, 0, args[1].reg), op}, memOperand(dst, args[1])...), nil
	case m == "mov" && form(opMem, opReg):
		src := args[1].reg
		return append([]byte{rex(true, src, 0, args[0].reg), 0x89}, memOperand(src, args[0])...), nil
	case aluOps[m].flags && form(opReg, opReg):
		src, dst := args[1].reg, args[0].reg
		return []byte{rex(true, src, 0, dst), aluOps[m].rrOp, modrm(3, src, dst)}, nil
	case aluOps[m].flags && (form(opReg, opImm) || form(opReg, opSym)):
		v, err := value(args[1])
		if err != nil {
			return nil, err
		}
		if int64(v) != int64(int32(v)) {
			return nil, fmt.Errorf("%s: immediate out of range", in.text)
		}
		dst := args[0].reg
		return appendUint32([]byte{rex(true, 0, 0, dst), 0x81, modrm(3, aluOps[m].ext, dst)}, uint32(v)), nil
	case m == "imul" && form(opReg, opReg):
		dst, src := args[0].reg, args[1].reg
		return []byte{rex(true, dst, 0, src), 0x0F, 0xAF, modrm(3, dst, src)}, nil
	case (m == "inc" || m == "dec") && form(opReg):
		ext := 0
		if m == "dec" {
			ext = 1
		}
		r := args[0].reg
		return []byte{rex(true, 0, 0, r), 0xFF, modrm(3, ext, r)}, nil
	case m == "movq" && form(opXMM, opReg):
		r := args[1].reg
		return []byte{0x66, rex(true, 0, 0, r), 0x0F, 0x6E, modrm(3, 0, r)}, nil
	case m == "movq" && form(opReg, opXMM):
		r := args[0].reg
		return []byte{0x66, rex(true, 0, 0, r), 0x0F, 0x7E, modrm(3, 0, r)}, nil
	case m == "call" && form(opSym):
		return rel32([]byte{0xE8}, 5)
	case m == "call" && form(opReg):
		r := args[0].reg
		if r >= 8 {
			return []byte{0x41, 0xFF, modrm(3, 2, r)}, nil
		}
		return []byte{0xFF, modrm(3, 2, r)}, nil
	case m == "jmp" && form(opSym):
		return rel32([]byte{0xE9}, 5)
	case jccOps[m] != 0 && form(opSym):
		return rel32([]byte{0x0F, jccOps[m]}, 6)
	}
	return nil, fmt.Errorf("unsupported instruction %q", in.text)
}

// assembler lays out instructions at increasing addresses and resolves
// symbols once every instruction is placed.
type assembler struct {
	base  uint64
	pc    uint64
	insns []*insn
	syms  map[string]uint64
}

func newAssembler(base uint64) *assembler {
	return &assembler{base: base, pc: base, syms: make(map[string]uint64)}
}

func (a *assembler) defineSymbol(name string, addr uint64) error {
	if _, dup := a.syms[name]; dup {
		return fmt.Errorf("symbol %q defined twice", name)
	}
	a.syms[name] = addr
	return nil
}

// add parses line and places it at the current address. It returns the
// instruction, nil for labels and blank lines.
func (a *assembler) add(line string) (*insn, error) {
	in, label, err := parseInsn(line)
	if err != nil {
		return nil, err
	}
	if label != "" {
		return nil, a.defineSymbol(label, a.pc)
	}
	if in == nil {
		return nil, nil
	}
	in.addr = a.pc
	code, err := encode(in, func(string) (uint64, error) { return a.pc, nil })
	if err != nil {
		return nil, err
	}
	in.size = len(code)
	a.pc += uint64(in.size)
	a.insns = append(a.insns, in)
	return in, nil
}

func (a *assembler) resolve(name string) (uint64, error) {
	if v, ok := a.syms[strings.ToLower(name)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("undefined symbol %q", name)
}

// link encodes every instruction with symbols resolved.
func (a *assembler) link() ([]byte, error) {
	text := make([]byte, 0, a.pc-a.base)
	for _, in := range a.insns {
		code, err := encode(in, a.resolve)
		if err != nil {
			return nil, fmt.Errorf("%#x: %v", in.addr, err)
		}
		if len(code) != in.size {
			panic(fmt.Sprintf("internal error: %q changed size while linking", in.text))
		}
		text = append(text, code...)
	}
	return text, nil
}
