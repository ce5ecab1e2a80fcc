package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/execctl/pkg/proc"
)

// Memory layout of simulated processes.
const (
	TextBase    = 0x400000
	DataBase    = 0x600000
	ScratchBase = 0x700000
	ScratchSize = 0x100
	StackTop    = 0x7ffff000
	StackSize   = 0x10000
)

// programFile is the YAML representation of a program.
type programFile struct {
	Name      string     `yaml:"name"`
	File      string     `yaml:"file"`
	Entry     string     `yaml:"entry"`
	Language  string     `yaml:"language"`
	Types     []typeDecl `yaml:"types"`
	Data      []dataDecl `yaml:"data"`
	Functions []funcDecl `yaml:"functions"`
}

type typeDecl struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Size int64  `yaml:"size"`
	// Special member functions of classes, empty when trivial.
	CopyCtor string `yaml:"copy_ctor"`
	Dtor     string `yaml:"dtor"`
	NoCopy   bool   `yaml:"no_copy"`
	NoDtor   bool   `yaml:"no_dtor"`
}

type dataDecl struct {
	Name string  `yaml:"name"`
	Size int     `yaml:"size"`
	Init []int64 `yaml:"init"`
}

type funcDecl struct {
	Name string `yaml:"name"`
	// Returns is the return type, empty for functions without debug
	// information describing them.
	Returns      string       `yaml:"returns"`
	Params       []string     `yaml:"params"`
	Unprototyped bool         `yaml:"unprototyped"`
	NoDebug      bool         `yaml:"nodebug"`
	NoCall       bool         `yaml:"nocall"`
	Outermost    bool         `yaml:"outermost"`
	Asm          []string     `yaml:"asm"`
	Code         []lineDecl   `yaml:"code"`
	Inlined      []inlineDecl `yaml:"inlined"`
}

type lineDecl struct {
	Line int      `yaml:"line"`
	Asm  []string `yaml:"asm"`
}

type inlineDecl struct {
	Name     string `yaml:"name"`
	Entry    string `yaml:"entry"`
	End      string `yaml:"end"`
	CallLine int    `yaml:"call_line"`
}

// Program is a simulated executable: machine code, data, symbols, line
// table and the stack layout information needed to unwind it. It
// implements proc.SymbolTable and proc.Unwinder.
type Program struct {
	Name string
	File string

	Text []byte
	Data []byte

	entry   uint64
	funcs   []*proc.Function
	byName  map[string]*proc.Function
	lines   []proc.LineInfo
	inlined []proc.InlinedBlock
	types   map[string]*proc.Type
	classes map[*proc.Type]classInfo
	lang    proc.Language
	syms    map[string]uint64
	// spOffset is the number of bytes the function pushed on the stack
	// when executing the instruction at each address.
	spOffset map[uint64]uint64
}

var builtinTypes = map[string]*proc.Type{
	"void":          proc.VoidType,
	"bool":          proc.BoolType,
	"char":          proc.CharType,
	"short":         proc.ShortType,
	"int":           proc.IntType,
	"unsigned int":  proc.UintType,
	"long":          proc.LongType,
	"unsigned long": proc.UlongType,
	"float":         proc.FloatType,
	"double":        proc.DoubleType,
	"long double":   proc.LongDoubleType,
}

// LoadProgram reads a program from a YAML file.
func LoadProgram(path string) (*Program, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseProgram(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseProgram assembles the YAML description of a program.
func ParseProgram(buf []byte) (*Program, error) {
	var pf programFile
	if err := yaml.UnmarshalStrict(buf, &pf); err != nil {
		return nil, err
	}
	if len(pf.Functions) == 0 {
		return nil, errors.New("program has no functions")
	}
	p := &Program{
		Name:     pf.Name,
		File:     pf.File,
		byName:   make(map[string]*proc.Function),
		types:    make(map[string]*proc.Type),
		classes:  make(map[*proc.Type]classInfo),
		spOffset: make(map[uint64]uint64),
	}
	switch pf.Language {
	case "", "c":
		p.lang = proc.CLanguage
	case "c++":
		p.lang = cxxLanguage{p}
	default:
		return nil, fmt.Errorf("unknown language %q", pf.Language)
	}
	for k, v := range builtinTypes {
		p.types[k] = v
	}
	for _, td := range pf.Types {
		t := &proc.Type{Name: td.Name, Size: td.Size}
		switch td.Kind {
		case "struct", "class":
			t.Code = proc.TypeStruct
		case "union":
			t.Code = proc.TypeUnion
		default:
			return nil, fmt.Errorf("type %s: unknown kind %q", td.Name, td.Kind)
		}
		p.types[td.Name] = t
		if td.CopyCtor != "" || td.Dtor != "" || td.NoCopy || td.NoDtor {
			p.classes[t] = classInfo{copyCtor: td.CopyCtor, dtor: td.Dtor, noCopy: td.NoCopy, noDtor: td.NoDtor}
		}
	}

	a := newAssembler(TextBase)

	dataAddr := uint64(DataBase)
	for _, d := range pf.Data {
		size := d.Size
		if size == 0 {
			size = 8 * len(d.Init)
		}
		if err := a.defineSymbol(strings.ToLower(d.Name), dataAddr); err != nil {
			return nil, err
		}
		buf := make([]byte, (size+7)&^7)
		for i, v := range d.Init {
			if 8*i+8 <= len(buf) {
				binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
			}
		}
		p.Data = append(p.Data, buf...)
		dataAddr += uint64(len(buf))
	}

	var inl []inlineDecl
	for i := range pf.Functions {
		fd := &pf.Functions[i]
		fn := &proc.Function{Name: fd.Name, Entry: a.pc, NoDebug: fd.NoDebug || len(fd.Code) == 0, Outermost: fd.Outermost}
		if err := a.defineSymbol(strings.ToLower(fd.Name), a.pc); err != nil {
			return nil, err
		}
		if fd.Returns != "" {
			rt, err := p.parseType(fd.Returns)
			if err != nil {
				return nil, fmt.Errorf("function %s: %v", fd.Name, err)
			}
			ft := &proc.Type{Code: proc.TypeFunc, Size: 1, Target: rt, Prototyped: !fd.Unprototyped, NoCall: fd.NoCall}
			for _, ps := range fd.Params {
				pt, err := p.parseType(ps)
				if err != nil {
					return nil, fmt.Errorf("function %s: %v", fd.Name, err)
				}
				ft.Params = append(ft.Params, pt)
			}
			fn.Type = ft
		} else if fd.NoCall {
			fn.Type = &proc.Type{Code: proc.TypeFunc, Size: 1, NoCall: true}
		}

		var insns []*insn
		addLines := func(line int, asm []string) error {
			start := a.pc
			for _, s := range asm {
				in, err := a.add(s)
				if err != nil {
					return fmt.Errorf("function %s: %v", fd.Name, err)
				}
				if in != nil {
					insns = append(insns, in)
				}
			}
			if line > 0 && a.pc > start {
				p.addLine(proc.LineInfo{PC: start, End: a.pc, File: p.File, Line: line})
			}
			return nil
		}
		if err := addLines(0, fd.Asm); err != nil {
			return nil, err
		}
		for _, ld := range fd.Code {
			if fd.NoDebug {
				ld.Line = 0
			}
			if err := addLines(ld.Line, ld.Asm); err != nil {
				return nil, err
			}
		}
		fn.End = a.pc
		if fn.End == fn.Entry {
			return nil, fmt.Errorf("function %s is empty", fd.Name)
		}
		p.computeStackOffsets(fn, insns, a)
		p.funcs = append(p.funcs, fn)
		p.byName[fn.Name] = fn
		inl = append(inl, fd.Inlined...)
	}

	text, err := a.link()
	if err != nil {
		return nil, err
	}
	p.Text = text
	p.syms = a.syms

	for _, d := range inl {
		entry, err := a.resolve(d.Entry)
		if err != nil {
			return nil, fmt.Errorf("inlined %s: %v", d.Name, err)
		}
		end, err := a.resolve(d.End)
		if err != nil {
			return nil, fmt.Errorf("inlined %s: %v", d.Name, err)
		}
		p.inlined = append(p.inlined, proc.InlinedBlock{Name: d.Name, Entry: entry, End: end, CallFile: p.File, CallLine: d.CallLine})
	}
	// Outermost first.
	sort.SliceStable(p.inlined, func(i, j int) bool {
		return p.inlined[i].End-p.inlined[i].Entry > p.inlined[j].End-p.inlined[j].Entry
	})

	entryName := pf.Entry
	if entryName == "" {
		entryName = pf.Functions[0].Name
	}
	entry, ok := p.byName[entryName]
	if !ok {
		return nil, fmt.Errorf("entry point %q not found", entryName)
	}
	p.entry = entry.Entry
	return p, nil
}

func (p *Program) parseType(s string) (*proc.Type, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, "&&"):
		t, err := p.parseType(strings.TrimSuffix(s, "&&"))
		if err != nil {
			return nil, err
		}
		return proc.ReferenceTo(t, proc.TypeRvalueRef), nil
	case strings.HasSuffix(s, "&"):
		t, err := p.parseType(strings.TrimSuffix(s, "&"))
		if err != nil {
			return nil, err
		}
		return proc.ReferenceTo(t, proc.TypeRef), nil
	case strings.HasSuffix(s, "*"):
		t, err := p.parseType(strings.TrimSuffix(s, "*"))
		if err != nil {
			return nil, err
		}
		return proc.PointerTo(t), nil
	}
	if t, ok := p.types[s]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}

func (p *Program) addLine(li proc.LineInfo) {
	if n := len(p.lines); n > 0 {
		last := &p.lines[n-1]
		if last.End == li.PC && last.Line == li.Line {
			last.End = li.End
			return
		}
	}
	p.lines = append(p.lines, li)
}

// computeStackOffsets records how much fn pushed on the stack before each
// of its instructions. Code following an unconditional branch takes the
// offset of the branches targeting it.
func (p *Program) computeStackOffsets(fn *proc.Function, insns []*insn, a *assembler) {
	labelOff := make(map[uint64]uint64)
	var off uint64
	for _, in := range insns {
		if o, ok := labelOff[in.addr]; ok {
			off = o
		}
		p.spOffset[in.addr] = off
		isRSP := len(in.args) == 2 && in.args[0].kind == opReg && in.args[0].reg == regRSP && in.args[1].kind == opImm
		switch {
		case in.mnemonic == "push":
			off += 8
		case in.mnemonic == "pop":
			off -= 8
		case in.mnemonic == "sub" && isRSP:
			off += uint64(in.args[1].imm)
		case in.mnemonic == "add" && isRSP:
			off -= uint64(in.args[1].imm)
		case in.mnemonic == "jmp" || jccOps[in.mnemonic] != 0:
			if dest, ok := a.syms[in.args[0].sym]; ok && dest >= fn.Entry {
				if _, seen := labelOff[dest]; !seen {
					labelOff[dest] = off
				}
			}
		}
	}
}

// EntryPoint returns the address of the program entry point.
func (p *Program) EntryPoint() uint64 { return p.entry }

// PCToFunc returns the function containing pc.
func (p *Program) PCToFunc(pc uint64) *proc.Function {
	i := sort.Search(len(p.funcs), func(i int) bool { return p.funcs[i].End > pc })
	if i < len(p.funcs) && p.funcs[i].Entry <= pc {
		return p.funcs[i]
	}
	return nil
}

// LookupFunc returns the function called name.
func (p *Program) LookupFunc(name string) *proc.Function {
	return p.byName[name]
}

// Functions returns every function of the program in address order.
func (p *Program) Functions() []*proc.Function {
	return p.funcs
}

// PCToLine returns the line table entry containing pc.
func (p *Program) PCToLine(pc uint64) (proc.LineInfo, bool) {
	i := sort.Search(len(p.lines), func(i int) bool { return p.lines[i].End > pc })
	if i < len(p.lines) && p.lines[i].PC <= pc {
		return p.lines[i], true
	}
	return proc.LineInfo{}, false
}

// LineToPC returns the first address of line in function fn, or of any
// function if fn is empty.
func (p *Program) LineToPC(fn string, line int) (uint64, bool) {
	var f *proc.Function
	if fn != "" {
		if f = p.byName[fn]; f == nil {
			return 0, false
		}
	}
	for _, li := range p.lines {
		if li.Line == line && (f == nil || (li.PC >= f.Entry && li.PC < f.End)) {
			return li.PC, true
		}
	}
	return 0, false
}

// InlinedBlocksAt returns the inlined calls containing pc, outermost
// first.
func (p *Program) InlinedBlocksAt(pc uint64) []proc.InlinedBlock {
	var r []proc.InlinedBlock
	for _, blk := range p.inlined {
		if pc >= blk.Entry && pc < blk.End {
			r = append(r, blk)
		}
	}
	return r
}

// Symbol returns the address of a function, label or data object.
func (p *Program) Symbol(name string) (uint64, bool) {
	v, ok := p.syms[strings.ToLower(name)]
	return v, ok
}

// Language returns the language the program is written in.
func (p *Program) Language() proc.Language { return p.lang }

// Type returns the type called name.
func (p *Program) Type(name string) (*proc.Type, error) {
	return p.parseType(name)
}

// Unwind computes the caller's registers using the stack offsets recorded
// by the assembler: the return address sits right above what the function
// pushed.
func (p *Program) Unwind(fn *proc.Function, regs *proc.Registers, mem proc.MemoryReader) (uint64, *proc.Registers, error) {
	pc := regs.PC()
	off, ok := p.spOffset[pc]
	if !ok {
		return 0, nil, fmt.Errorf("no unwind information for %#x", pc)
	}
	cfa := regs.SP() + off + 8
	if fn != nil && fn.Outermost {
		return cfa, nil, nil
	}
	var buf [8]byte
	if _, err := mem.ReadMemory(buf[:], cfa-8); err != nil {
		return cfa, nil, err
	}
	ret := binary.LittleEndian.Uint64(buf[:])
	if ret == 0 {
		return cfa, nil, nil
	}
	caller := regs.Copy()
	caller.SetPC(ret)
	caller.SetSP(cfa)
	return cfa, caller, nil
}
