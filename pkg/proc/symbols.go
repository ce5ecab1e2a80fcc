package proc

import (
	lru "github.com/hashicorp/golang-lru"
)

// Function represents a function in the target program.
type Function struct {
	Name       string
	Entry, End uint64
	// Type is the function's type, nil when the program has no debug
	// information describing it.
	Type *Type
	// NoDebug is set for functions without line information.
	NoDebug bool
	// Outermost marks the function at the bottom of every stack.
	Outermost bool
}

// ReturnType returns the declared return type of fn, nil if unknown.
func (fn *Function) ReturnType() *Type {
	if fn == nil || fn.Type == nil {
		return nil
	}
	return fn.Type.Target
}

// LineInfo is one row of the line table: instructions in [PC, End) belong
// to File:Line.
type LineInfo struct {
	PC, End uint64
	File    string
	Line    int
}

// InlinedBlock is the range of instructions of an inlined call.
type InlinedBlock struct {
	Name       string
	Entry, End uint64
	CallFile   string
	CallLine   int
}

// SymbolTable is the symbol and line table of a program space.
type SymbolTable interface {
	PCToFunc(pc uint64) *Function
	LookupFunc(name string) *Function
	// PCToLine returns the line table entry containing pc.
	PCToLine(pc uint64) (LineInfo, bool)
	// InlinedBlocksAt returns the inlined calls whose range contains pc,
	// outermost first.
	InlinedBlocksAt(pc uint64) []InlinedBlock
	// EntryPoint returns the program entry point.
	EntryPoint() uint64
}

// Unwinder computes a caller's registers from its callee's.
type Unwinder interface {
	// Unwind returns the canonical frame address of the frame executing
	// fn with registers regs and the registers of its caller. The caller
	// registers are nil when the frame is outermost.
	Unwind(fn *Function, regs *Registers, mem MemoryReader) (cfa uint64, caller *Registers, err error)
}

// lineCache memoizes PCToLine lookups. Range stepping consults the line
// table on every single step.
type lineCache struct {
	syms  SymbolTable
	cache *lru.Cache
}

type lineCacheEntry struct {
	li LineInfo
	ok bool
}

const lineCacheSize = 512

func newLineCache(syms SymbolTable) *lineCache {
	c, err := lru.New(lineCacheSize)
	if err != nil {
		panic(err)
	}
	return &lineCache{syms: syms, cache: c}
}

func (lc *lineCache) pcToLine(pc uint64) (LineInfo, bool) {
	if e, ok := lc.cache.Get(pc); ok {
		ent := e.(lineCacheEntry)
		return ent.li, ent.ok
	}
	li, ok := lc.syms.PCToLine(pc)
	lc.cache.Add(pc, lineCacheEntry{li, ok})
	return li, ok
}

func (lc *lineCache) purge() {
	lc.cache.Purge()
}
