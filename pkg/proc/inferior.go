package proc

import (
	"errors"
	"fmt"

	"github.com/cosiner/argv"
)

// ProgramSpace is the set of symbols and code an inferior executes.
type ProgramSpace struct {
	Num      int
	Symbols  SymbolTable
	Unwinder Unwinder

	lines *lineCache
}

// SetSymbols installs the symbol table and unwinder of the program space.
func (ps *ProgramSpace) SetSymbols(syms SymbolTable, unw Unwinder) {
	ps.Symbols = syms
	ps.Unwinder = unw
	ps.lines = nil
	if syms != nil {
		ps.lines = newLineCache(syms)
	}
}

func (ps *ProgramSpace) pcToLine(pc uint64) (LineInfo, bool) {
	if ps.lines == nil {
		return LineInfo{}, false
	}
	return ps.lines.pcToLine(pc)
}

func (ps *ProgramSpace) pcToFunc(pc uint64) *Function {
	if ps.Symbols == nil {
		return nil
	}
	return ps.Symbols.PCToFunc(pc)
}

// AddressSpace identifies the memory an inferior addresses. Breakpoints
// are inserted per address space.
type AddressSpace struct {
	Num int
}

// Inferior is one debugged program. It exists before the program runs
// and after it exits: Pid is zero when no process is attached.
type Inferior struct {
	Num int
	Pid int

	args    string
	Environ []string
	Cwd     string
	TTY     string

	Pspace *ProgramSpace
	Aspace *AddressSpace
	Target Backend

	HasExitCode bool
	ExitCode    int
	// Removable inferiors are deleted by PruneInferiors once they have no
	// process.
	Removable bool

	VforkParent, VforkChild *Inferior

	highestThreadNum int
	threads          []*Thread
	continuations    []func()
	displaced        displacedBuffer
	refcount         int
	session          *Session
}

func (inf *Inferior) String() string {
	if inf.Pid == 0 {
		return fmt.Sprintf("inferior %d", inf.Num)
	}
	return fmt.Sprintf("inferior %d (process %d)", inf.Num, inf.Pid)
}

// Args returns the command line arguments of the inferior as a single
// string.
func (inf *Inferior) Args() string { return inf.args }

func (inf *Inferior) SetArgs(args string) { inf.args = args }

// Argv splits the command line arguments the way a shell would.
func (inf *Inferior) Argv() ([]string, error) {
	if inf.args == "" {
		return nil, nil
	}
	v, err := argv.Argv(inf.args, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in '%s'", s)
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, errors.New("illegal use of pipe operator in program arguments")
	}
	return v[0], nil
}

// Arch returns the architecture of the inferior.
func (inf *Inferior) Arch() *Arch {
	if inf.Target == nil {
		return AMD64Arch()
	}
	return inf.Target.Arch()
}

// Threads returns every thread of the inferior, including exited threads
// not yet deleted, in creation order.
func (inf *Inferior) Threads() []*Thread {
	r := make([]*Thread, len(inf.threads))
	copy(r, inf.threads)
	return r
}

// NonExitedThreads returns the threads of the inferior that have not
// exited, in creation order.
func (inf *Inferior) NonExitedThreads() []*Thread {
	r := make([]*Thread, 0, len(inf.threads))
	for _, t := range inf.threads {
		if t.State != ThreadExited {
			r = append(r, t)
		}
	}
	return r
}

// FindThreadByPerInfNum returns the thread with per inferior number n.
func (inf *Inferior) FindThreadByPerInfNum(n int) *Thread {
	for _, t := range inf.threads {
		if t.PerInfNum == n {
			return t
		}
	}
	return nil
}

// AddContinuation registers fn to run at the next normal stop of the
// inferior. Continuations run most recently added first.
func (inf *Inferior) AddContinuation(fn func()) {
	inf.continuations = append(inf.continuations, fn)
}

// DoAllContinuations runs and removes every registered continuation.
func (inf *Inferior) DoAllContinuations() {
	for len(inf.continuations) > 0 {
		fn := inf.continuations[len(inf.continuations)-1]
		inf.continuations = inf.continuations[:len(inf.continuations)-1]
		fn()
	}
}

// DiscardAllContinuations removes every registered continuation without
// running it.
func (inf *Inferior) DiscardAllContinuations() {
	inf.continuations = nil
}

func (inf *Inferior) IncRef() { inf.refcount++ }

func (inf *Inferior) DecRef() {
	if inf.refcount <= 0 {
		panic("internal error: inferior reference count underflow")
	}
	inf.refcount--
}

func (inf *Inferior) deletable() bool {
	return inf.refcount == 0
}

func (inf *Inferior) memory() MemoryReadWriter {
	if inf.Target == nil {
		return nil
	}
	return inf.Target
}
