package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-delve/execctl/pkg/proc"
)

// ErrBudgetExhausted is returned by Wait when the process executed the
// maximum number of instructions it was allowed to.
var ErrBudgetExhausted = errors.New("instruction budget exhausted")

var errProcessExited = errors.New("process has exited")

// DefaultBudget is the default instruction budget of a process.
const DefaultBudget = 1_000_000

const maxHistory = 100_000

// Config configures a simulated process.
type Config struct {
	// Budget is the number of instructions the process may execute,
	// forward or backward, zero means DefaultBudget and a negative value
	// no limit.
	Budget int
	// NoScratch removes the scratch area used for displaced stepping.
	NoScratch bool
	// NoRecord disables the execution history: the process can't run
	// backwards.
	NoRecord bool
}

type threadState uint8

const (
	threadStopped threadState = iota
	threadRunning
	threadExited
)

// undoRecord is what is needed to undo one instruction.
type undoRecord struct {
	regs   proc.Registers
	writes []memWrite
}

type memWrite struct {
	addr uint64
	old  []byte
}

type thread struct {
	ptid  proc.PTID
	regs  proc.Registers
	state threadState
	step  bool
	// stopReq is set by Stop until the thread reports an event.
	stopReq bool
	// deliver is the signal delivered when the thread next runs.
	deliver proc.Signal
	history []*undoRecord
	cur     *undoRecord
}

// Process is a simulated process executing a Program. It implements
// proc.Backend. A Process must only be used from one goroutine.
type Process struct {
	prog    *Program
	pid     int
	cfg     Config
	mem     *memory
	arch    *proc.Arch
	threads []*thread
	nextLwp int
	bps     map[uint64]bool
	reverse bool
	budget  int
	sched   int
	exited  bool
	out     bytes.Buffer
}

var lastPid int32 = 1000

// Launch creates a process executing prog, stopped at its entry point
// with a single thread.
func Launch(prog *Program, cfg Config) *Process {
	pid := int(atomic.AddInt32(&lastPid, 1))
	p := &Process{
		prog:    prog,
		pid:     pid,
		cfg:     cfg,
		mem:     newMemory(),
		arch:    proc.AMD64Arch(),
		bps:     make(map[uint64]bool),
		nextLwp: pid,
		budget:  cfg.Budget,
	}
	if p.budget == 0 {
		p.budget = DefaultBudget
	}
	p.mem.mapRegion(TextBase, uint64(len(prog.Text)))
	p.mem.write(TextBase, prog.Text)
	if len(prog.Data) > 0 {
		p.mem.mapRegion(DataBase, uint64(len(prog.Data)))
		p.mem.write(DataBase, prog.Data)
	}
	if !cfg.NoScratch {
		p.mem.mapRegion(ScratchBase, ScratchSize)
	}
	t := p.newThread()
	t.regs.SetPC(prog.EntryPoint())
	return p
}

// newThread creates a stopped thread with its own stack.
func (p *Process) newThread() *thread {
	n := len(p.threads)
	top := uint64(StackTop - n*2*StackSize)
	p.mem.mapRegion(top-StackSize, StackSize)
	t := &thread{ptid: proc.PTID{Pid: p.pid, Lwp: p.nextLwp}}
	p.nextLwp++
	// Entry code starts with an aligned stack and a null return address.
	t.regs.SetSP(top - 8)
	p.threads = append(p.threads, t)
	return t
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.pid }

// Program returns the program the process executes.
func (p *Process) Program() *Program { return p.prog }

// Output returns what the program wrote to its standard output.
func (p *Process) Output() string { return p.out.String() }

// Exited returns true once the process is gone.
func (p *Process) Exited() bool { return p.exited }

// Budget returns the number of instructions the process may still
// execute, negative if unlimited.
func (p *Process) Budget() int { return p.budget }

func (p *Process) Shortname() string { return "sim" }

func (p *Process) Arch() *proc.Arch { return p.arch }

func (p *Process) findThread(ptid proc.PTID) (*thread, error) {
	for _, t := range p.threads {
		if t.ptid == ptid && t.state != threadExited {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no such thread %v", ptid)
}

func (p *Process) stoppedThread(ptid proc.PTID) (*thread, error) {
	t, err := p.findThread(ptid)
	if err != nil {
		return nil, err
	}
	if t.state == threadRunning {
		return nil, fmt.Errorf("thread %v is running", ptid)
	}
	return t, nil
}

// ReadMemory reads memory as the program sees it, inserted breakpoints
// included.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if p.exited {
		return 0, errProcessExited
	}
	return p.mem.read(buf, addr)
}

func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	if p.exited {
		return 0, errProcessExited
	}
	return p.mem.write(addr, data)
}

func (p *Process) ReadRegisters(ptid proc.PTID) (*proc.Registers, error) {
	t, err := p.stoppedThread(ptid)
	if err != nil {
		return nil, err
	}
	return t.regs.Copy(), nil
}

func (p *Process) WriteRegisters(ptid proc.PTID, regs *proc.Registers) error {
	t, err := p.stoppedThread(ptid)
	if err != nil {
		return err
	}
	t.regs = *regs
	return nil
}

func (p *Process) InsertBreakpoint(addr uint64) ([]byte, error) {
	if p.exited {
		return nil, errProcessExited
	}
	orig := make([]byte, len(p.arch.BreakpointInstruction))
	if _, err := p.mem.read(orig, addr); err != nil {
		return nil, err
	}
	if _, err := p.mem.write(addr, p.arch.BreakpointInstruction); err != nil {
		return nil, err
	}
	p.bps[addr] = true
	return orig, nil
}

func (p *Process) RemoveBreakpoint(addr uint64, orig []byte) error {
	if p.exited {
		return nil
	}
	delete(p.bps, addr)
	_, err := p.mem.write(addr, orig)
	return err
}

func (p *Process) ThreadList(pid int) ([]proc.PTID, error) {
	if pid != p.pid {
		return nil, fmt.Errorf("no such process %d", pid)
	}
	var r []proc.PTID
	if p.exited {
		return r, nil
	}
	for _, t := range p.threads {
		if t.state != threadExited {
			r = append(r, t.ptid)
		}
	}
	return r, nil
}

func (p *Process) ThreadAlive(ptid proc.PTID) bool {
	_, err := p.findThread(ptid)
	return err == nil && !p.exited
}

func (p *Process) DisplacedStepBuffer(pid int) (uint64, int, bool) {
	if p.cfg.NoScratch || pid != p.pid {
		return 0, 0, false
	}
	return ScratchBase, ScratchSize, true
}

func (p *Process) CanReverse() bool { return !p.cfg.NoRecord }

func (p *Process) SetReverse(reverse bool) error {
	if reverse && p.cfg.NoRecord {
		return errors.New("process is not recording")
	}
	p.reverse = reverse
	return nil
}

// Resume resumes the stopped threads matching ptid.
func (p *Process) Resume(ptid proc.PTID, step bool, sig proc.Signal) error {
	if p.exited {
		return errProcessExited
	}
	n := 0
	for _, t := range p.threads {
		if t.state != threadStopped || !t.ptid.Matches(ptid) {
			continue
		}
		t.state = threadRunning
		t.step = step
		if sig != proc.SignalNone && sig != proc.SignalDefault {
			t.deliver = sig
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("no stopped thread matches %v", ptid)
	}
	return nil
}

// Stop asks the running threads matching ptid to stop.
func (p *Process) Stop(ptid proc.PTID) error {
	for _, t := range p.threads {
		if t.state == threadRunning && t.ptid.Matches(ptid) {
			t.stopReq = true
		}
	}
	return nil
}

// Wait runs the resumed threads, one instruction at a time in turn,
// until one of them reports an event.
func (p *Process) Wait() (proc.PTID, proc.WaitStatus, error) {
	for {
		var t *thread
		for i := 0; i < len(p.threads); i++ {
			c := p.threads[(p.sched+i)%len(p.threads)]
			if c.state == threadRunning {
				t = c
				p.sched = (p.sched + i + 1) % len(p.threads)
				break
			}
		}
		if t == nil || p.exited {
			return proc.NullPTID, proc.WaitStatus{Kind: proc.WaitNoResumed}, nil
		}
		if t.stopReq {
			return p.report(t, proc.WaitStatus{Kind: proc.WaitStopped, Sig: proc.SIGSTOP})
		}
		if p.budget == 0 {
			return proc.NullPTID, proc.WaitStatus{}, ErrBudgetExhausted
		}
		if p.budget > 0 {
			p.budget--
		}
		var ws *proc.WaitStatus
		if p.reverse {
			ws = p.stepBackward(t)
		} else {
			ws = p.stepForward(t)
		}
		if ws != nil {
			return p.report(t, *ws)
		}
	}
}

// report stops t, or the whole process, according to ws.
func (p *Process) report(t *thread, ws proc.WaitStatus) (proc.PTID, proc.WaitStatus, error) {
	t.stopReq = false
	t.step = false
	switch ws.Kind {
	case proc.WaitExited, proc.WaitSignalled:
		p.exited = true
		for _, th := range p.threads {
			th.state = threadExited
		}
	case proc.WaitThreadExited:
		t.state = threadExited
		if p.liveThreads() == 0 {
			p.exited = true
			return t.ptid, proc.WaitStatus{Kind: proc.WaitExited, ExitCode: ws.ExitCode}, nil
		}
	default:
		t.state = threadStopped
	}
	return t.ptid, ws, nil
}

func (p *Process) liveThreads() int {
	n := 0
	for _, t := range p.threads {
		if t.state != threadExited {
			n++
		}
	}
	return n
}

// fatalSignal returns true if sig terminates a program that did not ask
// to handle it.
func fatalSignal(sig proc.Signal) bool {
	switch sig {
	case proc.SIGCHLD, proc.SIGCONT, proc.SIGSTOP, proc.SIGTRAP:
		return false
	}
	return true
}

func (p *Process) stepForward(t *thread) *proc.WaitStatus {
	if sig := t.deliver; sig != proc.SignalNone {
		t.deliver = proc.SignalNone
		if fatalSignal(sig) {
			return &proc.WaitStatus{Kind: proc.WaitSignalled, Sig: sig}
		}
	}
	pc := t.regs.PC()
	if p.bps[pc] {
		return &proc.WaitStatus{Kind: proc.WaitStopped, Sig: proc.SIGTRAP, SwBreakpoint: true}
	}
	if !p.cfg.NoRecord {
		t.cur = &undoRecord{regs: t.regs}
	}
	ws := p.execute(t)
	if t.cur != nil {
		if ws == nil || ws.Kind == proc.WaitStopped {
			t.history = append(t.history, t.cur)
			if len(t.history) > maxHistory {
				t.history = t.history[1:]
			}
		}
		t.cur = nil
	}
	if ws == nil && t.step {
		ws = &proc.WaitStatus{Kind: proc.WaitStopped, Sig: proc.SIGTRAP, SingleStep: true}
	}
	return ws
}

func (p *Process) stepBackward(t *thread) *proc.WaitStatus {
	if len(t.history) == 0 {
		return &proc.WaitStatus{Kind: proc.WaitNoHistory}
	}
	rec := t.history[len(t.history)-1]
	t.history = t.history[:len(t.history)-1]
	for i := len(rec.writes) - 1; i >= 0; i-- {
		w := rec.writes[i]
		p.mem.write(w.addr, w.old)
	}
	t.regs = rec.regs
	switch {
	case t.step:
		return &proc.WaitStatus{Kind: proc.WaitStopped, Sig: proc.SIGTRAP, SingleStep: true}
	case p.bps[t.regs.PC()]:
		return &proc.WaitStatus{Kind: proc.WaitStopped, Sig: proc.SIGTRAP, SwBreakpoint: true}
	}
	return nil
}

// writeMem writes program memory on behalf of t, recording what is
// overwritten.
func (p *Process) writeMem(t *thread, addr uint64, data []byte) error {
	if t.cur != nil {
		old := make([]byte, len(data))
		if _, err := p.mem.read(old, addr); err != nil {
			return err
		}
		t.cur.writes = append(t.cur.writes, memWrite{addr: addr, old: old})
	}
	_, err := p.mem.write(addr, data)
	return err
}

func (p *Process) readUint64(addr uint64) (uint64, error) {
	var buf [8]byte
	if _, err := p.mem.read(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (p *Process) writeUint64(t *thread, addr, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return p.writeMem(t, addr, buf[:])
}

// PushDummyCall sets up a call following the System V calling convention:
// integer arguments in registers then on the stack, the first floating
// point argument in xmm0, aggregates on the stack.
func (p *Process) PushDummyCall(ptid proc.PTID, call *proc.DummyCall) (uint64, error) {
	t, err := p.stoppedThread(ptid)
	if err != nil {
		return 0, err
	}
	regs := t.regs
	intRegs := p.arch.IntArgRegs
	nint := 0
	if call.ReturnMethod == proc.ReturnStruct {
		regs.Set(intRegs[0], call.StructAddr)
		nint++
	}
	var stackArgs [][]byte
	usedXMM := false
	for _, arg := range call.Args {
		switch typ := arg.Type; {
		case typ.Code == proc.TypeFloat && typ.Size <= 8 && !usedXMM:
			regs.Set(proc.XMM0, arg.Uint64())
			usedXMM = true
		case typ.IsScalarInt() && nint < len(intRegs):
			v := arg.Uint64()
			if !typ.Unsigned {
				v = uint64(arg.Int64())
			}
			regs.Set(intRegs[nint], v)
			nint++
		default:
			buf := make([]byte, (len(arg.Contents)+7)&^7)
			copy(buf, arg.Contents)
			stackArgs = append(stackArgs, buf)
		}
	}
	size := 0
	for _, a := range stackArgs {
		size += len(a)
	}
	sp := (call.SP - uint64(size)) &^ 15
	addr := sp
	for _, a := range stackArgs {
		if _, err := p.mem.write(addr, a); err != nil {
			return 0, err
		}
		addr += uint64(len(a))
	}
	sp -= 8
	var ret [8]byte
	binary.LittleEndian.PutUint64(ret[:], call.ReturnAddr)
	if _, err := p.mem.write(sp, ret[:]); err != nil {
		return 0, err
	}
	if usedXMM {
		regs.Set(proc.RAX, 1)
	} else {
		regs.Set(proc.RAX, 0)
	}
	regs.SetSP(sp)
	regs.SetPC(call.Func)
	t.regs = regs
	return sp, nil
}

// Kill terminates the process.
func (p *Process) Kill() {
	p.exited = true
	for _, t := range p.threads {
		t.state = threadExited
	}
}
