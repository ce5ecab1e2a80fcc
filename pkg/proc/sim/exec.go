package sim

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/go-delve/execctl/pkg/proc"
)

// Linux system call numbers understood by the simulator.
const (
	sysWrite      = 1
	sysSchedYield = 24
	sysGetpid     = 39
	sysClone      = 56
	sysExit       = 60
	sysKill       = 62
	sysGettid     = 186
	sysExitGroup  = 231
)

const (
	efault = 14
	enosys = 38
)

// errno returns the value of rax for a system call failing with e.
func errno(e uint64) uint64 { return -e }

// rflags bits.
const (
	flagCF = 1 << 0
	flagZF = 1 << 6
	flagSF = 1 << 7
	flagOF = 1 << 11
)

func gpr(r x86asm.Reg) (proc.RegNum, bool) {
	if r >= x86asm.RAX && r <= x86asm.R15 {
		return proc.RegNum(r - x86asm.RAX), true
	}
	return 0, false
}

// execute runs the instruction at the pc of t. It returns the event the
// instruction caused, nil if there was none.
func (p *Process) execute(t *thread) *proc.WaitStatus {
	regs := &t.regs
	pc := regs.PC()
	buf := make([]byte, p.arch.MaxInstructionLength)
	n, _ := p.mem.read(buf, pc)
	if n == 0 {
		t.cur = nil
		return sigStop(proc.SIGSEGV)
	}
	buf = buf[:n]
	if buf[0] == 0xCC {
		regs.SetPC(pc + 1)
		return sigStop(proc.SIGTRAP)
	}
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		t.cur = nil
		return sigStop(proc.SIGILL)
	}
	next := pc + uint64(inst.Len)

	// Rolls back the effects of a faulting instruction.
	saved := *regs
	fault := func(sig proc.Signal) *proc.WaitStatus {
		*regs = saved
		if t.cur != nil {
			for i := len(t.cur.writes) - 1; i >= 0; i-- {
				p.mem.write(t.cur.writes[i].addr, t.cur.writes[i].old)
			}
			t.cur = nil
		}
		return sigStop(sig)
	}

	regs.SetPC(next)
	switch inst.Op {
	case x86asm.NOP:
	case x86asm.UD2:
		return fault(proc.SIGILL)
	case x86asm.RET:
		ret, err := p.readUint64(regs.SP())
		if err != nil {
			return fault(proc.SIGSEGV)
		}
		regs.SetSP(regs.SP() + 8)
		regs.SetPC(ret)
	case x86asm.CALL:
		var dest uint64
		switch a := inst.Args[0].(type) {
		case x86asm.Rel:
			dest = uint64(int64(next) + int64(a))
		case x86asm.Reg:
			r, ok := gpr(a)
			if !ok {
				return fault(proc.SIGILL)
			}
			dest = regs.Get(r)
		default:
			return fault(proc.SIGILL)
		}
		sp := regs.SP() - 8
		if err := p.writeUint64(t, sp, next); err != nil {
			return fault(proc.SIGSEGV)
		}
		regs.SetSP(sp)
		regs.SetPC(dest)
	case x86asm.JMP, x86asm.JE, x86asm.JNE, x86asm.JL, x86asm.JGE, x86asm.JLE, x86asm.JG, x86asm.JB, x86asm.JAE:
		rel, ok := inst.Args[0].(x86asm.Rel)
		if !ok {
			return fault(proc.SIGILL)
		}
		if condition(inst.Op, regs.Get(proc.RFLAGS)) {
			regs.SetPC(uint64(int64(next) + int64(rel)))
		}
	case x86asm.PUSH:
		r, ok := regArg(inst.Args[0])
		if !ok {
			return fault(proc.SIGILL)
		}
		sp := regs.SP() - 8
		if err := p.writeUint64(t, sp, regs.Get(r)); err != nil {
			return fault(proc.SIGSEGV)
		}
		regs.SetSP(sp)
	case x86asm.POP:
		r, ok := regArg(inst.Args[0])
		if !ok {
			return fault(proc.SIGILL)
		}
		v, err := p.readUint64(regs.SP())
		if err != nil {
			return fault(proc.SIGSEGV)
		}
		regs.SetSP(regs.SP() + 8)
		regs.Set(r, v)
	case x86asm.MOV:
		switch dst := inst.Args[0].(type) {
		case x86asm.Reg:
			r, ok := gpr(dst)
			if !ok {
				return fault(proc.SIGILL)
			}
			switch src := inst.Args[1].(type) {
			case x86asm.Reg:
				s, ok := gpr(src)
				if !ok {
					return fault(proc.SIGILL)
				}
				regs.Set(r, regs.Get(s))
			case x86asm.Imm:
				regs.Set(r, uint64(src))
			case x86asm.Mem:
				v, err := p.readUint64(effectiveAddr(regs, src))
				if err != nil {
					return fault(proc.SIGSEGV)
				}
				regs.Set(r, v)
			default:
				return fault(proc.SIGILL)
			}
		case x86asm.Mem:
			s, ok := regArg(inst.Args[1])
			if !ok {
				return fault(proc.SIGILL)
			}
			if err := p.writeUint64(t, effectiveAddr(regs, dst), regs.Get(s)); err != nil {
				return fault(proc.SIGSEGV)
			}
		default:
			return fault(proc.SIGILL)
		}
	case x86asm.LEA:
		r, ok := regArg(inst.Args[0])
		m, isMem := inst.Args[1].(x86asm.Mem)
		if !ok || !isMem {
			return fault(proc.SIGILL)
		}
		regs.Set(r, effectiveAddr(regs, m))
	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.CMP:
		r, ok := regArg(inst.Args[0])
		if !ok {
			return fault(proc.SIGILL)
		}
		var b uint64
		switch src := inst.Args[1].(type) {
		case x86asm.Reg:
			s, ok := gpr(src)
			if !ok {
				return fault(proc.SIGILL)
			}
			b = regs.Get(s)
		case x86asm.Imm:
			b = uint64(src)
		default:
			return fault(proc.SIGILL)
		}
		a := regs.Get(r)
		res, flags := alu(inst.Op, a, b)
		regs.Set(proc.RFLAGS, flags)
		if inst.Op != x86asm.CMP {
			regs.Set(r, res)
		}
	case x86asm.IMUL:
		r, ok1 := regArg(inst.Args[0])
		s, ok2 := regArg(inst.Args[1])
		if !ok1 || !ok2 {
			return fault(proc.SIGILL)
		}
		regs.Set(r, uint64(int64(regs.Get(r))*int64(regs.Get(s))))
	case x86asm.INC, x86asm.DEC:
		r, ok := regArg(inst.Args[0])
		if !ok {
			return fault(proc.SIGILL)
		}
		op := x86asm.ADD
		if inst.Op == x86asm.DEC {
			op = x86asm.SUB
		}
		res, flags := alu(op, regs.Get(r), 1)
		// inc and dec leave the carry flag alone.
		flags = flags&^flagCF | regs.Get(proc.RFLAGS)&flagCF
		regs.Set(proc.RFLAGS, flags)
		regs.Set(r, res)
	case x86asm.MOVQ, x86asm.MOVD:
		switch {
		case inst.Args[0] == x86asm.X0:
			r, ok := regArg(inst.Args[1])
			if !ok {
				return fault(proc.SIGILL)
			}
			regs.Set(proc.XMM0, regs.Get(r))
		case inst.Args[1] == x86asm.X0:
			r, ok := regArg(inst.Args[0])
			if !ok {
				return fault(proc.SIGILL)
			}
			regs.Set(r, regs.Get(proc.XMM0))
		default:
			return fault(proc.SIGILL)
		}
	case x86asm.SYSCALL:
		return p.syscall(t)
	default:
		return fault(proc.SIGILL)
	}
	return nil
}

func sigStop(sig proc.Signal) *proc.WaitStatus {
	return &proc.WaitStatus{Kind: proc.WaitStopped, Sig: sig}
}

func regArg(a x86asm.Arg) (proc.RegNum, bool) {
	r, ok := a.(x86asm.Reg)
	if !ok {
		return 0, false
	}
	return gpr(r)
}

func effectiveAddr(regs *proc.Registers, m x86asm.Mem) uint64 {
	addr := uint64(m.Disp)
	if r, ok := gpr(m.Base); ok {
		addr += regs.Get(r)
	}
	if r, ok := gpr(m.Index); ok {
		addr += regs.Get(r) * uint64(m.Scale)
	}
	return addr
}

// alu computes a op b and the resulting flags.
func alu(op x86asm.Op, a, b uint64) (uint64, uint64) {
	var res, flags uint64
	switch op {
	case x86asm.ADD:
		res = a + b
		if res < a {
			flags |= flagCF
		}
		if (^(a^b)&(a^res))>>63 != 0 {
			flags |= flagOF
		}
	case x86asm.SUB, x86asm.CMP:
		res = a - b
		if a < b {
			flags |= flagCF
		}
		if ((a^b)&(a^res))>>63 != 0 {
			flags |= flagOF
		}
	case x86asm.AND:
		res = a & b
	case x86asm.OR:
		res = a | b
	case x86asm.XOR:
		res = a ^ b
	}
	if res == 0 {
		flags |= flagZF
	}
	if int64(res) < 0 {
		flags |= flagSF
	}
	return res, flags
}

func condition(op x86asm.Op, flags uint64) bool {
	zf := flags&flagZF != 0
	sf := flags&flagSF != 0
	of := flags&flagOF != 0
	cf := flags&flagCF != 0
	switch op {
	case x86asm.JE:
		return zf
	case x86asm.JNE:
		return !zf
	case x86asm.JL:
		return sf != of
	case x86asm.JGE:
		return sf == of
	case x86asm.JLE:
		return zf || sf != of
	case x86asm.JG:
		return !zf && sf == of
	case x86asm.JB:
		return cf
	case x86asm.JAE:
		return !cf
	}
	return true
}

func (p *Process) syscall(t *thread) *proc.WaitStatus {
	regs := &t.regs
	arg0, arg1, arg2 := regs.Get(proc.RDI), regs.Get(proc.RSI), regs.Get(proc.RDX)
	switch regs.Get(proc.RAX) {
	case sysWrite:
		buf := make([]byte, arg2)
		if _, err := p.mem.read(buf, arg1); err != nil {
			regs.Set(proc.RAX, errno(efault))
			return nil
		}
		if arg0 == 1 || arg0 == 2 {
			p.out.Write(buf)
		}
		regs.Set(proc.RAX, arg2)
	case sysSchedYield:
		regs.Set(proc.RAX, 0)
	case sysGetpid:
		regs.Set(proc.RAX, uint64(p.pid))
	case sysGettid:
		regs.Set(proc.RAX, uint64(t.ptid.Lwp))
	case sysClone:
		// clone(fn, arg): the new thread starts executing fn(arg) on its
		// own stack.
		nt := p.newThread()
		nt.regs.SetPC(arg0)
		nt.regs.Set(proc.RDI, arg1)
		nt.state = threadRunning
		regs.Set(proc.RAX, uint64(nt.ptid.Lwp))
		return &proc.WaitStatus{Kind: proc.WaitThreadCreated, NewThread: nt.ptid}
	case sysExit:
		return &proc.WaitStatus{Kind: proc.WaitThreadExited, ExitCode: int(arg0)}
	case sysExitGroup:
		return &proc.WaitStatus{Kind: proc.WaitExited, ExitCode: int(arg0)}
	case sysKill:
		regs.Set(proc.RAX, 0)
		if sig := proc.Signal(arg1); sig != proc.SignalNone {
			return sigStop(sig)
		}
	default:
		regs.Set(proc.RAX, errno(enosys))
	}
	return nil
}
