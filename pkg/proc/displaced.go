package proc

import (
	"fmt"

	"github.com/go-delve/execctl/pkg/logflags"
)

// displacedBuffer is the scratch area of an inferior where one thread at
// a time executes a copy of the instruction under its breakpoint.
type displacedBuffer struct {
	owner   *Thread
	addr    uint64
	saved   []byte
	origPC  uint64
	insnLen int
}

func (d *displacedBuffer) reset() { *d = displacedBuffer{} }

type displacedStepStatus uint8

const (
	displacedStepOK displacedStepStatus = iota
	// displacedStepUnavailable: another thread is using the buffer.
	displacedStepUnavailable
	// displacedStepCannot: the instruction must be stepped over in-line.
	displacedStepCannot
)

// displacedStepPrepare copies the instruction at t's pc to the scratch
// buffer of its inferior and points t at the copy.
func (s *Session) displacedStepPrepare(t *Thread) (displacedStepStatus, error) {
	inf := t.Inf
	if !s.opts.DisplacedStepping {
		return displacedStepCannot, nil
	}
	if inf.Target.CanReverse() {
		// The recorded history would return threads into the buffer.
		return displacedStepCannot, nil
	}
	if inf.displaced.owner != nil {
		return displacedStepUnavailable, nil
	}
	addr, size, ok := inf.Target.DisplacedStepBuffer(inf.Pid)
	if !ok {
		return displacedStepCannot, nil
	}
	regs, err := inf.Target.ReadRegisters(t.PTID)
	if err != nil {
		return displacedStepCannot, err
	}
	pc := regs.PC()
	arch := inf.Arch()
	buf := make([]byte, arch.MaxInstructionLength)
	n, err := s.Breakpoints.readMemory(inf, buf, pc)
	if err != nil && n == 0 {
		return displacedStepCannot, err
	}
	inst, err := arch.Decode(buf[:n], pc)
	if err != nil || !arch.CanDisplaceStep(&inst) || inst.Len() > size {
		if logflags.StepOver() {
			logflags.StepOverLogger().Debugf("can not displace %v at %#x: %v", t, pc, err)
		}
		return displacedStepCannot, nil
	}

	saved := make([]byte, inst.Len())
	if _, err := inf.Target.ReadMemory(saved, addr); err != nil {
		return displacedStepCannot, err
	}
	if _, err := inf.Target.WriteMemory(addr, inst.Bytes); err != nil {
		return displacedStepCannot, err
	}
	regs.SetPC(addr)
	if err := inf.Target.WriteRegisters(t.PTID, regs); err != nil {
		if _, err2 := inf.Target.WriteMemory(addr, saved); err2 != nil {
			logflags.StepOverLogger().Errorf("could not restore displaced step buffer at %#x: %v", addr, err2)
		}
		return displacedStepCannot, err
	}
	inf.displaced = displacedBuffer{owner: t, addr: addr, saved: saved, origPC: pc, insnLen: inst.Len()}
	if logflags.StepOver() {
		logflags.StepOverLogger().Debugf("displaced step of %v: %#x copied to %#x", t, pc, addr)
	}
	return displacedStepOK, nil
}

// displacedStepFinish restores the scratch buffer and moves t's pc back
// to the original code.
func (s *Session) displacedStepFinish(t *Thread) error {
	inf := t.Inf
	d := &inf.displaced
	if d.owner != t {
		panic(fmt.Sprintf("internal error: %v finishing a displaced step owned by %v", t, d.owner))
	}
	defer d.reset()
	if inf.Pid == 0 {
		return nil
	}
	if _, err := inf.Target.WriteMemory(d.addr, d.saved); err != nil {
		return err
	}
	regs, err := inf.Target.ReadRegisters(t.PTID)
	if err != nil {
		return err
	}
	pc := regs.PC()
	if pc >= d.addr && pc <= d.addr+uint64(d.insnLen) {
		regs.SetPC(d.origPC + (pc - d.addr))
		if err := inf.Target.WriteRegisters(t.PTID, regs); err != nil {
			return err
		}
	}
	t.needStepOver = pc == d.addr
	if logflags.StepOver() {
		logflags.StepOverLogger().Debugf("displaced step of %v done, pc %#x", t, regs.PC())
	}
	return nil
}

func (s *Session) anyDisplacedStepInProgress() bool {
	for _, inf := range s.inferiors {
		if inf.displaced.owner != nil {
			return true
		}
	}
	return false
}

// startStepOvers starts the step-overs of the queued threads that can
// start now: displaced steps while scratch buffers are free, then at most
// one in-line step-over once nothing else runs.
func (s *Session) startStepOvers() error {
	if s.inlineStepOver != nil {
		return nil
	}
	for _, t := range s.stepOver.Threads() {
		if t.executing || t.resumed {
			continue
		}
		if !s.threadStillNeedsStepOver(t) {
			s.stepOver.Remove(t)
			if t.State == ThreadRunning {
				if err := s.resumeThread(t); err != nil {
					return err
				}
			}
			continue
		}
		status, err := s.displacedStepPrepare(t)
		if err != nil {
			return err
		}
		switch status {
		case displacedStepOK:
			s.stepOver.Remove(t)
			t.steppingOver = stepOverDisplaced
			if err := s.resumeThread(t); err != nil {
				return err
			}
			continue
		case displacedStepUnavailable:
			continue
		}

		if s.anyDisplacedStepInProgress() {
			continue
		}
		if s.anyThreadExecuting(nil) {
			if err := s.stopAllThreads(); err != nil {
				return err
			}
		}
		s.stepOver.Remove(t)
		return s.startInlineStepOver(t)
	}
	return nil
}

// startInlineStepOver removes the breakpoint under t and single steps t
// alone.
func (s *Session) startInlineStepOver(t *Thread) error {
	pc, err := s.threadPC(t)
	if err != nil {
		return err
	}
	if err := s.Breakpoints.lift(t.Inf, pc); err != nil {
		return err
	}
	s.inlineStepOver = t
	t.steppingOver = stepOverInline
	t.stepOverAddr = pc
	if logflags.StepOver() {
		logflags.StepOverLogger().Debugf("in-line step-over of %v at %#x", t, pc)
	}
	return s.resumeThread(t)
}

// finishStepOver ends the step-over t was doing.
func (s *Session) finishStepOver(t *Thread) error {
	var err error
	switch t.steppingOver {
	case stepOverDisplaced:
		err = s.displacedStepFinish(t)
	case stepOverInline:
		err = s.Breakpoints.relower(t.Inf, t.stepOverAddr)
		s.inlineStepOver = nil
		if pc, err2 := s.threadPC(t); err2 == nil {
			t.needStepOver = pc == t.stepOverAddr
		}
		t.stepOverAddr = 0
	}
	t.steppingOver = stepOverNone
	return err
}

// abortStepOver ends the step-over of a thread that is going away.
func (s *Session) abortStepOver(t *Thread) {
	switch t.steppingOver {
	case stepOverDisplaced:
		inf := t.Inf
		if inf.Pid != 0 && inf.Target != nil {
			if _, err := inf.Target.WriteMemory(inf.displaced.addr, inf.displaced.saved); err != nil {
				logflags.StepOverLogger().Errorf("could not restore displaced step buffer at %#x: %v", inf.displaced.addr, err)
			}
		}
		inf.displaced.reset()
	case stepOverInline:
		if err := s.Breakpoints.relower(t.Inf, t.stepOverAddr); err != nil && logflags.StepOver() {
			logflags.StepOverLogger().Errorf("could not reinsert breakpoint at %#x: %v", t.stepOverAddr, err)
		}
		s.inlineStepOver = nil
		t.stepOverAddr = 0
	}
	t.steppingOver = stepOverNone
}

// restartAfterStepOver starts the next step-overs and, when no in-line
// step-over holds everything, resumes the threads it had to stop.
func (s *Session) restartAfterStepOver(except *Thread) error {
	if err := s.startStepOvers(); err != nil {
		return err
	}
	if s.inlineStepOver != nil {
		return nil
	}
	return s.restartThreads(except)
}
