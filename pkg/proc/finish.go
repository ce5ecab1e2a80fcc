package proc

import (
	"github.com/go-delve/execctl/pkg/logflags"
)

type finishState struct {
	// function is the function being finished, nil when unknown or when
	// finishing an inlined call.
	function    *Function
	bp          *Breakpoint
	returnValue *Value
}

// Finish continues until the selected frame returns and reports the value
// it returned. In reverse it goes back to the call of the selected frame's
// function.
func (s *Session) Finish() (*StopReport, error) {
	t, err := s.commandThread()
	if err != nil {
		return nil, err
	}
	level := s.current.frameLevel
	frames, err := s.Stacktrace(t, level+16)
	if err != nil {
		return nil, err
	}
	if level >= len(frames) {
		level = len(frames) - 1
	}
	if level+1 >= len(frames) {
		return nil, ErrOutermostFrame
	}
	selected := frames[level]
	caller := frames[level+1]

	st := &finishState{}
	fsm := &FSM{Kind: FinishCommand, reverse: s.direction == Reverse, finish: st}

	if selected.Kind == InlineFrame {
		s.clearProceedStatus(t)
		// No return value can be found for an inlined call: step until
		// the calling frame is back.
		c := &t.Control
		c.StepFrameID = caller.ID
		c.StepStackFrameID = stackFrameIDOf(frames, level+1)
		c.StepLine = LineInfo{}
		c.StepRangeStart, c.StepRangeEnd = caller.PC, caller.PC
		c.StepOverCalls = StepOverAll
		t.SetFSM(fsm)
		return s.runFinish(t)
	}

	st.function = selected.Fn
	if s.direction == Reverse {
		pc, err := s.threadPC(t)
		if err != nil {
			return nil, err
		}
		fn := t.Inf.Pspace.pcToFunc(pc)
		if fn == nil {
			return nil, ErrNoFunctionBounds
		}
		s.clearProceedStatus(t)
		if err := s.finishBackward(t, pc, fn); err != nil {
			return nil, err
		}
		t.SetFSM(fsm)
		return s.runFinish(t)
	}

	// The caller may be inlined into the real frame the function returns
	// to, the breakpoint is tagged with the latter.
	callerStackID := stackFrameIDOf(frames, level+1)
	if !callerStackID.Valid() {
		return nil, ErrNoCallerFrame
	}
	bp, err := s.Breakpoints.SetMomentary(t.Inf, caller.PC, FinishBreakpoint, callerStackID, t)
	if err != nil {
		return nil, err
	}
	s.clearProceedStatus(t)
	st.bp = bp
	t.Control.ProceedToFinish = true
	t.SetFSM(fsm)
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("finish %v: breakpoint at %#x frame %v", t, caller.PC, callerStackID)
	}
	return s.runFinish(t)
}

func (s *Session) runFinish(t *Thread) (*StopReport, error) {
	if err := s.proceed(t, resumeAtCurrentPC, SignalDefault); err != nil {
		s.CancelExecution(t)
		return nil, err
	}
	return s.waitForStop(t)
}

// finishBackward sets up going back to the call of fn, which contains
// pc: to its entry, then one more step back.
func (s *Session) finishBackward(t *Thread, pc uint64, fn *Function) error {
	t.Control.ProceedToFinish = true
	if pc != fn.Entry {
		return s.insertStepResumeBreakpoint(t, fn.Entry, FrameID{})
	}
	t.Control.StepRangeStart, t.Control.StepRangeEnd = 1, 1
	return nil
}

func (s *Session) finishShouldStop(f *FSM, t *Thread, ev *StopEvent) bool {
	st := f.finish
	if st.bp != nil && ev.hit(st.bp) {
		f.setFinished()
		st.returnValue = s.finishReturnValue(t, st.function)
		return true
	}
	if t.Control.StopStep {
		f.setFinished()
	}
	return true
}

// finishReturnValue reads the value fn just returned, nil when it can't
// be known.
func (s *Session) finishReturnValue(t *Thread, fn *Function) *Value {
	rt := fn.ReturnType()
	if rt == nil || rt.Code == TypeVoid || fn.Type.NoCall {
		return nil
	}
	regs, err := t.Inf.Target.ReadRegisters(t.PTID)
	if err != nil {
		return nil
	}
	v, err := t.Inf.Arch().ReturnValue(rt, regs, t.Inf.memory(), 0)
	if err != nil {
		if logflags.Infrun() {
			logflags.InfrunLogger().Warnf("could not read value returned by %s: %v", fn.Name, err)
		}
		return nil
	}
	return v
}
