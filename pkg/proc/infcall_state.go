package proc

// InfcallSuspendState is the state of a stopped thread a function call
// clobbers: its registers and what it last stopped with.
type InfcallSuspendState struct {
	regs    *Registers
	suspend threadSuspendState
}

// Registers returns the saved registers.
func (st *InfcallSuspendState) Registers() *Registers { return st.regs }

func (s *Session) saveInfcallSuspendState(t *Thread) (*InfcallSuspendState, error) {
	regs, err := t.Inf.Target.ReadRegisters(t.PTID)
	if err != nil {
		return nil, err
	}
	return &InfcallSuspendState{regs: regs.Copy(), suspend: t.suspend}, nil
}

func (s *Session) restoreInfcallSuspendState(t *Thread, st *InfcallSuspendState) error {
	pending := t.suspend.waitStatusPending
	t.suspend = st.suspend
	if pending != st.suspend.waitStatusPending {
		if st.suspend.waitStatusPending {
			t.suspend.waitStatusPending = false
			t.SetPendingWaitStatus(st.suspend.waitStatus)
		} else {
			t.targetState().removeResumedWithPending(t)
		}
	}
	return t.Inf.Target.WriteRegisters(t.PTID, st.regs.Copy())
}

// InfcallControlState is the state of an execution command a function
// call interrupts: the thread's stepping state, the last stop and the
// selected frame.
type InfcallControlState struct {
	control               ThreadControl
	inlineSkipped         int
	needStepOver          bool
	stopStackDummy        StopStackDummy
	stoppedByRandomSignal bool
	frameID               FrameID
	frameLevel            int
}

func (s *Session) saveInfcallControlState(t *Thread) *InfcallControlState {
	st := &InfcallControlState{
		control:               t.Control,
		inlineSkipped:         t.inlineSkipped,
		needStepOver:          t.needStepOver,
		stopStackDummy:        s.stopStackDummy,
		stoppedByRandomSignal: s.stoppedByRandomSignal,
		frameID:               s.current.frameID,
		frameLevel:            s.current.frameLevel,
	}
	if !st.frameID.Valid() {
		if fr, err := s.FrameAt(t, s.current.frameLevel); err == nil {
			st.frameID = fr.ID
		}
	}
	// The saved state owns the stop bpstat and the step-resume breakpoint
	// from now on.
	t.Control.StopBpstat = nil
	t.Control.StepResumeBreakpoint = nil
	return st
}

func (s *Session) restoreInfcallControlState(t *Thread, st *InfcallControlState) {
	s.deleteStepResumeBreakpoint(t)
	t.Control = st.control
	t.inlineSkipped = st.inlineSkipped
	t.needStepOver = st.needStepOver
	s.stopStackDummy = st.stopStackDummy
	s.stoppedByRandomSignal = st.stoppedByRandomSignal
	if s.current.thread == t {
		s.restoreSelectedFrame(st.frameID, st.frameLevel)
	}
}

func (s *Session) discardInfcallControlState(st *InfcallControlState) {
	s.Breakpoints.Delete(st.control.StepResumeBreakpoint)
}
