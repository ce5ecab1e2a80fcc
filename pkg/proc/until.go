package proc

type untilState struct {
	breakpoints []*Breakpoint
	// location is set for UntilLocation and Advance.
	location bool
}

// UntilNext continues until a source line past the current one is reached
// in the current frame, or the current function returns. Used at the end
// of a loop it runs the loop to completion.
func (s *Session) UntilNext() (*StopReport, error) {
	t, err := s.commandThread()
	if err != nil {
		return nil, err
	}
	pc, err := s.threadPC(t)
	if err != nil {
		return nil, err
	}
	pspace := t.Inf.Pspace
	fn := pspace.pcToFunc(pc)
	if fn == nil {
		return nil, ErrNotInFunction
	}
	s.clearProceedStatus(t)
	if _, err := s.setStepFrame(t); err != nil {
		return nil, err
	}
	c := &t.Control
	c.StepRangeStart = fn.Entry
	if li, ok := pspace.pcToLine(pc); ok && !fn.NoDebug {
		c.StepRangeEnd = li.End
	} else {
		c.StepRangeEnd = pc + 1
	}
	c.StepOverCalls = StepOverAll

	t.SetFSM(&FSM{Kind: UntilCommand, reverse: s.direction == Reverse, until: &untilState{}})
	if err := s.proceed(t, resumeAtCurrentPC, SignalDefault); err != nil {
		s.CancelExecution(t)
		return nil, err
	}
	return s.waitForStop(t)
}

// UntilLocation continues until addr is reached in the selected frame, or
// the selected frame returns.
func (s *Session) UntilLocation(addr uint64) (*StopReport, error) {
	return s.untilBreakCommand(addr, false)
}

// Advance continues until addr is reached in any frame, or the selected
// frame returns.
func (s *Session) Advance(addr uint64) (*StopReport, error) {
	return s.untilBreakCommand(addr, true)
}

func (s *Session) untilBreakCommand(addr uint64, anywhere bool) (*StopReport, error) {
	t, err := s.commandThread()
	if err != nil {
		return nil, err
	}
	frames, err := s.Stacktrace(t, s.current.frameLevel+16)
	if err != nil {
		return nil, err
	}
	level := s.current.frameLevel
	if level >= len(frames) {
		level = len(frames) - 1
	}
	stackID := stackFrameIDOf(frames, level)

	st := &untilState{location: true}
	fsm := &FSM{Kind: UntilCommand, reverse: s.direction == Reverse, until: st}

	// Stop when the selected frame returns, even if addr was never reached.
	for i := level + 1; i < len(frames); i++ {
		if frames[i].Kind == InlineFrame {
			continue
		}
		bp, err := s.Breakpoints.SetMomentary(t.Inf, frames[i].PC, UntilBreakpoint, frames[i].ID, t)
		if err != nil {
			return nil, err
		}
		st.breakpoints = append(st.breakpoints, bp)
		break
	}

	var frameID FrameID
	if !anywhere {
		frameID = stackID
	}
	bp, err := s.Breakpoints.SetMomentary(t.Inf, addr, UntilBreakpoint, frameID, t)
	if err != nil {
		fsm.CleanUp(s, t)
		return nil, err
	}
	st.breakpoints = append(st.breakpoints, bp)

	s.clearProceedStatus(t)
	t.SetFSM(fsm)
	if err := s.proceed(t, resumeAtCurrentPC, SignalDefault); err != nil {
		s.CancelExecution(t)
		return nil, err
	}
	return s.waitForStop(t)
}

func (s *Session) untilShouldStop(f *FSM, t *Thread, ev *StopEvent) bool {
	if f.until.location {
		for _, bp := range f.until.breakpoints {
			if ev.hit(bp) {
				f.setFinished()
				break
			}
		}
		return true
	}
	if t.Control.StopStep {
		f.setFinished()
	}
	return true
}
