package proc

import (
	"github.com/go-delve/execctl/pkg/logflags"
)

type stepState struct {
	// count is the number of steps left.
	count           int
	skipSubroutines bool
	singleInst      bool
}

// Step steps count source lines, entering called functions.
func (s *Session) Step(count int) (*StopReport, error) {
	return s.stepCommand(count, false, false)
}

// Next steps count source lines, stepping over called functions.
func (s *Session) Next(count int) (*StopReport, error) {
	return s.stepCommand(count, true, false)
}

// StepInstruction steps count instructions.
func (s *Session) StepInstruction(count int) (*StopReport, error) {
	return s.stepCommand(count, false, true)
}

// NextInstruction steps count instructions, stepping over calls.
func (s *Session) NextInstruction(count int) (*StopReport, error) {
	return s.stepCommand(count, true, true)
}

func (s *Session) stepCommand(count int, skipSubroutines, singleInst bool) (*StopReport, error) {
	t, err := s.commandThread()
	if err != nil {
		return nil, err
	}
	if count < 1 {
		count = 1
	}
	s.clearProceedStatus(t)
	fsm := &FSM{
		Kind:    StepCommand,
		reverse: s.direction == Reverse,
		step:    &stepState{count: count, skipSubroutines: skipSubroutines, singleInst: singleInst},
	}
	t.SetFSM(fsm)

	done, err := s.prepareOneStep(t, fsm)
	if err != nil {
		s.CancelExecution(t)
		s.FinishThreadState(t.Inf.Target, s.resumePTID(t))
		return nil, err
	}
	if done {
		// Every step entered an inlined call: nothing needs to run.
		pc, _ := s.threadPC(t)
		ev := &StopEvent{Thread: t, Inferior: t.Inf, PC: pc, StopStep: true}
		return s.finishStop(ev, t)
	}
	if err := s.proceed(t, resumeAtCurrentPC, SignalDefault); err != nil {
		s.CancelExecution(t)
		return nil, err
	}
	return s.waitForStop(t)
}

// setStepFrame records the innermost frame of t as the frame being
// stepped.
func (s *Session) setStepFrame(t *Thread) (Frame, error) {
	frames, err := s.Stacktrace(t, 16)
	if err != nil {
		return Frame{}, err
	}
	fr := frames[0]
	c := &t.Control
	c.StepFrameID = fr.ID
	c.StepStackFrameID = stackFrameIDOf(frames, 0)
	c.StepLine = LineInfo{}
	if fr.HasLine {
		c.StepLine = fr.Line
	}
	return fr, nil
}

// prepareOneStep sets up the stepping range of the next step. It returns
// true when no step is left, the command is then finished.
func (s *Session) prepareOneStep(t *Thread, f *FSM) (bool, error) {
	st := f.step
	for st.count > 0 {
		fr, err := s.setStepFrame(t)
		if err != nil {
			return false, err
		}
		c := &t.Control
		c.StopStep = false

		if st.singleInst {
			c.StepRangeStart, c.StepRangeEnd = 1, 1
			if !st.skipSubroutines {
				c.StepOverCalls = StepOverNone
			}
		} else {
			if !st.skipSubroutines && t.inlineSkipped > 0 {
				// Stepping into an inlined call that starts at the current
				// pc only changes the frame shown.
				s.SetRunning(t.Inf.Target, s.resumePTID(t), true)
				t.inlineSkipped--
				st.count--
				if logflags.Infrun() {
					logflags.InfrunLogger().Debugf("%v stepped into inlined call at %#x", t, fr.PC)
				}
				continue
			}

			pc := fr.PC
			pspace := t.Inf.Pspace
			li, ok := pspace.pcToLine(pc)
			if ok {
				c.StepRangeStart, c.StepRangeEnd = li.PC, li.End
				if blk, ok := s.nextSkippedBlock(t, pc); ok && blk.End < c.StepRangeEnd {
					c.StepRangeEnd = blk.End
				}
			} else if s.opts.StepStopIfNoDebug {
				c.StepRangeStart, c.StepRangeEnd = 1, 1
			} else {
				fn := pspace.pcToFunc(pc)
				if fn == nil {
					return false, ErrNoFunctionBounds
				}
				c.StepRangeStart, c.StepRangeEnd = fn.Entry, fn.End
				if logflags.Infrun() {
					logflags.InfrunLogger().Infof("single stepping until exit from function %s, which has no line number information", fn.Name)
				}
			}
		}
		if st.skipSubroutines {
			c.StepOverCalls = StepOverAll
		}
		return false, nil
	}
	f.setFinished()
	return true, nil
}

func (s *Session) stepShouldStop(f *FSM, t *Thread, ev *StopEvent) bool {
	if !t.Control.StopStep {
		return true
	}
	f.step.count--
	if f.step.count > 0 {
		done, err := s.prepareOneStep(t, f)
		if err != nil {
			if logflags.Infrun() {
				logflags.InfrunLogger().Errorf("could not prepare next step of %v: %v", t, err)
			}
			// The thread stops where the last step left it and the command
			// fails.
			f.err = err
			return true
		}
		return done
	}
	f.setFinished()
	return true
}
