package proc

import (
	"fmt"

	"github.com/go-delve/execctl/pkg/logflags"
)

// resumeAtCurrentPC tells proceed to resume threads where they are.
const resumeAtCurrentPC = ^uint64(0)

// resumePTID returns the threads resumed together with t.
func (s *Session) resumePTID(t *Thread) PTID {
	if s.opts.NonStop {
		return t.PTID
	}
	return PidPTID(t.Inf.Pid)
}

// resumeSet returns the threads resumed together with t.
func (s *Session) resumeSet(t *Thread) []*Thread {
	if s.opts.NonStop {
		return []*Thread{t}
	}
	return s.AllNonExitedThreads(t.Inf.Target, s.resumePTID(t))
}

// commandThread returns the thread execution commands operate on.
func (s *Session) commandThread() (*Thread, error) {
	inf := s.CurrentInferior()
	if inf == nil || inf.Pid == 0 || inf.Target == nil {
		return nil, ErrNoProcess
	}
	return s.ensureStoppedThread()
}

// clearProceedStatus forgets the stepping state and last stop of the
// threads about to be resumed with t.
func (s *Session) clearProceedStatus(t *Thread) {
	for _, th := range s.resumeSet(t) {
		s.clearProceedStatusThread(th)
	}
	s.stopStackDummy = StopNone
	s.stoppedByRandomSignal = false
}

func (s *Session) clearProceedStatusThread(t *Thread) {
	s.deleteStepResumeBreakpoint(t)
	inInfcall := t.Control.InInfcall
	t.Control = ThreadControl{StepOverCalls: StepOverUndebuggable, InInfcall: inInfcall}
}

func (s *Session) threadPC(t *Thread) (uint64, error) {
	regs, err := t.Inf.Target.ReadRegisters(t.PTID)
	if err != nil {
		return 0, err
	}
	return regs.PC(), nil
}

// threadStillNeedsStepOver returns true if t must step over the
// breakpoint at its pc before it can be resumed.
func (s *Session) threadStillNeedsStepOver(t *Thread) bool {
	if !t.needStepOver || t.suspend.waitStatusPending {
		return false
	}
	pc, err := s.threadPC(t)
	if err == nil && s.Breakpoints.insertedAt(t.Inf, pc) {
		return true
	}
	t.needStepOver = false
	return false
}

// currentlyStepping returns true if t must be single stepped.
func (s *Session) currentlyStepping(t *Thread) bool {
	if t.steppingOver != stepOverNone {
		return true
	}
	return t.Control.StepRangeEnd != 0 && t.Control.StepResumeBreakpoint == nil
}

// proceed resumes t, and in all-stop mode every other thread of its
// process, at addr or where they are if addr is resumeAtCurrentPC. Threads
// stopped at a breakpoint are queued to step over it first.
func (s *Session) proceed(t *Thread, addr uint64, sig Signal) (err error) {
	inf := t.Inf
	b := inf.Target
	if b == nil || inf.Pid == 0 {
		return ErrNoProcess
	}
	filter := s.resumePTID(t)
	defer func() {
		if err != nil {
			s.FinishThreadState(b, filter)
		}
	}()

	if addr != resumeAtCurrentPC {
		regs, err := b.ReadRegisters(t.PTID)
		if err != nil {
			return err
		}
		regs.SetPC(addr)
		if err := b.WriteRegisters(t.PTID, regs); err != nil {
			return err
		}
		t.needStepOver = false
	} else if s.direction == Forward {
		pc, err := s.threadPC(t)
		if err != nil {
			return err
		}
		if stopPC, ok := t.StopPC(); ok && pc == stopPC && s.Breakpoints.insertedAt(inf, pc) {
			t.needStepOver = true
		}
	}
	if sig != SignalDefault {
		t.suspend.stopSignal = sig
	}

	threads := s.resumeSet(t)
	if s.direction == Forward {
		// Move the other threads over their breakpoints first.
		for _, th := range threads {
			if th == t || th.executing || th.resumed || s.stepOver.Contains(th) {
				continue
			}
			if s.threadStillNeedsStepOver(th) {
				s.stepOver.Enqueue(th)
			}
		}
		if !s.stepOver.Contains(t) && s.threadStillNeedsStepOver(t) {
			s.stepOver.Enqueue(t)
		}
	}

	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("proceed %v addr=%#x sig=%v direction=%v step-over queue=%d", t, addr, sig, s.direction, s.stepOver.Len())
	}

	s.SetRunning(b, filter, true)

	if err := s.startStepOvers(); err != nil {
		return err
	}
	if s.inlineStepOver != nil {
		return nil
	}
	for _, th := range threads {
		if th.State == ThreadExited || th.executing || th.resumed || s.stepOver.Contains(th) {
			continue
		}
		if err := s.resumeThread(th); err != nil {
			return err
		}
	}
	return nil
}

// resumeThread resumes a single thread, stepping it if its execution
// command requires it. A thread with a pending event is only marked
// resumed: the event is reported by the next wait.
func (s *Session) resumeThread(t *Thread) error {
	if t.suspend.waitStatusPending {
		if logflags.Infrun() {
			logflags.InfrunLogger().Debugf("%v has pending status %v, not resuming", t, t.suspend.waitStatus)
		}
		t.setResumed(true)
		return nil
	}
	sig := SignalNone
	if t.suspend.stopSignal.pass() {
		sig = t.suspend.stopSignal
	}
	step := s.currentlyStepping(t)
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("resume %v step=%v sig=%v range=[%#x,%#x)", t, step, sig, t.Control.StepRangeStart, t.Control.StepRangeEnd)
	}
	if err := t.Inf.Target.Resume(t.PTID, step, sig); err != nil {
		return err
	}
	t.suspend.stopSignal = SignalNone
	t.setExecuting(true)
	t.setResumed(true)
	return nil
}

// keepGoing resumes t after an event that did not end its execution
// command.
func (s *Session) keepGoing(t *Thread) error {
	if s.direction == Forward && s.threadStillNeedsStepOver(t) {
		if !s.stepOver.Contains(t) {
			s.stepOver.Enqueue(t)
		}
		return s.startStepOvers()
	}
	return s.resumeThread(t)
}

// restartThreads resumes the threads the user thinks are running that the
// engine stopped, e.g. for an in-line step-over.
func (s *Session) restartThreads(except *Thread) error {
	for _, th := range s.AllNonExitedThreads(nil, MinusOnePTID) {
		if th == except || th.State != ThreadRunning || th.executing || th.resumed || s.stepOver.Contains(th) {
			continue
		}
		if err := s.resumeThread(th); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) insertStepResumeBreakpoint(t *Thread, addr uint64, frameID FrameID) error {
	s.deleteStepResumeBreakpoint(t)
	bp, err := s.Breakpoints.SetMomentary(t.Inf, addr, StepResumeBreakpoint, frameID, t)
	if err != nil {
		return err
	}
	t.Control.StepResumeBreakpoint = bp
	return nil
}

func (s *Session) deleteStepResumeBreakpoint(t *Thread) {
	if bp := t.Control.StepResumeBreakpoint; bp != nil {
		s.Breakpoints.Delete(bp)
		t.Control.StepResumeBreakpoint = nil
	}
}

// nextEvent returns the next event to process: pending events of resumed
// threads first, then events from the backends with executing threads.
func (s *Session) nextEvent() (Backend, PTID, WaitStatus, error) {
	for _, ts := range s.targets {
		if len(ts.resumedWithPending) > 0 {
			t := ts.resumedWithPending[0]
			ws := t.suspend.waitStatus
			t.ClearPendingWaitStatus()
			if logflags.Infrun() {
				logflags.InfrunLogger().Debugf("using pending status of %v: %v", t, ws)
			}
			return ts.b, t.PTID, ws, nil
		}
	}
	return s.waitBackends()
}

// waitBackends waits for an event from a backend with executing threads,
// rotating between backends.
func (s *Session) waitBackends() (Backend, PTID, WaitStatus, error) {
	n := len(s.targets)
	for i := 0; i < n; i++ {
		ts := s.targets[(s.nextTarget+i)%n]
		if !s.anyThreadExecuting(ts.b) {
			continue
		}
		s.nextTarget = (s.nextTarget + i + 1) % n
		ptid, ws, err := ts.b.Wait()
		if err != nil {
			return nil, NullPTID, WaitStatus{}, err
		}
		return ts.b, ptid, ws, nil
	}
	return nil, NullPTID, WaitStatus{Kind: WaitNoResumed}, nil
}

// waitForStop processes events until an execution command stops. In
// non-stop mode stops of threads other than cmd are reported to the
// observers and waiting goes on; cmd nil accepts any stop.
func (s *Session) waitForStop(cmd *Thread) (*StopReport, error) {
	for {
		b, ptid, ws, err := s.nextEvent()
		if err == nil {
			var ev *StopEvent
			ev, err = s.handleInferiorEvent(b, ptid, ws)
			if err == nil && ev == nil {
				continue
			}
			if err == nil {
				t := ev.Thread
				if t != nil && t.State != ThreadExited && t.fsm != nil && !t.fsm.ShouldStop(s, t, ev) {
					if err = s.keepGoing(t); err == nil {
						continue
					}
				} else {
					var cmdErr error
					if t != nil && t.fsm != nil {
						cmdErr = t.fsm.err
					}
					var report *StopReport
					report, err = s.finishStop(ev, cmd)
					if err != nil {
						return nil, err
					}
					if cmdErr != nil && (cmd == nil || cmd == t) {
						return nil, cmdErr
					}
					if s.opts.NonStop && cmd != nil && t != cmd && cmd.State == ThreadRunning && !ws.processGone() {
						continue
					}
					return report, nil
				}
			}
		}
		s.abortExecution(err)
		return nil, err
	}
}

// abortExecution puts the session back in a consistent state after an
// error while waiting: everything is stopped and the execution commands
// are cancelled, except function calls which their caller cleans up.
func (s *Session) abortExecution(err error) {
	if logflags.Infrun() {
		logflags.InfrunLogger().Errorf("aborting execution: %v", err)
	}
	if err != ErrNoResumed {
		if err2 := s.stopAllThreads(); err2 != nil && logflags.Infrun() {
			logflags.InfrunLogger().Errorf("could not stop threads: %v", err2)
		}
	}
	for _, th := range s.AllNonExitedThreads(nil, MinusOnePTID) {
		if th.fsm != nil && th.fsm.Kind != CallCommand {
			s.CancelExecution(th)
		}
	}
	s.FinishThreadState(nil, MinusOnePTID)
}

// handleInferiorEvent processes one event. It returns the stop to report
// or nil if the event was handled and waiting goes on.
func (s *Session) handleInferiorEvent(b Backend, ptid PTID, ws WaitStatus) (*StopEvent, error) {
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("event %v: %v", ptid, ws)
	}
	if ws.Kind == WaitNoResumed {
		return nil, ErrNoResumed
	}
	inf := s.FindInferiorPid(ptid.Pid)
	if inf == nil || inf.Target != b {
		return nil, fmt.Errorf("event for unknown process %d: %v", ptid.Pid, ws)
	}
	t := s.FindThreadInInferior(inf, ptid)
	if t == nil && !ws.processGone() {
		t = s.AddThread(inf, ptid)
		t.State = ThreadRunning
	}
	switch ws.Kind {
	case WaitExited, WaitSignalled:
		return s.handleProcessExit(inf, ws), nil
	case WaitThreadCreated:
		return nil, s.handleThreadCreated(inf, t, ws)
	case WaitThreadExited:
		return s.handleThreadExited(inf, t, ws)
	case WaitNoHistory:
		t.setExecuting(false)
		t.setResumed(false)
		pc, err := s.threadPC(t)
		if err != nil {
			return nil, err
		}
		t.setStopPC(pc)
		t.suspend.stopSignal = SignalNone
		s.skipInlineFrames(t, pc)
		return &StopEvent{Thread: t, Inferior: inf, Status: ws, PC: pc}, nil
	}
	return s.handleSignalStop(t, ws)
}

func (s *Session) handleProcessExit(inf *Inferior, ws WaitStatus) *StopEvent {
	inf.HasExitCode = ws.Kind == WaitExited
	inf.ExitCode = ws.ExitCode
	s.stopStackDummy = StopNone
	s.stoppedByRandomSignal = false
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("%v gone: %v", inf, ws)
	}
	s.ExitInferior(inf)
	return &StopEvent{Inferior: inf, Status: ws}
}

func (s *Session) handleThreadCreated(inf *Inferior, parent *Thread, ws WaitStatus) error {
	nt := s.FindThreadInInferior(inf, ws.NewThread)
	if nt == nil {
		nt = s.AddThread(inf, ws.NewThread)
	}
	nt.State = parent.State
	nt.setExecuting(true)
	nt.setResumed(true)
	parent.setExecuting(false)
	parent.setResumed(false)
	parent.stopRequested = false
	return s.keepGoing(parent)
}

func (s *Session) handleThreadExited(inf *Inferior, t *Thread, ws WaitStatus) (*StopEvent, error) {
	t.setExecuting(false)
	t.setResumed(false)
	hadFSM := t.fsm != nil
	wasSteppingOver := t.steppingOver != stepOverNone
	s.deleteThread(t, ws.ExitCode, true, !s.opts.PrintThreadEvents)
	if wasSteppingOver {
		if err := s.restartAfterStepOver(nil); err != nil {
			return nil, err
		}
	}
	if !hadFSM {
		return nil, nil
	}
	return &StopEvent{Thread: t, Inferior: inf, Status: ws}, nil
}

func targetStopReason(ws WaitStatus) TargetStopReason {
	switch {
	case ws.SwBreakpoint:
		return TargetStopSwBreakpoint
	case ws.SingleStep:
		return TargetStopSingleStep
	case ws.Sig != SignalNone:
		return TargetStopSignal
	}
	return TargetStopNone
}

// handleSignalStop processes a WaitStopped event of t.
func (s *Session) handleSignalStop(t *Thread, ws WaitStatus) (*StopEvent, error) {
	inf := t.Inf
	t.setExecuting(false)
	t.setResumed(false)
	pc, err := s.threadPC(t)
	if err != nil {
		return nil, err
	}
	t.setStopPC(pc)
	t.suspend.stopSignal = ws.Sig
	t.suspend.stopReason = targetStopReason(ws)
	requested := t.stopRequested
	t.stopRequested = false

	steppedOver := false
	if t.steppingOver != stepOverNone {
		if err := s.finishStepOver(t); err != nil {
			return nil, err
		}
		steppedOver = true
		if pc, err = s.threadPC(t); err != nil {
			return nil, err
		}
		t.setStopPC(pc)
		if err := s.restartAfterStepOver(t); err != nil {
			return nil, err
		}
	}

	s.skipInlineFrames(t, pc)
	ev := &StopEvent{Thread: t, Inferior: inf, Status: ws, PC: pc}
	s.stopStackDummy = StopNone
	s.stoppedByRandomSignal = false

	if requested && ws.Sig == SIGSTOP {
		t.suspend.stopSignal = SignalNone
		ev.Interrupted = true
		return ev, nil
	}

	if ws.Sig == SIGTRAP {
		ev.Bpstat = s.Breakpoints.stopStatus(t, pc)
	}
	t.Control.StopBpstat = ev.Bpstat
	stop := false
	stepResumeHit := false
	for _, bp := range ev.Bpstat {
		switch bp.Kind {
		case CallDummyBreakpoint:
			ev.StopStackDummy = StopStackDummyHit
			stop = true
		case StdTerminateBreakpoint:
			ev.StopStackDummy = StopStdTerminate
			stop = true
		case StepResumeBreakpoint:
			if bp == t.Control.StepResumeBreakpoint {
				stepResumeHit = true
			}
		case UserBreakpoint:
			bp.HitCount++
			stop = true
		default:
			stop = true
		}
	}
	if len(ev.Bpstat) > 0 {
		t.needStepOver = true
	}
	s.stopStackDummy = ev.StopStackDummy
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("%v stopped at %#x: %v bpstat=%v", t, pc, ws, ev.Bpstat)
	}
	if stop {
		return ev, nil
	}

	if stepResumeHit {
		s.deleteStepResumeBreakpoint(t)
		if s.direction == Reverse {
			if t.Control.ProceedToFinish {
				// Reverse finish reached the entry of the function, one
				// more step back is the call.
				t.Control.StepRangeStart, t.Control.StepRangeEnd = 1, 1
				return nil, s.keepGoing(t)
			}
			if fn := inf.Pspace.pcToFunc(pc); fn != nil && fn.Entry == pc {
				return nil, s.keepGoing(t)
			}
		}
		if t.Control.StepRangeEnd == 0 {
			return nil, s.keepGoing(t)
		}
		return s.processStepRange(t, ev)
	}

	if ws.Sig != SIGTRAP {
		ev.StoppedByRandomSignal = true
		s.stoppedByRandomSignal = true
		return ev, nil
	}
	if ws.SwBreakpoint && s.Breakpoints.insertedAt(inf, pc) {
		// A breakpoint of another thread or frame.
		t.needStepOver = true
		return nil, s.keepGoing(t)
	}
	if t.Control.StepRangeEnd == 0 {
		if steppedOver || ws.SingleStep {
			return nil, s.keepGoing(t)
		}
		// A trap the program caused itself.
		ev.StoppedByRandomSignal = true
		s.stoppedByRandomSignal = true
		return ev, nil
	}
	return s.processStepRange(t, ev)
}

func (s *Session) stopStepping(t *Thread, ev *StopEvent) (*StopEvent, error) {
	ev.StopStep = true
	t.Control.StopStep = true
	return ev, nil
}

// processStepRange decides whether a thread doing range stepping is done.
func (s *Session) processStepRange(t *Thread, ev *StopEvent) (*StopEvent, error) {
	c := &t.Control
	pc := ev.PC
	pspace := t.Inf.Pspace
	stepi := c.StepRangeStart == 1 && c.StepRangeEnd == 1

	if !stepi && pc >= c.StepRangeStart && pc < c.StepRangeEnd {
		if s.direction == Reverse && pc == c.StepRangeStart {
			// Stepping backwards stops at the beginning of the line, unless
			// it is the function's entry: then the call is next.
			if fn := pspace.pcToFunc(pc); fn == nil || fn.Entry != pc {
				return s.stopStepping(t, ev)
			}
		}
		return nil, s.keepGoing(t)
	}
	if c.StopAtRangeExit {
		return s.stopStepping(t, ev)
	}

	frames, err := s.Stacktrace(t, 16)
	if err != nil || len(frames) == 0 {
		return s.stopStepping(t, ev)
	}
	cur, caller, callerPC := stackFrames(frames)

	if c.StepStackFrameID.Valid() && cur != c.StepStackFrameID && caller.Valid() && caller == c.StepStackFrameID {
		fn := pspace.pcToFunc(pc)
		_, hasLine := pspace.pcToLine(pc)
		noDebug := fn == nil || fn.NoDebug || !hasLine
		if c.StepOverCalls == StepOverAll || (c.StepOverCalls == StepOverUndebuggable && noDebug && !s.opts.StepStopIfNoDebug) {
			if s.direction == Reverse {
				if fn == nil || pc == fn.Entry {
					return nil, s.keepGoing(t)
				}
				if err := s.insertStepResumeBreakpoint(t, fn.Entry, FrameID{}); err != nil {
					return nil, err
				}
				return nil, s.keepGoing(t)
			}
			if err := s.insertStepResumeBreakpoint(t, callerPC, c.StepStackFrameID); err != nil {
				return nil, err
			}
			return nil, s.keepGoing(t)
		}
		return s.stopStepping(t, ev)
	}
	if stepi {
		return s.stopStepping(t, ev)
	}

	if frames[0].Kind == InlineFrame && frames[0].ID != c.StepFrameID && inlinedFrom(frames, c.StepFrameID) {
		if c.StepOverCalls == StepOverAll {
			return nil, s.keepGoing(t)
		}
		return s.stopStepping(t, ev)
	}

	if c.StepRangeStart == c.StepRangeEnd && frames[0].ID == c.StepFrameID {
		// Finishing an inlined call: back in the frame that made it.
		return s.stopStepping(t, ev)
	}

	li, ok := pspace.pcToLine(pc)
	if !ok {
		return s.stopStepping(t, ev)
	}

	if t.inlineSkipped > 0 && cur == c.StepStackFrameID {
		blk, _ := s.nextSkippedBlock(t, pc)
		sameLine := blk.CallLine == c.StepLine.Line && blk.CallFile == c.StepLine.File
		if c.StepOverCalls != StepOverAll {
			// Enter the call only if it is made by the line being stepped,
			// otherwise stop at the call site first.
			if sameLine {
				t.inlineSkipped--
			}
			return s.stopStepping(t, ev)
		}
		if sameLine {
			return nil, s.keepGoing(t)
		}
		return s.stopStepping(t, ev)
	}

	if pc == li.PC && (li.Line != c.StepLine.Line || li.File != c.StepLine.File) {
		return s.stopStepping(t, ev)
	}

	// In the middle of a line, or back at the start of the same line:
	// step the rest of it.
	c.StepRangeStart, c.StepRangeEnd = li.PC, li.End
	c.StepLine = li
	c.StepFrameID = frames[0].ID
	c.StepStackFrameID = cur
	if s.direction == Reverse && pc == li.PC {
		return s.stopStepping(t, ev)
	}
	return nil, s.keepGoing(t)
}

// stackFrames returns the id of the innermost real frame in frames, the
// id of its caller and the pc the caller resumes at.
func stackFrames(frames []Frame) (cur, caller FrameID, callerPC uint64) {
	i := 0
	for i < len(frames) && frames[i].Kind == InlineFrame {
		i++
	}
	if i >= len(frames) {
		return FrameID{}, FrameID{}, 0
	}
	cur = frames[i].ID
	i++
	if i < len(frames) {
		callerPC = frames[i].PC
		caller = stackFrameIDOf(frames, i)
	}
	return cur, caller, callerPC
}

// inlinedFrom returns true if frames[0] is an inlined call, directly or
// not, from the frame with the given id.
func inlinedFrom(frames []Frame, id FrameID) bool {
	for i := 1; i < len(frames); i++ {
		if frames[i].ID == id {
			return true
		}
		if frames[i].Kind != InlineFrame {
			return false
		}
	}
	return false
}

// finishStop completes a stop: other threads are stopped in all-stop
// mode, execution commands are cleaned up and observers notified.
func (s *Session) finishStop(ev *StopEvent, cmd *Thread) (*StopReport, error) {
	t := ev.Thread
	if !s.opts.NonStop {
		if err := s.stopAllThreads(); err != nil {
			return nil, err
		}
	}
	notify := true
	if t != nil && t.fsm != nil {
		notify = t.fsm.ShouldNotifyStop(s, ev)
	}
	report := s.buildStopReport(ev)
	s.cleanUpJustStoppedThreads(ev)

	switch {
	case ev.Status.processGone():
		if !s.opts.NonStop || cmd == nil || cmd.Inf == ev.Inferior {
			s.SwitchToInferiorNoThread(ev.Inferior)
		}
	case t != nil && t.State != ThreadExited && (!s.opts.NonStop || cmd == nil || cmd == t):
		s.SwitchToThread(t)
	}

	if notify {
		s.normalStop(ev, report)
	} else if t != nil && t.State != ThreadExited && s.opts.NonStop {
		s.FinishThreadState(t.Inf.Target, t.PTID)
	}
	return report, nil
}

func (s *Session) buildStopReport(ev *StopEvent) *StopReport {
	t := ev.Thread
	r := &StopReport{Thread: t, Inferior: ev.Inferior, PC: ev.PC}
	switch {
	case ev.Status.Kind == WaitExited:
		r.ExitCode = ev.Status.ExitCode
		if r.ExitCode == 0 {
			r.Reason = ReasonExitedNormally
		} else {
			r.Reason = ReasonExited
		}
		r.Thread = nil
		return r
	case ev.Status.Kind == WaitSignalled:
		r.Reason = ReasonExitedSignalled
		r.Signal = ev.Status.Sig
		r.Thread = nil
		return r
	case ev.Status.Kind == WaitThreadExited:
		r.Reason = ReasonThreadExited
		r.ExitCode = ev.Status.ExitCode
		return r
	case ev.Status.Kind == WaitNoHistory:
		r.Reason = ReasonNoHistory
	case ev.userBreakpoint() != nil:
		r.Reason = ReasonBreakpointHit
		r.Breakpoint = ev.userBreakpoint()
	case ev.StoppedByRandomSignal || ev.Interrupted:
		r.Reason = ReasonSignalReceived
		r.Signal = t.suspend.stopSignal
	case t.fsm != nil && t.fsm.Finished():
		r.Reason = t.fsm.AsyncReplyReason()
		r.ReturnValue = t.fsm.ReturnValue()
		r.Function = t.fsm.Function()
	case ev.StopStep:
		r.Reason = ReasonEndSteppingRange
	default:
		r.Reason = ReasonSignalReceived
		r.Signal = t.suspend.stopSignal
	}
	if fr, err := s.FrameAt(t, 0); err == nil {
		r.Frame = fr
		r.HasFrame = true
	}
	return r
}

// cleanUpJustStoppedThreads cleans up the execution commands of the
// threads that just stopped and deletes their step-resume breakpoints.
// Function call commands stay attached: the call engine reads their
// result and disposes of them.
func (s *Session) cleanUpJustStoppedThreads(ev *StopEvent) {
	var threads []*Thread
	if ev.Thread != nil && ev.Thread.State != ThreadExited {
		threads = append(threads, ev.Thread)
	}
	if !s.opts.NonStop {
		for _, th := range s.AllNonExitedThreads(nil, MinusOnePTID) {
			if th != ev.Thread {
				threads = append(threads, th)
			}
		}
	}
	for _, th := range threads {
		s.deleteStepResumeBreakpoint(th)
		fsm := th.fsm
		if fsm == nil {
			continue
		}
		fsm.CleanUp(s, th)
		if fsm.Kind != CallCommand {
			th.ReleaseFSM()
		}
	}
}

// normalStop makes a stop visible: user visible thread states are
// updated, observers notified and continuations run.
func (s *Session) normalStop(ev *StopEvent, report *StopReport) {
	t := ev.Thread
	if s.opts.NonStop {
		if t != nil && t.State != ThreadExited {
			s.FinishThreadState(t.Inf.Target, t.PTID)
		}
	} else {
		s.FinishThreadState(nil, MinusOnePTID)
	}
	if ev.StopStackDummy == StopStackDummyHit && t != nil && t.State != ThreadExited {
		// A call abandoned earlier returned: pop its dummy frame.
		if regs, err := t.Inf.Target.ReadRegisters(t.PTID); err == nil {
			if d := s.dummyFrameAt(t, regs); d != nil {
				if err := s.popDummyFrame(d.id, t); err != nil && logflags.Infrun() {
					logflags.InfrunLogger().Errorf("could not pop dummy frame: %v", err)
				}
				if pc, err := s.threadPC(t); err == nil {
					report.PC = pc
				}
				if fr, err := s.FrameAt(t, 0); err == nil {
					report.Frame = fr
				}
			}
		}
	}
	s.lastStop = report
	s.Observers.NormalStop.Notify(report)
	if ev.Inferior != nil {
		ev.Inferior.DoAllContinuations()
	}
}

// stopAllThreads stops every executing thread and waits for them. Events
// other than the requested stops are left pending on their thread.
func (s *Session) stopAllThreads() error {
	for {
		any := false
		for _, t := range s.AllNonExitedThreads(nil, MinusOnePTID) {
			if !t.executing {
				continue
			}
			any = true
			if !t.stopRequested {
				if err := t.Inf.Target.Stop(t.PTID); err != nil {
					return err
				}
				t.stopRequested = true
			}
		}
		if !any {
			return nil
		}
		b, ptid, ws, err := s.waitBackends()
		if err != nil {
			return err
		}
		if ws.Kind == WaitNoResumed {
			return nil
		}
		if err := s.handleStopAllEvent(b, ptid, ws); err != nil {
			return err
		}
	}
}

func (s *Session) handleStopAllEvent(b Backend, ptid PTID, ws WaitStatus) error {
	inf := s.FindInferiorPid(ptid.Pid)
	if inf == nil || inf.Target != b {
		return fmt.Errorf("event for unknown process %d: %v", ptid.Pid, ws)
	}
	t := s.FindThreadInInferior(inf, ptid)
	if ws.processGone() {
		threads := inf.NonExitedThreads()
		for _, th := range threads {
			th.setExecuting(false)
			th.setResumed(false)
			th.stopRequested = false
		}
		if t == nil && len(threads) > 0 {
			t = threads[0]
		}
		if t != nil && !t.suspend.waitStatusPending {
			t.SetPendingWaitStatus(ws)
		}
		return nil
	}
	if t == nil {
		t = s.AddThread(inf, ptid)
		t.State = ThreadRunning
	}
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("stop all: %v %v", t, ws)
	}
	switch ws.Kind {
	case WaitThreadCreated:
		nt := s.FindThreadInInferior(inf, ws.NewThread)
		if nt == nil {
			nt = s.AddThread(inf, ws.NewThread)
		}
		nt.State = t.State
		nt.setExecuting(true)
		nt.setResumed(true)
		t.setExecuting(false)
		t.setResumed(false)
		t.stopRequested = false
	case WaitThreadExited:
		t.setExecuting(false)
		t.setResumed(false)
		s.deleteThread(t, ws.ExitCode, true, !s.opts.PrintThreadEvents)
	case WaitStopped, WaitNoHistory:
		t.setExecuting(false)
		t.setResumed(false)
		pc, err := s.threadPC(t)
		if err != nil {
			return err
		}
		t.setStopPC(pc)
		requested := t.stopRequested
		t.stopRequested = false
		if t.steppingOver != stepOverNone {
			if err := s.finishStepOver(t); err != nil {
				return err
			}
			if pc, err := s.threadPC(t); err == nil {
				t.setStopPC(pc)
			}
			if ws.Kind == WaitStopped && ws.Sig == SIGTRAP && ws.SingleStep {
				return nil
			}
		}
		if requested && ws.Kind == WaitStopped && ws.Sig == SIGSTOP {
			t.suspend.stopSignal = SignalNone
			return nil
		}
		t.SetPendingWaitStatus(ws)
	}
	return nil
}
