package proc

import "fmt"

// FSMKind is the kind of execution command an FSM drives.
type FSMKind uint8

const (
	StepCommand FSMKind = iota
	UntilCommand
	FinishCommand
	CallCommand
)

func (k FSMKind) String() string {
	switch k {
	case StepCommand:
		return "step"
	case UntilCommand:
		return "until"
	case FinishCommand:
		return "finish"
	case CallCommand:
		return "call"
	}
	return fmt.Sprintf("FSMKind(%d)", int(k))
}

// FSM is the state machine of an execution command. It is attached to the
// thread performing the command and consulted every time that thread
// stops: ShouldStop either re-primes the thread and returns false, or
// returns true and the stop is reported.
// Exactly one of step, until, finish and call is set, according to Kind.
type FSM struct {
	Kind FSMKind

	thread    *Thread
	finished  bool
	cleanedUp bool
	reverse   bool
	// err is set when the command can't go on after a stop.
	err error

	step   *stepState
	until  *untilState
	finish *finishState
	call   *callState
}

// Thread returns the thread the command runs on.
func (f *FSM) Thread() *Thread { return f.thread }

// Finished returns true once the command completed successfully.
func (f *FSM) Finished() bool { return f.finished }

func (f *FSM) setFinished() { f.finished = true }

// ShouldStop is called when the engine decided to stop thread t because of
// ev. It returns false if the command continues, in which case it already
// prepared t to be resumed.
func (f *FSM) ShouldStop(s *Session, t *Thread, ev *StopEvent) bool {
	switch f.Kind {
	case StepCommand:
		return s.stepShouldStop(f, t, ev)
	case UntilCommand:
		return s.untilShouldStop(f, t, ev)
	case FinishCommand:
		return s.finishShouldStop(f, t, ev)
	case CallCommand:
		return s.callShouldStop(f, t, ev)
	}
	panic(fmt.Sprintf("internal error: unknown FSM kind %v", f.Kind))
}

// ShouldNotifyStop returns false if the stop must not be reported through
// the normal stop observers.
func (f *FSM) ShouldNotifyStop(s *Session, ev *StopEvent) bool {
	if f.Kind == CallCommand {
		return s.callShouldNotifyStop(f, ev)
	}
	return true
}

// CleanUp releases what the command owns. Calling it again does nothing.
func (f *FSM) CleanUp(s *Session, t *Thread) {
	if f.cleanedUp {
		return
	}
	f.cleanedUp = true
	switch f.Kind {
	case UntilCommand:
		for _, bp := range f.until.breakpoints {
			s.Breakpoints.Delete(bp)
		}
		f.until.breakpoints = nil
	case FinishCommand:
		s.Breakpoints.Delete(f.finish.bp)
		f.finish.bp = nil
	}
}

// AsyncReplyReason returns the reason reported for a finished command.
func (f *FSM) AsyncReplyReason() AsyncReason {
	if !f.finished {
		panic(fmt.Sprintf("internal error: reply reason of unfinished %v command", f.Kind))
	}
	switch f.Kind {
	case StepCommand:
		return ReasonEndSteppingRange
	case UntilCommand:
		if f.until.location {
			return ReasonLocationReached
		}
		return ReasonEndSteppingRange
	case FinishCommand:
		if f.reverse {
			return ReasonEndSteppingRange
		}
		return ReasonFunctionFinished
	}
	return ReasonNone
}

// ReturnValue returns the value returned by the function a finished
// Finish or Call command returned from.
func (f *FSM) ReturnValue() *Value {
	switch f.Kind {
	case FinishCommand:
		return f.finish.returnValue
	case CallCommand:
		return f.call.returnValue
	}
	return nil
}

// Function returns the function a Finish command returns from.
func (f *FSM) Function() *Function {
	if f.Kind == FinishCommand {
		return f.finish.function
	}
	return nil
}
