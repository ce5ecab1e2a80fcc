package proc

import "fmt"

// AsyncReason is why an execution command stopped, as reported to the
// user interface.
type AsyncReason uint8

const (
	ReasonNone AsyncReason = iota
	ReasonBreakpointHit
	ReasonLocationReached
	ReasonFunctionFinished
	ReasonEndSteppingRange
	ReasonExitedSignalled
	ReasonExited
	ReasonExitedNormally
	ReasonSignalReceived
	ReasonNoHistory
	ReasonThreadExited
)

var asyncReasonNames = [...]string{
	ReasonNone:             "none",
	ReasonBreakpointHit:    "breakpoint-hit",
	ReasonLocationReached:  "location-reached",
	ReasonFunctionFinished: "function-finished",
	ReasonEndSteppingRange: "end-stepping-range",
	ReasonExitedSignalled:  "exited-signalled",
	ReasonExited:           "exited",
	ReasonExitedNormally:   "exited-normally",
	ReasonSignalReceived:   "signal-received",
	ReasonNoHistory:        "no-history",
	ReasonThreadExited:     "thread-exited",
}

func (r AsyncReason) String() string {
	if int(r) < len(asyncReasonNames) {
		return asyncReasonNames[r]
	}
	return fmt.Sprintf("AsyncReason(%d)", int(r))
}

// StopStackDummy says whether a stop happened at the end of a function
// call made by the debugger.
type StopStackDummy uint8

const (
	StopNone StopStackDummy = iota
	// StopStackDummyHit: the called function returned to its dummy frame.
	StopStackDummyHit
	// StopStdTerminate: the called function reached std::terminate.
	StopStdTerminate
)

// StopEvent is a stop the engine decided to report, before execution
// commands had their say.
type StopEvent struct {
	Thread   *Thread
	Inferior *Inferior
	Status   WaitStatus
	PC       uint64

	StopStep              bool
	StopStackDummy        StopStackDummy
	StoppedByRandomSignal bool
	// Interrupted is set for stops requested by Interrupt.
	Interrupted bool
	Bpstat      []*Breakpoint
}

// userBreakpoint returns the first user breakpoint in the stop's bpstat.
func (ev *StopEvent) userBreakpoint() *Breakpoint {
	for _, bp := range ev.Bpstat {
		if bp.Kind == UserBreakpoint {
			return bp
		}
	}
	return nil
}

func (ev *StopEvent) hit(bp *Breakpoint) bool {
	if bp == nil {
		return false
	}
	for _, b := range ev.Bpstat {
		if b == bp {
			return true
		}
	}
	return false
}

// StopReport describes a stop to the user.
type StopReport struct {
	Reason   AsyncReason
	Thread   *Thread
	Inferior *Inferior
	PC       uint64
	Frame    Frame
	HasFrame bool
	// Signal is the signal for ReasonSignalReceived and
	// ReasonExitedSignalled.
	Signal     Signal
	ExitCode   int
	Breakpoint *Breakpoint
	// ReturnValue and Function are set when Finish completes.
	ReturnValue *Value
	Function    *Function
}

func (r *StopReport) String() string {
	switch r.Reason {
	case ReasonExited:
		return fmt.Sprintf("[%v exited with code %d]", r.Inferior, r.ExitCode)
	case ReasonExitedNormally:
		return fmt.Sprintf("[%v exited normally]", r.Inferior)
	case ReasonExitedSignalled:
		return fmt.Sprintf("program terminated with signal %v, %s", r.Signal, r.Signal.Description())
	case ReasonSignalReceived:
		if r.Signal == SignalNone {
			return fmt.Sprintf("%v stopped at %#x", r.Thread, r.PC)
		}
		return fmt.Sprintf("%v received signal %v, %s at %#x", r.Thread, r.Signal, r.Signal.Description(), r.PC)
	case ReasonBreakpointHit:
		return fmt.Sprintf("%v hit %v", r.Thread, r.Breakpoint)
	case ReasonThreadExited:
		return fmt.Sprintf("%v exited", r.Thread)
	}
	return fmt.Sprintf("%v stopped at %#x: %v", r.Thread, r.PC, r.Reason)
}
