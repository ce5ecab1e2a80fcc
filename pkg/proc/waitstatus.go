package proc

import "fmt"

// WaitKind is the kind of event a backend reports from Wait.
type WaitKind uint8

const (
	// WaitStopped: the thread stopped, Sig says why.
	WaitStopped WaitKind = iota
	// WaitExited: the whole process exited with ExitCode.
	WaitExited
	// WaitSignalled: the whole process was killed by Sig.
	WaitSignalled
	// WaitThreadCreated: the reporting thread spawned NewThread, both keep
	// running.
	WaitThreadCreated
	// WaitThreadExited: the reporting thread exited, the process lives on.
	WaitThreadExited
	// WaitNoResumed: nothing is running, there is nothing to wait for.
	WaitNoResumed
	// WaitNoHistory: reverse execution reached the start of the recorded
	// history.
	WaitNoHistory
)

// WaitStatus describes one event reported by a backend.
type WaitStatus struct {
	Kind     WaitKind
	Sig      Signal
	ExitCode int
	// SwBreakpoint is set when a SIGTRAP stop was caused by executing a
	// software breakpoint instruction. The reported PC is the address of
	// the breakpoint.
	SwBreakpoint bool
	// SingleStep is set when a SIGTRAP stop completed a single step.
	SingleStep bool
	NewThread  PTID
}

func (ws WaitStatus) String() string {
	switch ws.Kind {
	case WaitStopped:
		switch {
		case ws.SwBreakpoint:
			return fmt.Sprintf("stopped, %v (breakpoint)", ws.Sig)
		case ws.SingleStep:
			return fmt.Sprintf("stopped, %v (single step)", ws.Sig)
		}
		return fmt.Sprintf("stopped, %v", ws.Sig)
	case WaitExited:
		return fmt.Sprintf("exited, status %d", ws.ExitCode)
	case WaitSignalled:
		return fmt.Sprintf("signalled, %v", ws.Sig)
	case WaitThreadCreated:
		return fmt.Sprintf("thread created, %v", ws.NewThread)
	case WaitThreadExited:
		return fmt.Sprintf("thread exited, status %d", ws.ExitCode)
	case WaitNoResumed:
		return "no-resumed"
	case WaitNoHistory:
		return "no-history"
	}
	return fmt.Sprintf("unknown wait kind %d", ws.Kind)
}

// processGone returns true if the event means the whole process is gone.
func (ws WaitStatus) processGone() bool {
	return ws.Kind == WaitExited || ws.Kind == WaitSignalled
}
