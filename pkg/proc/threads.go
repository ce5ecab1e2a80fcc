package proc

import "fmt"

// ThreadState is the state of a thread as the user sees it. A thread can
// be ThreadRunning while actually stopped internally, e.g. while the
// engine is stepping it over a breakpoint.
type ThreadState uint8

const (
	ThreadStopped ThreadState = iota
	ThreadRunning
	ThreadExited
)

func (st ThreadState) String() string {
	switch st {
	case ThreadStopped:
		return "stopped"
	case ThreadRunning:
		return "running"
	case ThreadExited:
		return "exited"
	}
	return fmt.Sprintf("ThreadState(%d)", int(st))
}

// StepOverCalls says what range stepping does when it enters a function.
type StepOverCalls uint8

const (
	// StepOverUndebuggable steps over functions without line information.
	StepOverUndebuggable StepOverCalls = iota
	// StepOverAll steps over every call.
	StepOverAll
	// StepOverNone stops in the called function.
	StepOverNone
)

// TargetStopReason is what the backend says stopped a thread.
type TargetStopReason uint8

const (
	TargetStopNone TargetStopReason = iota
	TargetStopSwBreakpoint
	TargetStopSingleStep
	TargetStopSignal
)

// ThreadControl is the state of the execution command a thread is
// performing.
type ThreadControl struct {
	// Instructions in [StepRangeStart, StepRangeEnd) are stepped without
	// stopping. A range of [1, 1) steps a single instruction.
	StepRangeStart, StepRangeEnd uint64
	// StepFrameID is the frame that was selected when stepping started,
	// StepStackFrameID the innermost real (not inlined) frame at that
	// point.
	StepFrameID      FrameID
	StepStackFrameID FrameID
	StepLine         LineInfo
	StepOverCalls    StepOverCalls
	// StopAtRangeExit stops as soon as the thread leaves the stepping range.
	StopAtRangeExit bool

	StopStep        bool
	StopBpstat      []*Breakpoint
	ProceedToFinish bool
	InInfcall       bool

	StepResumeBreakpoint *Breakpoint
}

// threadSuspendState is the part of the state of a stopped thread that a
// function call clobbers and must restore.
type threadSuspendState struct {
	stopSignal        Signal
	stopReason        TargetStopReason
	stopPC            uint64
	stopPCValid       bool
	waitStatus        WaitStatus
	waitStatusPending bool
}

type stepOverKind uint8

const (
	stepOverNone stepOverKind = iota
	stepOverDisplaced
	stepOverInline
)

// Thread is a thread of an inferior.
type Thread struct {
	PTID      PTID
	GlobalNum int
	PerInfNum int
	Inf       *Inferior
	Name      string
	State     ThreadState
	// Priv is backend private data.
	Priv interface{}

	Control ThreadControl

	suspend threadSuspendState

	executing bool
	resumed   bool

	stopRequested bool
	needStepOver  bool
	steppingOver  stepOverKind
	// stepOverAddr is the breakpoint address an in-line step-over lifted.
	stepOverAddr uint64

	// inlineSkipped is the number of inlined frames starting at the
	// current pc the user has not stepped into yet.
	inlineSkipped int

	fsm              *FSM
	refcount         int
	stackTemporaries []*Value
	infcallDepth     int
}

func (t *Thread) String() string {
	if t.Inf == nil {
		return fmt.Sprintf("Thread %d (%v)", t.GlobalNum, t.PTID)
	}
	return fmt.Sprintf("Thread %d.%d (%v)", t.Inf.Num, t.PerInfNum, t.PTID)
}

// Executing returns true if the backend is running the thread.
func (t *Thread) Executing() bool { return t.executing }

// Resumed returns true if the engine resumed the thread and expects an
// event from it, either from the backend or from its pending wait status.
func (t *Thread) Resumed() bool { return t.resumed }

// FSM returns the execution command the thread is performing, if any.
func (t *Thread) FSM() *FSM { return t.fsm }

// SetFSM attaches fsm to the thread. A thread performs at most one
// execution command at a time.
func (t *Thread) SetFSM(fsm *FSM) {
	if t.fsm != nil {
		panic(fmt.Sprintf("internal error: %v already has an execution command", t))
	}
	t.fsm = fsm
	fsm.thread = t
}

// ReleaseFSM detaches the thread's execution command and returns it.
func (t *Thread) ReleaseFSM() *FSM {
	fsm := t.fsm
	t.fsm = nil
	return fsm
}

// StopSignal returns the signal the thread last stopped with.
func (t *Thread) StopSignal() Signal { return t.suspend.stopSignal }

func (t *Thread) SetStopSignal(sig Signal) { t.suspend.stopSignal = sig }

// StopReason returns what the backend said stopped the thread.
func (t *Thread) StopReason() TargetStopReason { return t.suspend.stopReason }

// StopPC returns the pc of the thread when it last stopped.
func (t *Thread) StopPC() (uint64, bool) {
	return t.suspend.stopPC, t.suspend.stopPCValid
}

func (t *Thread) setStopPC(pc uint64) {
	t.suspend.stopPC = pc
	t.suspend.stopPCValid = true
}

// HasPendingWaitStatus returns true if the thread has an event that was
// received but not processed yet.
func (t *Thread) HasPendingWaitStatus() bool { return t.suspend.waitStatusPending }

// PendingWaitStatus returns the pending event of the thread.
func (t *Thread) PendingWaitStatus() WaitStatus {
	if !t.suspend.waitStatusPending {
		panic(fmt.Sprintf("internal error: %v has no pending wait status", t))
	}
	return t.suspend.waitStatus
}

// SetPendingWaitStatus records an event of the thread to be processed the
// next time the thread is resumed.
func (t *Thread) SetPendingWaitStatus(ws WaitStatus) {
	if t.suspend.waitStatusPending {
		panic(fmt.Sprintf("internal error: %v already has a pending wait status", t))
	}
	t.suspend.waitStatus = ws
	t.suspend.waitStatusPending = true
	if t.resumed {
		t.targetState().addResumedWithPending(t)
	}
}

// ClearPendingWaitStatus discards the pending event of the thread.
func (t *Thread) ClearPendingWaitStatus() {
	if !t.suspend.waitStatusPending {
		panic(fmt.Sprintf("internal error: %v has no pending wait status", t))
	}
	t.targetState().removeResumedWithPending(t)
	t.suspend.waitStatus = WaitStatus{}
	t.suspend.waitStatusPending = false
}

// IncRef keeps an exited thread from being deleted until DecRef.
func (t *Thread) IncRef() { t.refcount++ }

// DecRef releases a reference taken with IncRef and deletes the thread if
// it exited in the meantime.
func (t *Thread) DecRef() {
	if t.refcount <= 0 {
		panic(fmt.Sprintf("internal error: %v reference count underflow", t))
	}
	t.refcount--
	if t.State == ThreadExited && t.Inf != nil && t.Inf.session != nil {
		t.Inf.session.maybeDeleteThread(t)
	}
}

func (t *Thread) setExecuting(executing bool) {
	t.executing = executing
	if executing {
		t.suspend.stopPCValid = false
	}
}

func (t *Thread) setResumed(resumed bool) {
	if t.resumed == resumed {
		return
	}
	t.resumed = resumed
	ts := t.targetState()
	if !resumed {
		ts.removeResumedWithPending(t)
	} else if t.suspend.waitStatusPending {
		ts.addResumedWithPending(t)
	}
}

func (t *Thread) targetState() *targetState {
	return t.Inf.session.targetStateFor(t.Inf.Target)
}

func (t *Thread) pushStackTemporary(v *Value) {
	t.stackTemporaries = append(t.stackTemporaries, v)
}

// lowestStackTemporary returns the lowest address used by values the
// debugger placed on the thread's stack.
func (t *Thread) lowestStackTemporary() (uint64, bool) {
	if len(t.stackTemporaries) == 0 {
		return 0, false
	}
	low := t.stackTemporaries[0].Addr
	for _, v := range t.stackTemporaries[1:] {
		if v.Addr < low {
			low = v.Addr
		}
	}
	return low, true
}
