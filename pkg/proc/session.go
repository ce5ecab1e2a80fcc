package proc

import (
	"fmt"
	"sort"

	"github.com/go-delve/execctl/pkg/logflags"
)

// Direction is the execution direction.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Options control the behavior of execution commands.
type Options struct {
	// MayCallFunctions allows CallFunction.
	MayCallFunctions bool
	// UnwindOnSignal pops the dummy frame when a signal arrives during a
	// function call.
	UnwindOnSignal bool
	// UnwindOnTerminatingException stops function calls that reach
	// std::terminate and pops their dummy frame.
	UnwindOnTerminatingException bool
	// CoerceFloatToDouble promotes float arguments of unprototyped
	// functions to double.
	CoerceFloatToDouble bool
	// StepStopIfNoDebug makes step stop in functions without line
	// information.
	StepStopIfNoDebug bool
	// NonStop only stops the thread that reported an event.
	NonStop bool
	// DisplacedStepping steps over breakpoints out of line when possible.
	DisplacedStepping bool
	// PrintThreadEvents logs thread creation and exit.
	PrintThreadEvents bool
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		MayCallFunctions:             true,
		UnwindOnTerminatingException: true,
		CoerceFloatToDouble:          true,
		DisplacedStepping:            true,
		PrintThreadEvents:            true,
	}
}

// targetState is the per backend state of the session.
type targetState struct {
	b Backend
	// resumedWithPending lists the threads that are resumed and have a
	// pending wait status, in the order their status was recorded.
	resumedWithPending []*Thread
}

func (ts *targetState) addResumedWithPending(t *Thread) {
	for _, th := range ts.resumedWithPending {
		if th == t {
			return
		}
	}
	ts.resumedWithPending = append(ts.resumedWithPending, t)
}

func (ts *targetState) removeResumedWithPending(t *Thread) {
	for i, th := range ts.resumedWithPending {
		if th == t {
			ts.resumedWithPending = append(ts.resumedWithPending[:i], ts.resumedWithPending[i+1:]...)
			return
		}
	}
}

type threadKey struct {
	inf  int
	ptid PTID
}

// Session is the debugging session: every inferior and thread, the
// current context and the state of in-flight execution commands.
// A Session must only be used from one goroutine.
type Session struct {
	opts      Options
	Observers Observers

	inferiors        []*Inferior
	nextInferiorNum  int
	nextSpaceNum     int
	highestThreadNum int
	threadMap        map[threadKey]*Thread

	current currentContext

	stepOver       *StepOverQueue
	inlineStepOver *Thread
	targets        []*targetState
	nextTarget     int

	Breakpoints *BreakpointTable
	dummyFrames []*dummyFrame

	lang       Language
	direction  Direction
	traceFrame int

	// State of the last stop, saved and restored around function calls.
	stopStackDummy        StopStackDummy
	stoppedByRandomSignal bool

	lastStop *StopReport
}

// NewSession creates an empty session.
func NewSession(opts Options) *Session {
	s := &Session{
		opts:       opts,
		threadMap:  make(map[threadKey]*Thread),
		stepOver:   newStepOverQueue(),
		lang:       CLanguage,
		traceFrame: -1,
	}
	s.Breakpoints = newBreakpointTable(s)
	return s
}

// Options returns the options of the session.
func (s *Session) Options() Options { return s.opts }

// SetOptions replaces the options of the session.
func (s *Session) SetOptions(opts Options) { s.opts = opts }

// Language returns the language used to marshal call arguments.
func (s *Session) Language() Language { return s.lang }

func (s *Session) SetLanguage(lang Language) {
	if lang == nil {
		lang = CLanguage
	}
	s.lang = lang
}

// Direction returns the current execution direction.
func (s *Session) Direction() Direction { return s.direction }

// SetDirection changes the execution direction of the current inferior.
func (s *Session) SetDirection(d Direction) error {
	if d == s.direction {
		return nil
	}
	inf := s.CurrentInferior()
	if inf == nil || inf.Target == nil || inf.Pid == 0 {
		return ErrNoProcess
	}
	if d == Reverse && !inf.Target.CanReverse() {
		return ErrReverseUnsupported
	}
	if err := inf.Target.SetReverse(d == Reverse); err != nil {
		return err
	}
	s.direction = d
	return nil
}

// SelectTraceFrame selects trace frame n, -1 deselects.
func (s *Session) SelectTraceFrame(n int) { s.traceFrame = n }

// LastStop returns the report of the last user visible stop.
func (s *Session) LastStop() *StopReport { return s.lastStop }

// StepOverQueue returns the global step-over queue.
func (s *Session) StepOverQueue() *StepOverQueue { return s.stepOver }

func (s *Session) targetStateFor(b Backend) *targetState {
	for _, ts := range s.targets {
		if ts.b == b {
			return ts
		}
	}
	ts := &targetState{b: b}
	s.targets = append(s.targets, ts)
	return ts
}

// Start makes inf the debugger's view of process pid running on b. The
// process must be stopped. Every thread the backend knows about is added
// and the first one is selected.
func (s *Session) Start(inf *Inferior, b Backend, pid int) error {
	if inf.Pid != 0 {
		return fmt.Errorf("inferior %d is already running process %d", inf.Num, inf.Pid)
	}
	inf.Target = b
	s.targetStateFor(b)
	s.InferiorAppeared(inf, pid)
	if err := s.Breakpoints.reinsert(inf); err != nil {
		return err
	}
	if err := s.UpdateThreadList(); err != nil {
		return err
	}
	threads := inf.NonExitedThreads()
	if len(threads) == 0 {
		return fmt.Errorf("process %d has no threads", pid)
	}
	sort.SliceStable(threads, func(i, j int) bool { return threads[i].PerInfNum < threads[j].PerInfNum })
	s.SwitchToThread(threads[0])
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("started inferior %d, process %d on %s with %d threads", inf.Num, pid, b.Shortname(), len(threads))
	}
	return nil
}
