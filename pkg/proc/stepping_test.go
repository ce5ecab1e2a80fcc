package proc_test

import (
	"testing"

	"github.com/go-delve/execctl/pkg/proc"
	"github.com/go-delve/execctl/pkg/proc/sim"
	protest "github.com/go-delve/execctl/pkg/proc/test"
)

type contFunc int

const (
	contContinue contFunc = iota
	contNext
	contStep
	contStepInstruction
	contFinish
)

type seqTest struct {
	cf   contFunc
	line int
	fn   string
}

func testseq(t *testing.T, program, fn string, line int, testcases []seqTest) {
	withTestSession(program, t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFileBreakpoint(s, t, fixture, fn, line)
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonBreakpointHit, "Continue()")
		_, err = s.Breakpoints.ClearBreakpoint(s.CurrentInferior(), bp.Addr)
		assertNoError(err, t, "ClearBreakpoint()")

		for i, tc := range testcases {
			switch tc.cf {
			case contContinue:
				r, err = s.Continue()
			case contNext:
				r, err = s.Next(1)
			case contStep:
				r, err = s.Step(1)
			case contStepInstruction:
				r, err = s.StepInstruction(1)
			case contFinish:
				r, err = s.Finish()
			}
			assertNoError(err, t, "execution command")
			fr := currentFrame(s, t)
			if fr.Line.Line != tc.line || fr.Fn == nil || fr.Fn.Name != tc.fn {
				t.Fatalf("step %d: expected %s:%d got %v:%d (%v)", i, tc.fn, tc.line, fr.Fn, fr.Line.Line, r)
			}
		}
	})
}

func TestNextGeneral(t *testing.T) {
	testseq(t, "simple", "main", 9, []seqTest{
		{contNext, 10, "main"},
		{contNext, 11, "main"},
		{contNext, 12, "main"},
	})
}

func TestStepIntoFunction(t *testing.T) {
	testseq(t, "simple", "main", 9, []seqTest{
		{contStep, 3, "add"},
		{contStep, 4, "add"},
		{contStep, 5, "add"},
		// Returning in the middle of line 9 finishes the line.
		{contStep, 10, "main"},
		{contStep, 3, "add"},
	})
}

func TestNextLoop(t *testing.T) {
	testseq(t, "loop", "sum", 4, []seqTest{
		{contNext, 5, "sum"},
		{contNext, 6, "sum"},
		{contNext, 4, "sum"},
		{contNext, 5, "sum"},
	})
}

func TestStepCount(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 9)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		r, err := s.Step(2)
		assertNoError(err, t, "Step(2)")
		assertReason(r, t, proc.ReasonEndSteppingRange, "Step(2)")
		if fr := assertLineNumber(s, t, 4, "Step(2)"); fr.Fn.Name != "add" {
			t.Errorf("stopped in %s", fr.Fn.Name)
		}
		if th := currentThread(s, t); th.FSM() != nil {
			t.Errorf("execution command still attached: %v", th.FSM().Kind)
		}
	})
}

func TestStepResumesOncePerLine(t *testing.T) {
	fixture := protest.BuildFixture("simple")
	p := sim.Launch(fixture.Program, sim.Config{NoRecord: true})
	defer p.Kill()
	b := &countingBackend{Process: p}
	s := startSession(t, proc.DefaultOptions(), fixture, b)

	setFunctionBreakpoint(s, t, fixture, "straight")
	r, err := s.Continue()
	assertNoError(err, t, "Continue()")
	assertReason(r, t, proc.ReasonBreakpointHit, "Continue()")
	assertLineNumber(s, t, 15, "Continue()")

	b.resumes = 0
	r, err = s.Step(3)
	assertNoError(err, t, "Step(3)")
	assertReason(r, t, proc.ReasonEndSteppingRange, "Step(3)")
	assertLineNumber(s, t, 18, "Step(3)")
	if b.resumes != 3 {
		t.Errorf("thread resumed %d times, expected 3", b.resumes)
	}
	if th := currentThread(s, t); th.FSM() != nil || th.State != proc.ThreadStopped {
		t.Errorf("bad thread state after step: %v %v", th.FSM(), th.State)
	}
}

func TestStepInstruction(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFileBreakpoint(s, t, fixture, "main", 9)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")

		r, err := s.StepInstruction(1)
		assertNoError(err, t, "StepInstruction()")
		assertReason(r, t, proc.ReasonEndSteppingRange, "StepInstruction()")
		if pc := currentPC(s, t); pc <= bp.Addr {
			t.Fatalf("pc %#x did not move past %#x", pc, bp.Addr)
		}
		assertLineNumber(s, t, 9, "StepInstruction()")

		// mov rsi, 2 then call add.
		_, err = s.StepInstruction(1)
		assertNoError(err, t, "StepInstruction()")
		callPC := currentPC(s, t)
		_, err = s.NextInstruction(1)
		assertNoError(err, t, "NextInstruction()")
		fr := assertLineNumber(s, t, 9, "NextInstruction()")
		if fr.Fn.Name != "main" || fr.PC != callPC+5 {
			t.Errorf("NextInstruction() stopped at %#x in %s, expected %#x", fr.PC, fr.Fn.Name, callPC+5)
		}
		if th := currentThread(s, t); th.State != proc.ThreadStopped {
			t.Errorf("thread %v", th.State)
		}
	})
}

func TestFinish(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFunctionBreakpoint(s, t, fixture, "add")
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		n := countBreakpoints(s)

		r, err := s.Finish()
		assertNoError(err, t, "Finish()")
		assertReason(r, t, proc.ReasonFunctionFinished, "Finish()")
		if r.Function == nil || r.Function.Name != "add" {
			t.Errorf("finished function %v", r.Function)
		}
		if r.ReturnValue == nil || r.ReturnValue.Int64() != 3 {
			t.Errorf("return value %v, expected 3", r.ReturnValue)
		}
		assertLineNumber(s, t, 9, "Finish()")
		if countBreakpoints(s) != n {
			t.Errorf("finish breakpoint left behind: %d breakpoints, expected %d", countBreakpoints(s), n)
		}

		r, err = s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonBreakpointHit, "Continue()")
		r, err = s.Finish()
		assertNoError(err, t, "Finish()")
		if r.ReturnValue == nil || r.ReturnValue.Int64() != 6 {
			t.Errorf("return value %v, expected 6", r.ReturnValue)
		}
	})
}

func TestFinishRecursive(t *testing.T) {
	withTestSession("recursion", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFunctionBreakpoint(s, t, fixture, "fact")
		for i := 0; i < 4; i++ {
			_, err := s.Continue()
			assertNoError(err, t, "Continue()")
		}
		_, err := s.Breakpoints.ClearBreakpoint(s.CurrentInferior(), bp.Addr)
		assertNoError(err, t, "ClearBreakpoint()")

		// fact(2) calls fact(1), which returns to the same address in
		// another frame.
		for _, want := range []int64{2, 6, 24} {
			r, err := s.Finish()
			assertNoError(err, t, "Finish()")
			assertReason(r, t, proc.ReasonFunctionFinished, "Finish()")
			if r.ReturnValue == nil || r.ReturnValue.Int64() != want {
				t.Fatalf("return value %v, expected %d", r.ReturnValue, want)
			}
			assertLineNumber(s, t, 5, "Finish()")
		}
		r, err := s.Finish()
		assertNoError(err, t, "Finish()")
		if r.ReturnValue.Int64() != 120 || r.Frame.Fn.Name != "main" {
			t.Errorf("fact(5) returned %v to %v", r.ReturnValue, r.Frame.Fn)
		}
	})
}

func TestFinishSelectedFrame(t *testing.T) {
	withTestSession("recursion", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFunctionBreakpoint(s, t, fixture, "fact")
		for i := 0; i < 3; i++ {
			_, err := s.Continue()
			assertNoError(err, t, "Continue()")
		}
		_, err := s.Breakpoints.ClearBreakpoint(s.CurrentInferior(), bp.Addr)
		assertNoError(err, t, "ClearBreakpoint()")

		// Frames 0, 1 and 2 are fact(3), fact(4) and fact(5).
		assertNoError(s.SelectFrame(1), t, "SelectFrame(1)")
		r, err := s.Finish()
		assertNoError(err, t, "Finish()")
		if r.ReturnValue == nil || r.ReturnValue.Int64() != 24 {
			t.Fatalf("return value %v, expected 24", r.ReturnValue)
		}
		if s.SelectedFrameLevel() != 0 {
			t.Errorf("selected frame %d after the stop", s.SelectedFrameLevel())
		}
	})
}

func TestFinishOutermost(t *testing.T) {
	withTestSession("call", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 12)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")

		var sleeper *proc.Thread
		for _, th := range s.CurrentInferior().NonExitedThreads() {
			if th != currentThread(s, t) {
				sleeper = th
			}
		}
		if sleeper == nil {
			t.Fatal("no sleeper thread")
		}
		s.SwitchToThread(sleeper)
		n := countBreakpoints(s)
		if _, err := s.Finish(); err != proc.ErrOutermostFrame {
			t.Fatalf("Finish() in the outermost frame = %v", err)
		}
		if countBreakpoints(s) != n {
			t.Errorf("Finish() left %d breakpoints, expected %d", countBreakpoints(s), n)
		}
		if sleeper.FSM() != nil || sleeper.State != proc.ThreadStopped || sleeper.Executing() {
			t.Errorf("sleeper resumed by a failed Finish()")
		}
	})
}

func TestFinishFromEntryFunction(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFunctionBreakpoint(s, t, fixture, "add")
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		frames, err := s.Stacktrace(currentThread(s, t), 10)
		assertNoError(err, t, "Stacktrace()")
		assertNoError(s.SelectFrame(len(frames)-1), t, "SelectFrame()")
		if fr, _ := s.SelectedFrame(); fr.Fn == nil || fr.Fn.Name != "_start" {
			t.Fatalf("outermost frame is %v", fr.Fn)
		}
		if _, err := s.Finish(); err != proc.ErrOutermostFrame {
			t.Fatalf("Finish() = %v", err)
		}
	})
}

func TestUntilNext(t *testing.T) {
	withTestSession("loop", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFileBreakpoint(s, t, fixture, "sum", 6)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		_, err = s.Breakpoints.ClearBreakpoint(s.CurrentInferior(), bp.Addr)
		assertNoError(err, t, "ClearBreakpoint()")

		// The jump back to the loop head does not stop until.
		r, err := s.UntilNext()
		assertNoError(err, t, "UntilNext()")
		assertReason(r, t, proc.ReasonEndSteppingRange, "UntilNext()")
		assertLineNumber(s, t, 7, "UntilNext()")
	})
}

func TestUntilLocation(t *testing.T) {
	withTestSession("loop", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 11)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		n := countBreakpoints(s)

		r, err := s.UntilLocation(findFileLocation(fixture, t, "main", 12))
		assertNoError(err, t, "UntilLocation()")
		assertReason(r, t, proc.ReasonLocationReached, "UntilLocation()")
		assertLineNumber(s, t, 12, "UntilLocation()")
		if countBreakpoints(s) != n {
			t.Errorf("until breakpoints left behind")
		}
	})
}

func TestUntilLocationOtherFrame(t *testing.T) {
	withTestSession("loop", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 11)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")

		// sum is not the selected frame: until stops when main returns.
		r, err := s.UntilLocation(findFileLocation(fixture, t, "sum", 7))
		assertNoError(err, t, "UntilLocation()")
		assertReason(r, t, proc.ReasonLocationReached, "UntilLocation()")
		if fr := currentFrame(s, t); fr.Fn == nil || fr.Fn.Name != "_start" {
			t.Fatalf("stopped in %v", fr.Fn)
		}
	})
}

func TestAdvance(t *testing.T) {
	withTestSession("loop", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 11)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")

		r, err := s.Advance(findFileLocation(fixture, t, "sum", 7))
		assertNoError(err, t, "Advance()")
		assertReason(r, t, proc.ReasonLocationReached, "Advance()")
		if fr := assertLineNumber(s, t, 7, "Advance()"); fr.Fn.Name != "sum" {
			t.Fatalf("stopped in %v", fr.Fn)
		}
	})
}

func TestStepInlined(t *testing.T) {
	fixture := protest.BuildFixture("inline")
	p := sim.Launch(fixture.Program, sim.Config{NoRecord: true})
	defer p.Kill()
	b := &countingBackend{Process: p}
	s := startSession(t, proc.DefaultOptions(), fixture, b)

	setFileBreakpoint(s, t, fixture, "main", 11)
	_, err := s.Continue()
	assertNoError(err, t, "Continue()")

	// The thread stops at the start of the inlined call, shown in main.
	r, err := s.Step(1)
	assertNoError(err, t, "Step()")
	assertReason(r, t, proc.ReasonEndSteppingRange, "Step()")
	fr := assertLineNumber(s, t, 12, "Step()")
	if fr.Kind != proc.NormalFrame || fr.PC != findSymbol(fixture, t, "helper_start") {
		t.Fatalf("bad frame %#v", fr)
	}

	// Entering the inlined call does not run the thread.
	b.resumes = 0
	r, err = s.Step(1)
	assertNoError(err, t, "Step()")
	assertReason(r, t, proc.ReasonEndSteppingRange, "Step()")
	fr = assertLineNumber(s, t, 20, "Step()")
	if fr.Kind != proc.InlineFrame || fr.Inline == nil || fr.Inline.Name != "helper" {
		t.Fatalf("not in the inlined call: %#v", fr)
	}
	if b.resumes != 0 {
		t.Errorf("thread resumed %d times", b.resumes)
	}

	_, err = s.Step(1)
	assertNoError(err, t, "Step()")
	if fr := assertLineNumber(s, t, 21, "Step()"); fr.Kind != proc.InlineFrame {
		t.Fatalf("left the inlined call: %#v", fr)
	}

	r, err = s.Finish()
	assertNoError(err, t, "Finish()")
	assertReason(r, t, proc.ReasonFunctionFinished, "Finish()")
	if r.ReturnValue != nil {
		t.Errorf("inlined call returned %v", r.ReturnValue)
	}
	fr = assertLineNumber(s, t, 13, "Finish()")
	if fr.Kind != proc.NormalFrame || fr.Fn.Name != "main" {
		t.Fatalf("bad frame after finish %#v", fr)
	}
}

func TestNextOverInlined(t *testing.T) {
	testseq(t, "inline", "main", 11, []seqTest{
		{contNext, 12, "main"},
		{contNext, 13, "main"},
	})
}

func TestReverseStepInstruction(t *testing.T) {
	protest.AllowRecording(t)
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFileBreakpoint(s, t, fixture, "main", 10)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")

		_, err = s.StepInstruction(1)
		assertNoError(err, t, "StepInstruction()")
		if currentPC(s, t) == bp.Addr {
			t.Fatal("StepInstruction() did not move")
		}

		assertNoError(s.SetDirection(proc.Reverse), t, "SetDirection(Reverse)")
		// Stepping back lands on the breakpoint, which is reported.
		r, err := s.StepInstruction(1)
		assertNoError(err, t, "reverse StepInstruction()")
		assertReason(r, t, proc.ReasonBreakpointHit, "reverse StepInstruction()")
		if pc := currentPC(s, t); pc != bp.Addr {
			t.Fatalf("pc %#x after reverse step, expected %#x", pc, bp.Addr)
		}

		r, err = s.Continue()
		assertNoError(err, t, "reverse Continue()")
		assertReason(r, t, proc.ReasonNoHistory, "reverse Continue()")
		if pc := currentPC(s, t); pc != fixture.Program.EntryPoint() {
			t.Errorf("history ends at %#x, expected %#x", pc, fixture.Program.EntryPoint())
		}

		if _, err := s.CallFunctionByName("add", proc.NewIntValue(proc.LongType, 1), proc.NewIntValue(proc.LongType, 2)); err != proc.ErrReverseCall {
			t.Errorf("function call in reverse = %v", err)
		}

		assertNoError(s.SetDirection(proc.Forward), t, "SetDirection(Forward)")
		r, err = s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonBreakpointHit, "Continue()")
		if r.Breakpoint != bp {
			t.Errorf("wrong breakpoint %v", r.Breakpoint)
		}
	})
}

func TestReverseUnsupported(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		if err := s.SetDirection(proc.Reverse); err != proc.ErrReverseUnsupported {
			t.Fatalf("SetDirection(Reverse) = %v", err)
		}
		if s.Direction() != proc.Forward {
			t.Error("direction changed")
		}
	})
}

// captureFSM returns a function reporting the first command of kind
// seen attached to the current thread when the target is resumed, and
// the number of breakpoints at that point.
func captureFSM(s *proc.Session, t *testing.T, kind proc.FSMKind) func() (*proc.FSM, int) {
	th := currentThread(s, t)
	var fsm *proc.FSM
	n := 0
	s.Observers.TargetResumed.Attach(func(proc.TargetResumedEvent) {
		if f := th.FSM(); fsm == nil && f != nil && f.Kind == kind {
			fsm = f
			n = countBreakpoints(s)
		}
	})
	return func() (*proc.FSM, int) { return fsm, n }
}

func TestFinishCleanUpTwice(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFunctionBreakpoint(s, t, fixture, "add")
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		n := countBreakpoints(s)
		captured := captureFSM(s, t, proc.FinishCommand)

		r, err := s.Finish()
		assertNoError(err, t, "Finish()")
		assertReason(r, t, proc.ReasonFunctionFinished, "Finish()")
		fsm, running := captured()
		if fsm == nil {
			t.Fatal("no finish command attached while running")
		}
		if running != n+1 {
			t.Fatalf("%d breakpoints while finishing, expected %d", running, n+1)
		}
		if countBreakpoints(s) != n {
			t.Fatalf("%d breakpoints after finishing, expected %d", countBreakpoints(s), n)
		}
		th := currentThread(s, t)
		fsm.CleanUp(s, th)
		fsm.CleanUp(s, th)
		if countBreakpoints(s) != n {
			t.Fatalf("%d breakpoints after cleaning up again, expected %d", countBreakpoints(s), n)
		}

		// The user breakpoint survived.
		r, err = s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonBreakpointHit, "Continue()")
	})
}

func TestUntilCleanUpTwice(t *testing.T) {
	withTestSession("loop", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 11)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		n := countBreakpoints(s)
		captured := captureFSM(s, t, proc.UntilCommand)

		r, err := s.UntilLocation(findFileLocation(fixture, t, "main", 12))
		assertNoError(err, t, "UntilLocation()")
		assertReason(r, t, proc.ReasonLocationReached, "UntilLocation()")
		fsm, running := captured()
		if fsm == nil {
			t.Fatal("no until command attached while running")
		}
		// One at the location, one where main returns.
		if running != n+2 {
			t.Fatalf("%d breakpoints while running, expected %d", running, n+2)
		}
		th := currentThread(s, t)
		for i := 0; i < 2; i++ {
			fsm.CleanUp(s, th)
			if countBreakpoints(s) != n {
				t.Fatalf("%d breakpoints after clean up %d, expected %d", countBreakpoints(s), i, n)
			}
		}
	})
}

func TestFailedCommandKeepsStop(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFunctionBreakpoint(s, t, fixture, "add")
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		th := currentThread(s, t)
		n := countBreakpoints(s)
		assertStop := func(what string) {
			t.Helper()
			if len(th.Control.StopBpstat) != 1 || th.Control.StopBpstat[0] != bp {
				t.Fatalf("%s: stop breakpoints %v", what, th.Control.StopBpstat)
			}
			if countBreakpoints(s) != n {
				t.Fatalf("%s: %d breakpoints, expected %d", what, countBreakpoints(s), n)
			}
		}

		// Nothing can be inserted at an unmapped address.
		if _, err := s.Advance(0x10); err == nil {
			t.Fatal("Advance() to an unmapped address succeeded")
		}
		assertStop("Advance()")
		if _, err := s.UntilLocation(0x10); err == nil {
			t.Fatal("UntilLocation() to an unmapped address succeeded")
		}
		assertStop("UntilLocation()")

		frames, err := s.Stacktrace(th, 10)
		assertNoError(err, t, "Stacktrace()")
		assertNoError(s.SelectFrame(len(frames)-1), t, "SelectFrame()")
		if _, err := s.Finish(); err != proc.ErrOutermostFrame {
			t.Fatalf("expected %v, got %v", proc.ErrOutermostFrame, err)
		}
		assertStop("Finish()")
		assertNoError(s.SelectFrame(0), t, "SelectFrame(0)")

		// The stop was kept: the next command steps over the breakpoint.
		r, err := s.Finish()
		assertNoError(err, t, "Finish()")
		assertReason(r, t, proc.ReasonFunctionFinished, "Finish()")
	})
}

func TestStepCountError(t *testing.T) {
	withTestSession("stray", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 6)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")
		var stops int
		s.Observers.NormalStop.Attach(func(*proc.StopReport) { stops++ })

		// The first step ends outside of any function, where the second
		// one can't be set up.
		if _, err := s.Step(2); err == nil {
			t.Fatal("Step(2) succeeded")
		}
		if pc := currentPC(s, t); pc != findSymbol(fixture, t, "stray_ret") {
			t.Fatalf("stopped at %#x", pc)
		}
		th := currentThread(s, t)
		if th.State != proc.ThreadStopped {
			t.Fatalf("thread state %v", th.State)
		}
		if th.FSM() != nil {
			t.Fatalf("step command still attached: %v", th.FSM().Kind)
		}
		if stops != 1 {
			t.Fatalf("%d stops reported", stops)
		}
	})
}
