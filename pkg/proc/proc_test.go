package proc_test

import (
	"flag"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-delve/execctl/pkg/logflags"
	"github.com/go-delve/execctl/pkg/proc"
	"github.com/go-delve/execctl/pkg/proc/sim"
	protest "github.com/go-delve/execctl/pkg/proc/test"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(protest.RunTestsWithFixtures(m))
}

func withTestSession(name string, t testing.TB, fn func(s *proc.Session, p *sim.Process, fixture protest.Fixture)) {
	withTestSessionOpts(name, t, proc.DefaultOptions(), fn)
}

func withTestSessionOpts(name string, t testing.TB, opts proc.Options, fn func(s *proc.Session, p *sim.Process, fixture protest.Fixture)) {
	fixture := protest.BuildFixture(name)
	p := sim.Launch(fixture.Program, sim.Config{NoRecord: !protest.RecordingAllowed(t)})
	defer p.Kill()
	s := startSession(t, opts, fixture, p)
	fn(s, p, fixture)
}

func startSession(t testing.TB, opts proc.Options, fixture protest.Fixture, b proc.Backend) *proc.Session {
	s := proc.NewSession(opts)
	s.SetLanguage(fixture.Program.Language())
	inf := s.AddInferior()
	inf.Pspace.SetSymbols(fixture.Program, fixture.Program)
	var pid int
	if b, ok := b.(interface{ Pid() int }); ok {
		pid = b.Pid()
	}
	if err := s.Start(inf, b, pid); err != nil {
		t.Fatal("Start():", err)
	}
	return s
}

// countingBackend counts the times threads are resumed.
type countingBackend struct {
	*sim.Process
	resumes int
}

func (b *countingBackend) Resume(ptid proc.PTID, step bool, sig proc.Signal) error {
	b.resumes++
	return b.Process.Resume(ptid, step, sig)
}

func assertNoError(err error, t testing.TB, s string) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fname := filepath.Base(file)
		t.Fatalf("failed assertion at %s:%d: %s - %s\n", fname, line, s, err)
	}
}

func assertReason(r *proc.StopReport, t testing.TB, reason proc.AsyncReason, descr string) {
	if r == nil || r.Reason != reason {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("%s: expected %v got %v\n\tat %s:%d", descr, reason, r, filepath.Base(file), line)
	}
}

func currentThread(s *proc.Session, t testing.TB) *proc.Thread {
	th, err := s.CurrentThread()
	if err != nil {
		t.Fatal("CurrentThread():", err)
	}
	return th
}

func currentPC(s *proc.Session, t testing.TB) uint64 {
	th := currentThread(s, t)
	regs, err := th.Inf.Target.ReadRegisters(th.PTID)
	if err != nil {
		t.Fatal(err)
	}
	return regs.PC()
}

func currentFrame(s *proc.Session, t testing.TB) proc.Frame {
	fr, err := s.FrameAt(currentThread(s, t), 0)
	if err != nil {
		t.Fatal("FrameAt():", err)
	}
	return fr
}

func assertLineNumber(s *proc.Session, t testing.TB, lineno int, descr string) proc.Frame {
	fr := currentFrame(s, t)
	if !fr.HasLine || fr.Line.Line != lineno {
		_, callerFile, callerLine, _ := runtime.Caller(1)
		t.Fatalf("%s expected line :%d got %s:%d (pc %#x)\n\tat %s:%d", descr, lineno, fr.Line.File, fr.Line.Line, fr.PC, filepath.Base(callerFile), callerLine)
	}
	return fr
}

func findFileLocation(fixture protest.Fixture, t testing.TB, fn string, lineno int) uint64 {
	pc, ok := fixture.Program.LineToPC(fn, lineno)
	if !ok {
		t.Fatalf("no address for %s:%d", fn, lineno)
	}
	return pc
}

func findSymbol(fixture protest.Fixture, t testing.TB, name string) uint64 {
	addr, ok := fixture.Program.Symbol(name)
	if !ok {
		t.Fatalf("no symbol %s", name)
	}
	return addr
}

func setFileBreakpoint(s *proc.Session, t testing.TB, fixture protest.Fixture, fn string, lineno int) *proc.Breakpoint {
	bp, err := s.Breakpoints.SetBreakpoint(s.CurrentInferior(), findFileLocation(fixture, t, fn, lineno))
	if err != nil {
		t.Fatalf("failed to set breakpoint at %s:%d: %v", fn, lineno, err)
	}
	return bp
}

func setFunctionBreakpoint(s *proc.Session, t testing.TB, fixture protest.Fixture, fname string) *proc.Breakpoint {
	fn := fixture.Program.LookupFunc(fname)
	if fn == nil {
		t.Fatalf("no function %s", fname)
	}
	bp, err := s.Breakpoints.SetBreakpoint(s.CurrentInferior(), fn.Entry)
	if err != nil {
		t.Fatalf("failed to set breakpoint at %s: %v", fname, err)
	}
	return bp
}

func countBreakpoints(s *proc.Session) int {
	return len(s.Breakpoints.All())
}

func TestExit(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		inf := s.CurrentInferior()
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedNormally, "Continue()")
		if r.Thread != nil || r.Inferior != inf {
			t.Errorf("bad exit report %#v", r)
		}
		if inf.Pid != 0 || s.HasCurrentThread() || s.LiveThreadCount() != 0 {
			t.Errorf("process still there: pid %d, %d threads", inf.Pid, s.LiveThreadCount())
		}
		if _, err := s.Continue(); err != proc.ErrNoProcess {
			t.Errorf("Continue() after exit = %v", err)
		}
	})
}

func TestExitCode(t *testing.T) {
	withTestSession("call", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 12)
		_, err := s.Continue()
		assertNoError(err, t, "Continue()")

		// Leave main for a function that ends the program.
		th := currentThread(s, t)
		regs, err := p.ReadRegisters(th.PTID)
		assertNoError(err, t, "ReadRegisters()")
		regs.SetPC(fixture.Program.LookupFunc("spin_exit").Entry)
		assertNoError(p.WriteRegisters(th.PTID, regs), t, "WriteRegisters()")

		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExited, "Continue()")
		if r.ExitCode != 3 || !r.Inferior.HasExitCode || r.Inferior.ExitCode != 3 {
			t.Errorf("bad exit code in %v", r)
		}
	})
}

func TestBreakpoint(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFunctionBreakpoint(s, t, fixture, "add")
		n := 0
		for {
			r, err := s.Continue()
			assertNoError(err, t, "Continue()")
			if r.Reason == proc.ReasonExitedNormally {
				break
			}
			assertReason(r, t, proc.ReasonBreakpointHit, "Continue()")
			n++
			if r.Breakpoint != bp || r.PC != bp.Addr || r.Frame.Fn == nil || r.Frame.Fn.Name != "add" {
				t.Fatalf("wrong stop %v frame %#v", r, r.Frame)
			}
			assertLineNumber(s, t, 3, "Continue()")
		}
		if n != 2 || bp.HitCount != 2 {
			t.Fatalf("breakpoint hit %d times (count %d), expected 2", n, bp.HitCount)
		}
	})
}

func TestBreakpointExists(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFunctionBreakpoint(s, t, fixture, "add")
		if _, err := s.Breakpoints.SetBreakpoint(s.CurrentInferior(), bp.Addr); err == nil {
			t.Fatal("set the same breakpoint twice")
		} else if _, ok := err.(proc.BreakpointExistsError); !ok {
			t.Fatalf("unexpected error %v", err)
		}
		if s.Breakpoints.FindID(bp.ID) != bp {
			t.Error("FindID did not find the breakpoint")
		}
		_, err := s.Breakpoints.ClearBreakpoint(s.CurrentInferior(), bp.Addr)
		assertNoError(err, t, "ClearBreakpoint()")
		if _, err := s.Breakpoints.ClearBreakpoint(s.CurrentInferior(), bp.Addr); err == nil {
			t.Error("cleared a breakpoint twice")
		}

		// The original instruction is back.
		buf := make([]byte, 1)
		_, err = p.ReadMemory(buf, bp.Addr)
		assertNoError(err, t, "ReadMemory()")
		if buf[0] != 0x55 {
			t.Errorf("breakpoint left in memory: %#x", buf[0])
		}

		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedNormally, "Continue()")
	})
}

func TestSignalReceived(t *testing.T) {
	withTestSession("signal", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonSignalReceived, "Continue()")
		if r.Signal != proc.SIGUSR1 {
			t.Fatalf("wrong signal %v", r.Signal)
		}
		// The signal is received when the kill system call returns.
		assertLineNumber(s, t, 7, "Continue()")

		// The program does not handle SIGUSR1.
		r, err = s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedSignalled, "Continue()")
		if r.Signal != proc.SIGUSR1 {
			t.Errorf("wrong signal %v", r.Signal)
		}
	})
}

func TestContinueWithoutSignal(t *testing.T) {
	withTestSession("signal", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonSignalReceived, "Continue()")
		r, err = s.ContinueWithSignal(proc.SignalNone)
		assertNoError(err, t, "ContinueWithSignal()")
		assertReason(r, t, proc.ReasonExitedNormally, "ContinueWithSignal()")
	})
}

func TestNormalStopObserver(t *testing.T) {
	withTestSession("simple", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		var stops []*proc.StopReport
		resumed := 0
		s.Observers.NormalStop.Attach(func(r *proc.StopReport) { stops = append(stops, r) })
		s.Observers.TargetResumed.Attach(func(proc.TargetResumedEvent) { resumed++ })

		setFunctionBreakpoint(s, t, fixture, "add")
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		if len(stops) != 1 || stops[0] != r || s.LastStop() != r {
			t.Fatalf("stop not notified: %v", stops)
		}
		if resumed != 1 {
			t.Errorf("TargetResumed notified %d times", resumed)
		}
		if th := currentThread(s, t); th.State != proc.ThreadStopped || th.Executing() || th.Resumed() {
			t.Errorf("thread not stopped after the stop: %v executing=%v resumed=%v", th.State, th.Executing(), th.Resumed())
		}
	})
}

func TestStacktrace(t *testing.T) {
	withTestSession("recursion", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		bp := setFunctionBreakpoint(s, t, fixture, "fact")
		for i := 0; i < 3; i++ {
			_, err := s.Continue()
			assertNoError(err, t, "Continue()")
		}
		_, err := s.Breakpoints.ClearBreakpoint(s.CurrentInferior(), bp.Addr)
		assertNoError(err, t, "ClearBreakpoint()")

		frames, err := s.Stacktrace(currentThread(s, t), 50)
		assertNoError(err, t, "Stacktrace()")
		expected := []string{"fact", "fact", "fact", "main", "_start"}
		if len(frames) != len(expected) {
			t.Fatalf("expected %d frames got %d", len(expected), len(frames))
		}
		for i, fr := range frames {
			if fr.Level != i || fr.Fn == nil || fr.Fn.Name != expected[i] || fr.Kind != proc.NormalFrame {
				t.Errorf("frame %d: %#v", i, fr)
			}
		}
		if frames[1].Line.Line != 5 || frames[3].Line.Line != 11 {
			t.Errorf("wrong call lines %d %d", frames[1].Line.Line, frames[3].Line.Line)
		}
		if frames[0].ID == frames[1].ID || frames[1].ID == frames[2].ID {
			t.Error("recursive frames have the same id")
		}
		if _, err := s.FrameAt(currentThread(s, t), len(expected)); err == nil {
			t.Error("frame past the outermost frame")
		}
	})
}
