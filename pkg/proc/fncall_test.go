package proc_test

import (
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/go-delve/execctl/pkg/proc"
	"github.com/go-delve/execctl/pkg/proc/sim"
	protest "github.com/go-delve/execctl/pkg/proc/test"
)

// withCallSite stops the call fixture at main:12, after the sleeper thread
// was started, and passes fn the registers of the main thread at that
// point.
func withCallSite(t *testing.T, opts proc.Options, fn func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers)) {
	withTestSessionOpts("call", t, opts, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		setFileBreakpoint(s, t, fixture, "main", 12)
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonBreakpointHit, "Continue()")
		regs, err := p.ReadRegisters(currentThread(s, t).PTID)
		assertNoError(err, t, "ReadRegisters()")
		fn(s, p, fixture, regs.Copy())
	})
}

func assertRegistersRestored(s *proc.Session, p *sim.Process, t *testing.T, before *proc.Registers) {
	t.Helper()
	regs, err := p.ReadRegisters(currentThread(s, t).PTID)
	assertNoError(err, t, "ReadRegisters()")
	if !regs.Equal(before) {
		t.Fatalf("registers not restored:\nbefore %v\nafter  %v", before, regs)
	}
}

func assertAbandoned(err error, t *testing.T, kind proc.CallAbandonKind) *proc.CallAbandonedError {
	t.Helper()
	var cae *proc.CallAbandonedError
	if !errors.As(err, &cae) {
		t.Fatalf("expected a CallAbandonedError, got %v", err)
	}
	if cae.Kind != kind {
		t.Fatalf("wrong abandon kind %d, expected %d: %v", cae.Kind, kind, err)
	}
	return cae
}

func TestCallFunction(t *testing.T) {
	protest.AllowRecording(t)
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		var pre, post int
		s.Observers.InferiorCallPre.Attach(func(proc.InferiorCallEvent) { pre++ })
		s.Observers.InferiorCallPost.Attach(func(proc.InferiorCallEvent) { post++ })

		v, err := s.CallFunctionByName("square", proc.NewIntValue(proc.LongType, 7))
		assertNoError(err, t, "CallFunctionByName(square)")
		if v.Int64() != 49 {
			t.Fatalf("square(7) = %d", v.Int64())
		}
		if pre != 1 || post != 1 {
			t.Fatalf("wrong call notifications: pre %d post %d", pre, post)
		}
		assertRegistersRestored(s, p, t, before)
		if n := len(s.DummyFrames(currentThread(s, t))); n != 0 {
			t.Fatalf("%d dummy frames left", n)
		}

		// The program goes on from where it was stopped.
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedNormally, "Continue()")
	})
}

func TestCallFunctionFloat(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		v, err := s.CallFunctionByName("fid", proc.NewFloatValue(proc.FloatType, 1.5))
		assertNoError(err, t, "CallFunctionByName(fid)")
		if v.Type.Code != proc.TypeFloat || v.Type.Size != 8 {
			t.Fatalf("wrong return type %v", v.Type)
		}
		if v.Float64() != 1.5 {
			t.Fatalf("fid(1.5) = %g", v.Float64())
		}
		assertRegistersRestored(s, p, t, before)
	})
}

func TestCallFunctionStructReturn(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		// Small structs come back in rax:rdx.
		v, err := s.CallFunctionByName("make_pair")
		assertNoError(err, t, "CallFunctionByName(make_pair)")
		if len(v.Contents) != 16 {
			t.Fatalf("wrong size %d", len(v.Contents))
		}
		if a, b := binary.LittleEndian.Uint64(v.Contents), binary.LittleEndian.Uint64(v.Contents[8:]); a != 3 || b != 4 {
			t.Fatalf("make_pair() = {%d, %d}", a, b)
		}

		// Large ones are written to memory the caller provides.
		v, err = s.CallFunctionByName("make_big")
		assertNoError(err, t, "CallFunctionByName(make_big)")
		if v.Addr == 0 {
			t.Fatal("struct return value has no address")
		}
		if len(v.Contents) != 32 {
			t.Fatalf("wrong size %d", len(v.Contents))
		}
		for i := 0; i < 4; i++ {
			if n := binary.LittleEndian.Uint64(v.Contents[i*8:]); n != uint64(i+1) {
				t.Fatalf("make_big() field %d = %d", i, n)
			}
		}
		assertRegistersRestored(s, p, t, before)
	})
}

func TestCallFunctionErrors(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		var resumed int
		s.Observers.TargetResumed.Attach(func(proc.TargetResumedEvent) { resumed++ })

		_, err := s.CallFunctionByName("hidden")
		var nce *proc.NoCallError
		if !errors.As(err, &nce) {
			t.Fatalf("hidden: expected NoCallError, got %v", err)
		}

		_, err = s.CallFunctionByName("opaque")
		var ure *proc.UnknownReturnTypeError
		if !errors.As(err, &ure) {
			t.Fatalf("opaque: expected UnknownReturnTypeError, got %v", err)
		}

		_, err = s.CallFunctionByName("square")
		if err != proc.ErrTooFewArguments {
			t.Fatalf("square(): expected %v, got %v", proc.ErrTooFewArguments, err)
		}

		if _, err = s.CallFunctionByName("nosuchfunction"); err == nil {
			t.Fatal("calling an unknown function succeeded")
		}

		opts := s.Options()
		opts.MayCallFunctions = false
		s.SetOptions(opts)
		_, err = s.CallFunctionByName("square", proc.NewIntValue(proc.LongType, 2))
		var cde *proc.CallsDisabledError
		if !errors.As(err, &cde) {
			t.Fatalf("expected CallsDisabledError, got %v", err)
		}

		if resumed != 0 {
			t.Fatalf("failed calls resumed the target %d times", resumed)
		}
		assertRegistersRestored(s, p, t, before)
	})
}

func TestCallFunctionDefaultReturnType(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		fn := fixture.Program.LookupFunc("opaque")
		if fn == nil {
			t.Fatal("no function opaque")
		}
		v, err := s.CallFunction(proc.FunctionValue(fn), nil, proc.LongType)
		assertNoError(err, t, "CallFunction(opaque)")
		if v.Int64() != 99 {
			t.Fatalf("opaque() = %d", v.Int64())
		}
	})
}

func TestCallFunctionSignal(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		_, err := s.CallFunctionByName("crash")
		cae := assertAbandoned(err, t, proc.CallSignalled)
		if cae.Signal != proc.SIGILL {
			t.Fatalf("wrong signal %v", cae.Signal)
		}
		if cae.Unwound() {
			t.Fatal("Unwound() for a call left in the called function")
		}
		if fr := currentFrame(s, t); fr.Fn == nil || fr.Fn.Name != "crash" {
			t.Fatalf("not stopped in crash: %#v", fr.Fn)
		}
		th := currentThread(s, t)
		if n := len(s.DummyFrames(th)); n != 1 {
			t.Fatalf("expected one dummy frame, got %d", n)
		}

		assertNoError(s.PopDummyFrame(), t, "PopDummyFrame()")
		assertRegistersRestored(s, p, t, before)
		if n := len(s.DummyFrames(th)); n != 0 {
			t.Fatalf("%d dummy frames left", n)
		}
		if err := s.PopDummyFrame(); err != proc.ErrNoDummyFrame {
			t.Fatalf("expected %v, got %v", proc.ErrNoDummyFrame, err)
		}
	})
}

func TestCallFunctionUnwindOnSignal(t *testing.T) {
	opts := proc.DefaultOptions()
	opts.UnwindOnSignal = true
	withCallSite(t, opts, func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		_, err := s.CallFunctionByName("crash")
		cae := assertAbandoned(err, t, proc.CallSignalUnwound)
		if !cae.Unwound() {
			t.Fatal("call not unwound")
		}
		if cae.Signal != proc.SIGILL {
			t.Fatalf("wrong signal %v", cae.Signal)
		}
		assertRegistersRestored(s, p, t, before)
		if n := len(s.DummyFrames(currentThread(s, t))); n != 0 {
			t.Fatalf("%d dummy frames left", n)
		}
		assertLineNumber(s, t, 12, "after unwinding")
	})
}

func TestCallFunctionTerminate(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		nbp := countBreakpoints(s)
		_, err := s.CallFunctionByName("thrower")
		cae := assertAbandoned(err, t, proc.CallTerminateUnwound)
		if !cae.Unwound() {
			t.Fatal("call not unwound")
		}
		assertRegistersRestored(s, p, t, before)
		if n := len(s.DummyFrames(currentThread(s, t))); n != 0 {
			t.Fatalf("%d dummy frames left", n)
		}
		if n := countBreakpoints(s); n != nbp {
			t.Fatalf("breakpoints left behind: %d, expected %d", n, nbp)
		}
		// The program is still alive and can run to completion.
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedNormally, "Continue()")
	})
}

func TestCallFunctionTerminateNoUnwind(t *testing.T) {
	opts := proc.DefaultOptions()
	opts.UnwindOnTerminatingException = false
	withCallSite(t, opts, func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		_, err := s.CallFunctionByName("thrower")
		cae := assertAbandoned(err, t, proc.CallSignalled)
		if cae.Signal != proc.SIGABRT {
			t.Fatalf("wrong signal %v", cae.Signal)
		}
	})
}

func TestCallFunctionBreakpointInside(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		bp, err := s.Breakpoints.SetBreakpoint(s.CurrentInferior(), findSymbol(fixture, t, "bp_inside_mid"))
		assertNoError(err, t, "SetBreakpoint()")

		_, err = s.CallFunctionByName("bp_inside")
		assertAbandoned(err, t, proc.CallStoppedAtBreakpoint)
		if bp.HitCount != 1 {
			t.Fatalf("breakpoint hit %d times", bp.HitCount)
		}
		th := currentThread(s, t)
		frames, err := s.Stacktrace(th, 10)
		assertNoError(err, t, "Stacktrace()")
		if frames[0].Fn == nil || frames[0].Fn.Name != "bp_inside" {
			t.Fatalf("not stopped in bp_inside: %#v", frames[0].Fn)
		}
		dummy := -1
		for i, fr := range frames {
			if fr.Kind == proc.DummyFrame {
				dummy = i
				break
			}
		}
		if dummy < 0 || dummy+1 >= len(frames) {
			t.Fatalf("no dummy frame in the stack: %v", frames)
		}
		if fr := frames[dummy+1]; fr.Fn == nil || fr.Fn.Name != "main" {
			t.Fatalf("dummy frame not called from main: %#v", fr.Fn)
		}

		// Calls nest inside the abandoned one.
		v, err := s.CallFunctionByName("square", proc.NewIntValue(proc.LongType, 3))
		assertNoError(err, t, "nested CallFunctionByName(square)")
		if v.Int64() != 9 {
			t.Fatalf("square(3) = %d", v.Int64())
		}
		if n := len(s.DummyFrames(th)); n != 1 {
			t.Fatalf("expected one dummy frame, got %d", n)
		}

		// Returning from bp_inside silently pops the dummy frame.
		_, err = s.Continue()
		assertNoError(err, t, "Continue()")
		if n := len(s.DummyFrames(th)); n != 0 {
			t.Fatalf("%d dummy frames left", n)
		}
		assertRegistersRestored(s, p, t, before)

		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedNormally, "Continue()")
	})
}

func TestCallFunctionProgramExits(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		_, err := s.CallFunctionByName("spin_exit")
		assertAbandoned(err, t, proc.CallProgramExited)
		if s.CurrentInferior().Pid != 0 {
			t.Fatal("inferior still has a process")
		}
		if _, err := s.CallFunctionByName("square", proc.NewIntValue(proc.LongType, 1)); err != proc.ErrNoProcess {
			t.Fatalf("expected %v, got %v", proc.ErrNoProcess, err)
		}
	})
}

func TestCallFunctionThreadExits(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		th := currentThread(s, t)
		_, err := s.CallFunctionByName("thread_exit")
		assertAbandoned(err, t, proc.CallThreadExited)
		if th.State != proc.ThreadExited {
			t.Fatalf("thread state %v", th.State)
		}
		if n := len(s.DummyFrames(th)); n != 0 {
			t.Fatalf("%d dummy frames left for an exited thread", n)
		}
	})
}

func TestCallFunctionStopsInOtherThread(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		caller := currentThread(s, t)
		_, err := s.Breakpoints.SetBreakpoint(s.CurrentInferior(), findSymbol(fixture, t, "sleeper_loop"))
		assertNoError(err, t, "SetBreakpoint()")

		_, err = s.CallFunctionByName("slow", proc.NewIntValue(proc.LongType, 1000))
		assertAbandoned(err, t, proc.CallStoppedInOtherThread)
		other := currentThread(s, t)
		if other == caller {
			t.Fatal("current thread is still the calling thread")
		}
		if fr := currentFrame(s, t); fr.Fn == nil || fr.Fn.Name != "sleeper" {
			t.Fatalf("not stopped in sleeper: %#v", fr.Fn)
		}
		// The calling thread is left in the called function.
		if n := len(s.DummyFrames(caller)); n != 1 {
			t.Fatalf("expected one dummy frame on the calling thread, got %d", n)
		}
	})
}

func TestCallFunctionReverse(t *testing.T) {
	protest.AllowRecording(t)
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		assertNoError(s.SetDirection(proc.Reverse), t, "SetDirection(Reverse)")
		_, err := s.CallFunctionByName("square", proc.NewIntValue(proc.LongType, 2))
		if err != proc.ErrReverseCall {
			t.Fatalf("expected %v, got %v", proc.ErrReverseCall, err)
		}
		assertNoError(s.SetDirection(proc.Forward), t, "SetDirection(Forward)")
	})
}

// classArg returns the value of the cls object called name in the data
// section of the call fixture.
func classArg(p *sim.Process, fixture protest.Fixture, t *testing.T, typ, name string) *proc.Value {
	t.Helper()
	ct, err := fixture.Program.Type(typ)
	assertNoError(err, t, "Type()")
	v, err := proc.ValueAt(p, ct, findSymbol(fixture, t, name))
	assertNoError(err, t, "ValueAt()")
	return v
}

// destroyed returns the values of the cls objects destroyed so far, in
// the order their destructor ran.
func destroyed(p *sim.Process, fixture protest.Fixture, t *testing.T) []int64 {
	t.Helper()
	var buf [64]byte
	_, err := p.ReadMemory(buf[:], findSymbol(fixture, t, "dtor_log"))
	assertNoError(err, t, "ReadMemory()")
	n := binary.LittleEndian.Uint64(buf[:]) / 8
	r := []int64{}
	for i := uint64(0); i < n; i++ {
		r = append(r, int64(binary.LittleEndian.Uint64(buf[8+8*i:])))
	}
	return r
}

func TestCallFunctionPassByReference(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		if name := s.Language().Name(); name != "c++" {
			t.Fatalf("wrong language %q", name)
		}
		a, b := classArg(p, fixture, t, "cls", "cls_a"), classArg(p, fixture, t, "cls", "cls_b")

		// The copy constructor adds one to the value of each argument.
		v, err := s.CallFunctionByName("sum_cls", a, b)
		assertNoError(err, t, "CallFunctionByName(sum_cls)")
		if v.Int64() != 203 {
			t.Fatalf("sum_cls(100, 101) = %d", v.Int64())
		}
		// Copies are destroyed in reverse construction order, and the
		// arguments are constructed last to first.
		if d := destroyed(p, fixture, t); !reflect.DeepEqual(d, []int64{101, 102}) {
			t.Fatalf("wrong destructor calls %v", d)
		}
		// The originals are left alone.
		if a.Int64() != 100 || classArg(p, fixture, t, "cls", "cls_a").Int64() != 100 {
			t.Fatal("argument modified by the call")
		}
		assertRegistersRestored(s, p, t, before)
		if n := len(s.DummyFrames(currentThread(s, t))); n != 0 {
			t.Fatalf("%d dummy frames left", n)
		}

		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedNormally, "Continue()")
	})
}

func TestCallFunctionHiddenReturnParam(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		v, err := s.CallFunctionByName("make_cls", proc.NewIntValue(proc.LongType, 42))
		assertNoError(err, t, "CallFunctionByName(make_cls)")
		if v.Type.Name != "cls" || v.Addr == 0 {
			t.Fatalf("wrong return value %#v", v)
		}
		if n := binary.LittleEndian.Uint64(v.Contents); n != 42 {
			t.Fatalf("make_cls(42) = %d", n)
		}
		assertRegistersRestored(s, p, t, before)
	})
}

func TestCallFunctionPassByReferenceErrors(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		var resumed int
		s.Observers.TargetResumed.Attach(func(proc.TargetResumedEvent) { resumed++ })

		_, err := s.CallFunctionByName("take_nocopy", classArg(p, fixture, t, "nocopy", "cls_a"))
		var ate *proc.ArgumentTypeError
		if !errors.As(err, &ate) {
			t.Fatalf("take_nocopy: expected ArgumentTypeError, got %v", err)
		}
		if !strings.Contains(err.Error(), "type 'nocopy' is not copy constructible") {
			t.Fatalf("take_nocopy: wrong error %q", err)
		}

		_, err = s.CallFunctionByName("take_nodtor", classArg(p, fixture, t, "nodtor", "cls_a"))
		if !errors.As(err, &ate) || ate.Reason != "is not destructible" {
			t.Fatalf("take_nodtor: wrong error %v", err)
		}

		_, err = s.CallFunctionByName("take_lostdtor", classArg(p, fixture, t, "lostdtor", "cls_a"))
		var mse *proc.MissingSpecialFunctionError
		if !errors.As(err, &mse) || mse.What != "destructor" || mse.Type.Name != "lostdtor" {
			t.Fatalf("take_lostdtor: expected a missing destructor, got %v", err)
		}

		if resumed != 0 {
			t.Fatalf("failed calls resumed the target %d times", resumed)
		}
		assertRegistersRestored(s, p, t, before)
		if n := len(s.DummyFrames(currentThread(s, t))); n != 0 {
			t.Fatalf("%d dummy frames left", n)
		}
	})
}

func TestCallFunctionDestructorsOnBadReturn(t *testing.T) {
	withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
		a, b := classArg(p, fixture, t, "cls", "cls_a"), classArg(p, fixture, t, "cls", "cls_b")
		sum := fixture.Program.LookupFunc("sum_cls")
		// A return type that doesn't fit in the return registers.
		wide := &proc.Type{Code: proc.TypeInt, Name: "__int256", Size: 32}
		fn := &proc.Function{Name: sum.Name, Entry: sum.Entry, End: sum.End, Type: proc.FuncType(wide, a.Type, b.Type)}

		_, err := s.CallFunction(proc.FunctionValue(fn), []*proc.Value{a, b}, nil)
		if err == nil {
			t.Fatal("reading the return value succeeded")
		}
		if d := destroyed(p, fixture, t); !reflect.DeepEqual(d, []int64{101, 102}) {
			t.Fatalf("wrong destructor calls %v", d)
		}
		assertRegistersRestored(s, p, t, before)
	})
}

func TestDummyFrameDtor(t *testing.T) {
	abandon := func(s *proc.Session, fixture protest.Fixture, t *testing.T) (*proc.Thread, proc.FrameID) {
		_, err := s.Breakpoints.SetBreakpoint(s.CurrentInferior(), findSymbol(fixture, t, "bp_inside_mid"))
		assertNoError(err, t, "SetBreakpoint()")
		_, err = s.CallFunctionByName("bp_inside")
		assertAbandoned(err, t, proc.CallStoppedAtBreakpoint)
		th := currentThread(s, t)
		ids := s.DummyFrames(th)
		if len(ids) != 1 {
			t.Fatalf("expected one dummy frame, got %d", len(ids))
		}
		return th, ids[0]
	}

	t.Run("pop", func(t *testing.T) {
		withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
			th, id := abandon(s, fixture, t)
			var calls []int
			assertNoError(s.RegisterDummyFrameDtor(id, th, func() { calls = append(calls, 1) }), t, "RegisterDummyFrameDtor()")
			assertNoError(s.RegisterDummyFrameDtor(id, th, func() { calls = append(calls, 2) }), t, "RegisterDummyFrameDtor()")

			assertNoError(s.PopDummyFrame(), t, "PopDummyFrame()")
			// Last registered, first called.
			if !reflect.DeepEqual(calls, []int{2, 1}) {
				t.Fatalf("wrong dtor calls %v", calls)
			}
			if err := s.RegisterDummyFrameDtor(id, th, func() {}); err == nil {
				t.Fatal("registered a dtor on a popped dummy frame")
			}

			r, err := s.Continue()
			assertNoError(err, t, "Continue()")
			assertReason(r, t, proc.ReasonExitedNormally, "Continue()")
			if len(calls) != 2 {
				t.Fatalf("dtors called again: %v", calls)
			}
		})
	})

	t.Run("discard", func(t *testing.T) {
		withCallSite(t, proc.DefaultOptions(), func(s *proc.Session, p *sim.Process, fixture protest.Fixture, before *proc.Registers) {
			th, id := abandon(s, fixture, t)
			n := 0
			assertNoError(s.RegisterDummyFrameDtor(id, th, func() { n++ }), t, "RegisterDummyFrameDtor()")

			inf := s.CurrentInferior()
			s.ExitInferior(inf)
			if n != 1 {
				t.Fatalf("dtor called %d times", n)
			}
			if m := len(s.DummyFrames(th)); m != 0 {
				t.Fatalf("%d dummy frames left", m)
			}
			s.ExitInferior(inf)
			if n != 1 {
				t.Fatalf("dtor called %d times after exiting twice", n)
			}
		})
	})
}

func TestCallFunctionKeepsStopSignal(t *testing.T) {
	withTestSession("signal", t, func(s *proc.Session, p *sim.Process, fixture protest.Fixture) {
		r, err := s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonSignalReceived, "Continue()")
		th := currentThread(s, t)
		sig, reason := th.StopSignal(), th.StopReason()
		if sig != proc.SIGUSR1 {
			t.Fatalf("wrong stop signal %v", sig)
		}

		v, err := s.CallFunctionByName("twice", proc.NewIntValue(proc.LongType, 21))
		assertNoError(err, t, "CallFunctionByName(twice)")
		if v.Int64() != 42 {
			t.Fatalf("twice(21) = %d", v.Int64())
		}
		if th.StopSignal() != sig || th.StopReason() != reason {
			t.Fatalf("stop changed by the call: signal %v reason %v, expected %v %v", th.StopSignal(), th.StopReason(), sig, reason)
		}
		assertLineNumber(s, t, 7, "after the call")

		// The signal is still delivered when the program resumes.
		r, err = s.Continue()
		assertNoError(err, t, "Continue()")
		assertReason(r, t, proc.ReasonExitedSignalled, "Continue()")
		if r.Signal != proc.SIGUSR1 {
			t.Fatalf("wrong signal %v", r.Signal)
		}
	})
}
