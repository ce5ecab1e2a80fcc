package proc

import (
	"fmt"

	"github.com/go-delve/execctl/pkg/logflags"
)

// This file implements calling functions of the target program from the
// debugger.
//
// The call runs on the current thread: its registers and stepping state
// are saved, a call frame is pushed on its stack by the backend with a
// return address pointing at a breakpoint placed at the program entry
// point, and the thread is resumed. When the breakpoint is hit with the
// stack pointer just above the pushed frame, the called function returned:
// the value is read and the saved state restored. The saved caller state
// lives in a dummy frame so that the stack stays unwindable while the
// callee runs, and so that a call interrupted by a breakpoint or a signal
// can be inspected and later abandoned.

// stdTerminateNames are the symbol names a terminating C++ exception ends
// up in.
var stdTerminateNames = []string{"std::terminate()", "std::terminate", "_ZSt9terminatev"}

type callState struct {
	name       string
	valuesType *Type
	// structRet is set when the value is returned in memory at
	// structAddr.
	structRet   bool
	structAddr  uint64
	returnValue *Value
	err         error
}

type destructorInfo struct {
	fn   *Function
	this *Value
}

// CallFunctionByName calls the function name of the current inferior.
func (s *Session) CallFunctionByName(name string, args ...*Value) (*Value, error) {
	inf := s.CurrentInferior()
	if inf == nil || inf.Pid == 0 {
		return nil, ErrNoProcess
	}
	var fn *Function
	if inf.Pspace.Symbols != nil {
		fn = inf.Pspace.Symbols.LookupFunc(name)
	}
	if fn == nil {
		return nil, fmt.Errorf("no symbol %q in current context", name)
	}
	return s.CallFunction(FunctionValue(fn), args, nil)
}

// CallFunction calls function with args on the current thread and returns
// the value it returned. defaultReturnType is the return type to assume
// when the function's type does not say.
//
// If the called function does not return normally a *CallAbandonedError
// is returned; unless its Unwound method returns true the thread is left
// stopped inside the called function.
func (s *Session) CallFunction(function *Value, args []*Value, defaultReturnType *Type) (retval *Value, err error) {
	if !s.opts.MayCallFunctions {
		return nil, &CallsDisabledError{Name: s.calleeName(function)}
	}
	inf := s.CurrentInferior()
	if inf == nil || inf.Pid == 0 || inf.Target == nil {
		return nil, ErrNoProcess
	}
	if s.traceFrame >= 0 {
		return nil, ErrTraceFrame
	}
	if s.direction == Reverse {
		return nil, ErrReverseCall
	}
	t, err := s.ensureStoppedThread()
	if err != nil {
		return nil, err
	}
	// The thread may exit during the call.
	t.IncRef()
	defer t.DecRef()

	funaddr, valuesType, ftype, err := findFunctionAddr(function)
	if err != nil {
		return nil, err
	}
	name := s.functionName(t.Inf, funaddr)
	if ftype != nil && ftype.NoCall {
		return nil, &NoCallError{Name: name}
	}
	if valuesType == nil {
		valuesType = defaultReturnType
	}
	if valuesType == nil {
		return nil, &UnknownReturnTypeError{Name: name}
	}
	if ftype != nil && len(args) < len(ftype.Params) {
		return nil, ErrTooFewArguments
	}
	syms := t.Inf.Pspace.Symbols
	if syms == nil {
		return nil, fmt.Errorf("cannot call %s: no symbols loaded", name)
	}

	t.infcallDepth++
	defer func() {
		t.infcallDepth--
		if t.infcallDepth == 0 {
			t.stackTemporaries = nil
		}
	}()

	controlState := s.saveInfcallControlState(t)
	callerState, err := s.saveInfcallSuspendState(t)
	if err != nil {
		s.restoreInfcallControlState(t, controlState)
		return nil, err
	}
	pushed := false
	defer func() {
		if pushed {
			return
		}
		// Undo whatever was done to the thread before the call started.
		if err := s.restoreInfcallSuspendState(t, callerState); err != nil && logflags.Infcall() {
			logflags.InfcallLogger().Errorf("could not restore %v: %v", t, err)
		}
		s.restoreInfcallControlState(t, controlState)
	}()

	arch := t.Inf.Arch()
	oldSP := callerState.regs.SP()
	sp := arch.FrameAlign(oldSP - arch.RedZoneSize)
	if sp == oldSP {
		// Two calls at the same point must not get the same frame id.
		sp = arch.FrameAlign(oldSP - 1)
	}
	if low, ok := t.lowestStackTemporary(); ok && low < sp {
		sp = arch.FrameAlign(low)
	}

	retMethod := ReturnNormal
	if valuesType.Code != TypeVoid {
		switch {
		case arch.ReturnInFirstHiddenParam(s.lang, valuesType):
			retMethod = ReturnHiddenParam
		case arch.UsingStructReturn(valuesType):
			retMethod = ReturnStruct
		}
	}

	callEvent := InferiorCallEvent{PTID: t.PTID, Func: funaddr}
	s.Observers.InferiorCallPre.Notify(callEvent)
	defer s.Observers.InferiorCallPost.Notify(callEvent)

	if logflags.Infcall() {
		logflags.InfcallLogger().Debugf("calling %s at %#x on %v, sp=%#x return=%v", name, funaddr, t, sp, valuesType)
	}

	bpAddr := syms.EntryPoint()

	// Values of class type are kept on the stack, above the call frame,
	// even when returned in registers.
	var structAddr uint64
	if retMethod != ReturnNormal || valuesType.IsAggregate() {
		structAddr = reserveStackSpace(arch, valuesType, &sp)
	}

	newArgs := make([]*Value, len(args))
	var dtors []destructorInfo
	for i := len(args) - 1; i >= 0; i-- {
		var paramType *Type
		prototyped := false
		if ftype != nil {
			switch {
			case ftype.Target == nil && len(ftype.Params) == 0 && defaultReturnType != nil:
				// A function without debug information with its return
				// type given by the user: assume the arguments have the
				// right types.
				prototyped = true
			case i < len(ftype.Params):
				prototyped = ftype.Prototyped
			}
			if i < len(ftype.Params) {
				paramType = ftype.Params[i]
			}
		}
		v, err := s.coerceArgument(t, args[i], paramType, prototyped, &sp)
		if err != nil {
			return nil, err
		}
		newArgs[i] = v
		if paramType == nil {
			continue
		}

		info := s.lang.PassByReference(paramType)
		if !info.CopyConstructible {
			return nil, &ArgumentTypeError{Type: paramType, Reason: "is not copy constructible"}
		}
		if !info.Destructible {
			return nil, &ArgumentTypeError{Type: paramType, Reason: "is not destructible"}
		}
		if info.TriviallyCopyable {
			continue
		}

		// Pass a copy made on the stack.
		addr := reserveStackSpace(arch, paramType, &sp)
		t.pushStackTemporary(&Value{Type: paramType, Addr: addr})
		clonePtr := NewPointerValue(PointerTo(paramType), addr)
		if info.TriviallyCopyConstructible {
			if _, err := t.Inf.Target.WriteMemory(addr, args[i].Contents[:paramType.Size]); err != nil {
				return nil, err
			}
		} else {
			cctor := s.lang.CopyConstructor(paramType)
			if cctor == nil {
				return nil, &MissingSpecialFunctionError{Type: paramType, What: "copy constructor"}
			}
			if _, err := s.CallFunction(FunctionValue(cctor), []*Value{clonePtr, args[i]}, defaultReturnType); err != nil {
				return nil, err
			}
		}
		if !info.TriviallyDestructible {
			dtor := s.lang.Destructor(paramType)
			if dtor == nil {
				return nil, &MissingSpecialFunctionError{Type: paramType, What: "destructor"}
			}
			dtors = append([]destructorInfo{{fn: dtor, this: clonePtr}}, dtors...)
		}
		newArgs[i] = clonePtr
	}

	if retMethod == ReturnHiddenParam {
		newArgs = append([]*Value{NewPointerValue(PointerTo(valuesType), structAddr)}, newArgs...)
	}

	call := &DummyCall{
		Func:         funaddr,
		ReturnAddr:   bpAddr,
		Args:         newArgs,
		SP:           sp,
		ReturnMethod: retMethod,
		StructAddr:   structAddr,
	}
	sp, err = t.Inf.Target.PushDummyCall(t.PTID, call)
	if err != nil {
		return nil, fmt.Errorf("could not set up call to %s: %w", name, err)
	}
	// The callee returns to bpAddr, having popped the return address.
	dummyID := FrameID{StackAddr: sp + uint64(arch.PtrSize), CodeAddr: bpAddr}

	dummyBP, err := s.Breakpoints.SetMomentary(t.Inf, bpAddr, CallDummyBreakpoint, dummyID, t)
	if err != nil {
		return nil, err
	}
	if s.opts.UnwindOnTerminatingException {
		for _, n := range stdTerminateNames {
			if fn := syms.LookupFunc(n); fn != nil {
				termBP, err := s.Breakpoints.SetMomentary(t.Inf, fn.Entry, StdTerminateBreakpoint, FrameID{}, nil)
				if err != nil {
					s.Breakpoints.Delete(dummyBP)
					return nil, err
				}
				defer s.Breakpoints.Delete(termBP)
				break
			}
		}
	}

	s.pushDummyFrame(callerState, dummyID, t, dummyBP)
	pushed = true

	savedFSM := t.ReleaseFSM()
	st := &callState{
		name:       name,
		valuesType: valuesType,
		structRet:  retMethod != ReturnNormal,
		structAddr: structAddr,
	}
	fsm := &FSM{Kind: CallCommand, call: st}
	runErr := s.runInferiorCall(t, fsm, funaddr)

	if err := s.UpdateThreadList(); err != nil && logflags.Infcall() {
		logflags.InfcallLogger().Debugf("could not update thread list: %v", err)
	}

	if t.State != ThreadExited {
		if t.fsm != fsm {
			panic(fmt.Sprintf("internal error: %v lost its call state machine", t))
		}
		t.ReleaseFSM()
		if savedFSM != nil {
			t.SetFSM(savedFSM)
		}
		fsm.CleanUp(s, t)
		if fsm.Finished() {
			if err := s.popDummyFrame(dummyID, t); err != nil {
				s.discardInfcallControlState(controlState)
				return nil, err
			}
			s.restoreInfcallControlState(t, controlState)
			// The argument copies were constructed, destroy them even if
			// the value can't be read.
			dtorErr := s.callDestructors(dtors, defaultReturnType)
			if st.err != nil {
				if dtorErr != nil && logflags.Infcall() {
					logflags.InfcallLogger().Errorf("could not destroy the arguments of %s: %v", name, dtorErr)
				}
				return nil, st.err
			}
			if dtorErr != nil {
				return nil, dtorErr
			}
			if logflags.Infcall() {
				logflags.InfcallLogger().Debugf("%s returned %v", name, st.returnValue)
			}
			return st.returnValue, nil
		}
	} else if savedFSM != nil {
		savedFSM.CleanUp(s, t)
	}

	// The call did not complete. Unless the dummy frame is popped the
	// caller's stepping state is dropped: the thread is not where that
	// state was recorded anymore.
	abandon := func(kind CallAbandonKind) error {
		if kind != CallSignalUnwound && kind != CallTerminateUnwound {
			s.discardInfcallControlState(controlState)
		}
		err := &CallAbandonedError{Kind: kind, Name: name, Err: runErr}
		if logflags.Infcall() {
			logflags.InfcallLogger().Debugf("call abandoned: %v", kind)
		}
		return err
	}

	switch {
	case runErr != nil:
		return nil, abandon(CallErrorDuringCall)
	case t.Inf.Pid == 0:
		return nil, abandon(CallProgramExited)
	case t.State == ThreadExited:
		s.discardDummyFrame(dummyID, t)
		return nil, abandon(CallThreadExited)
	case s.current.thread != t:
		if s.stoppedByRandomSignal {
			return nil, abandon(CallSignalInOtherThread)
		}
		return nil, abandon(CallStoppedInOtherThread)
	}

	if s.stoppedByRandomSignal {
		if s.opts.UnwindOnSignal {
			sig := t.suspend.stopSignal
			if err := s.popDummyFrame(dummyID, t); err != nil {
				s.discardInfcallControlState(controlState)
				return nil, err
			}
			s.restoreInfcallControlState(t, controlState)
			return nil, &CallAbandonedError{Kind: CallSignalUnwound, Name: name, Signal: sig}
		}
		s.discardInfcallControlState(controlState)
		return nil, &CallAbandonedError{Kind: CallSignalled, Name: name, Signal: t.suspend.stopSignal}
	}
	if s.stopStackDummy == StopStdTerminate {
		if err := s.popDummyFrame(dummyID, t); err != nil {
			s.discardInfcallControlState(controlState)
			return nil, err
		}
		s.restoreInfcallControlState(t, controlState)
		return nil, abandon(CallTerminateUnwound)
	}
	// A breakpoint in the called function: the dummy frame stays so that
	// the user can look around and later pop it.
	return nil, abandon(CallStoppedAtBreakpoint)
}

// runInferiorCall resumes t at funaddr with fsm attached and waits until
// the call stops.
func (s *Session) runInferiorCall(t *Thread, fsm *FSM, funaddr uint64) error {
	wasRunning := t.State == ThreadRunning
	inInfcall := t.Control.InInfcall
	t.Control.InInfcall = true

	s.clearProceedStatus(t)
	t.SetFSM(fsm)
	t.Control.ProceedToFinish = true

	err := s.proceed(t, funaddr, SignalNone)
	if err == nil {
		_, err = s.waitForStop(t)
	}
	if logflags.Infcall() {
		logflags.InfcallLogger().Debugf("inferior call on %v stopped: finished=%v err=%v", t, fsm.Finished(), err)
	}
	// Stops that were not reported left the threads marked running.
	if !wasRunning && t.Inf.Target != nil && t.Inf.Pid != 0 {
		s.FinishThreadState(t.Inf.Target, s.resumePTID(t))
	}
	if t.State != ThreadExited {
		t.Control.InInfcall = inInfcall
		if err != nil {
			t.Control.StopBpstat = nil
		}
	}
	return err
}

func (s *Session) callShouldStop(f *FSM, t *Thread, ev *StopEvent) bool {
	if ev.StopStackDummy == StopStackDummyHit {
		f.setFinished()
		// Read the value before the dummy frame is popped and the
		// registers restored.
		f.call.returnValue, f.call.err = s.callReturnValue(t, f.call)
	}
	return true
}

func (s *Session) callShouldNotifyStop(f *FSM, ev *StopEvent) bool {
	switch {
	case f.Finished():
		return false
	case ev.StoppedByRandomSignal && s.opts.UnwindOnSignal:
		return false
	case ev.StopStackDummy == StopStdTerminate && s.opts.UnwindOnTerminatingException:
		return false
	}
	return true
}

// callReturnValue reads the value returned by a call that just returned
// to its dummy frame.
func (s *Session) callReturnValue(t *Thread, st *callState) (*Value, error) {
	typ := st.valuesType
	if typ.Code == TypeVoid {
		return &Value{Type: typ}, nil
	}
	mem := t.Inf.memory()
	if st.structRet {
		v, err := ValueAt(mem, typ, st.structAddr)
		if err != nil {
			return nil, err
		}
		t.pushStackTemporary(v)
		return v, nil
	}
	regs, err := t.Inf.Target.ReadRegisters(t.PTID)
	if err != nil {
		return nil, err
	}
	v, err := t.Inf.Arch().ReturnValue(typ, regs, mem, 0)
	if err != nil {
		return nil, err
	}
	if typ.IsAggregate() && st.structAddr != 0 {
		// Class values live in memory, like in the program.
		if _, err := t.Inf.Target.WriteMemory(st.structAddr, v.Contents); err != nil {
			return nil, err
		}
		v.Addr = st.structAddr
		t.pushStackTemporary(v)
	}
	return v, nil
}

// callDestructors destroys the copies of arguments passed by value, in
// reverse construction order.
func (s *Session) callDestructors(dtors []destructorInfo, defaultReturnType *Type) error {
	for _, d := range dtors {
		if _, err := s.CallFunction(FunctionValue(d.fn), []*Value{d.this}, defaultReturnType); err != nil {
			return err
		}
	}
	return nil
}

// findFunctionAddr returns the address of the function designated by v,
// the type it returns and its function type. The return type is nil when
// unknown, the function type is nil for plain addresses.
func findFunctionAddr(v *Value) (uint64, *Type, *Type, error) {
	ft := v.Type
	if ft == nil {
		return 0, nil, nil, ErrInvalidFunction
	}
	switch ft.Code {
	case TypeFunc:
		return v.Addr, ft.Target, ft, nil
	case TypePtr:
		if ft.Target != nil && ft.Target.Code == TypeFunc {
			return v.Uint64(), ft.Target.Target, ft.Target, nil
		}
		return v.Uint64(), nil, nil, nil
	case TypeInt, TypeChar:
		// Functions without debug information look like chars.
		if ft.Size == 1 && v.Addr != 0 {
			return v.Addr, nil, nil, nil
		}
		return v.Uint64(), nil, nil, nil
	}
	return 0, nil, nil, ErrInvalidFunction
}

func (s *Session) functionName(inf *Inferior, addr uint64) string {
	if fn := inf.Pspace.pcToFunc(addr); fn != nil {
		return fn.Name
	}
	return fmt.Sprintf("at %#x", addr)
}

func (s *Session) calleeName(v *Value) string {
	inf := s.CurrentInferior()
	if addr, _, _, err := findFunctionAddr(v); err == nil && inf != nil {
		return s.functionName(inf, addr)
	}
	return v.Type.String()
}

// reserveStackSpace makes room for a value of type typ below *sp and
// returns its address.
func reserveStackSpace(arch *Arch, typ *Type, sp *uint64) uint64 {
	*sp = arch.FrameAlign(*sp - uint64(typ.Size))
	return *sp
}

// coerceArgument converts arg to the type the callee expects for a
// parameter of type paramType, nil when the parameter is not declared.
// Values that must be passed by address are copied to the stack below
// *sp first.
func (s *Session) coerceArgument(t *Thread, arg *Value, paramType *Type, prototyped bool, sp *uint64) (*Value, error) {
	argType := arg.Type
	typ := paramType
	if typ == nil {
		typ = argType
	}
	if arg.Addr == 0 && argType.Code == TypeArray {
		addr := reserveStackSpace(t.Inf.Arch(), argType, sp)
		if _, err := t.Inf.Target.WriteMemory(addr, arg.Contents); err != nil {
			return nil, err
		}
		arg = &Value{Type: argType, Addr: addr, Contents: arg.Contents}
		t.pushStackTemporary(arg)
	}

	switch typ.Code {
	case TypeRef, TypeRvalueRef:
		if argType.IsReference() {
			return castValue(arg, typ)
		}
		v, err := castValue(arg, typ.Target)
		if err != nil {
			return nil, err
		}
		return castValue(v, typ)
	case TypeInt, TypeChar, TypeBool, TypeEnum:
		// Integers are passed at least as wide as int.
		if typ.Size < IntType.Size {
			typ = IntType
		}
	case TypeFloat:
		if !prototyped && s.opts.CoerceFloatToDouble {
			switch {
			case typ.Size < DoubleType.Size:
				typ = DoubleType
			case typ.Size > DoubleType.Size:
				typ = LongDoubleType
			}
		}
	case TypeFunc:
		typ = PointerTo(typ)
	case TypeArray:
		if s.lang.CStyleArrays() && !typ.Vector {
			typ = PointerTo(typ.Target)
		}
	}
	return castValue(arg, typ)
}
