package proc

import (
	"errors"
	"fmt"
)

var (
	ErrNoProcess          = errors.New("the program is not being run")
	ErrNoThreadSelected   = errors.New("no thread selected")
	ErrThreadExited       = errors.New("the current thread has exited")
	ErrThreadRunning      = errors.New("selected thread is running")
	ErrTraceFrame         = errors.New("may not call functions while looking at trace frames")
	ErrReverseCall        = errors.New("cannot call functions in reverse mode")
	ErrReverseUnsupported = errors.New("target does not support reverse execution")
	ErrTooFewArguments    = errors.New("too few arguments in function call")
	ErrOutermostFrame     = errors.New("\"finish\" not meaningful in the outermost frame")
	ErrNoCallerFrame      = errors.New("cannot find the caller frame")
	ErrNoFunctionBounds   = errors.New("cannot find bounds of current function")
	ErrNotInFunction      = errors.New("execution is not within a known function")
	ErrNoResumed          = errors.New("no unwaited-for children left")
	ErrNoDummyFrame       = errors.New("no dummy frame to pop")
	ErrInvalidFunction    = errors.New("invalid data type for function to be called")
)

// CallsDisabledError is returned when function calls are disabled.
type CallsDisabledError struct {
	Name string
}

func (err *CallsDisabledError) Error() string {
	return fmt.Sprintf("cannot call function %s: calling functions in the program is disabled", err.Name)
}

// NoCallError is returned for functions that do not follow the platform
// calling convention.
type NoCallError struct {
	Name string
}

func (err *NoCallError) Error() string {
	return fmt.Sprintf("cannot call the function '%s' which does not follow the target calling convention", err.Name)
}

// UnknownReturnTypeError is returned when calling a function without debug
// information without saying what it returns.
type UnknownReturnTypeError struct {
	Name string
}

func (err *UnknownReturnTypeError) Error() string {
	return fmt.Sprintf("'%s' has unknown return type; cast the call to its declared return type", err.Name)
}

// ArgumentTypeError is returned when an argument can not be passed to the
// called function.
type ArgumentTypeError struct {
	Type   *Type
	Reason string
}

func (err *ArgumentTypeError) Error() string {
	return fmt.Sprintf("expression cannot be evaluated because the type '%s' %s", err.Type, err.Reason)
}

// MissingSpecialFunctionError is returned when the copy constructor or the
// destructor of an argument type is required but can not be found.
type MissingSpecialFunctionError struct {
	Type *Type
	What string
}

func (err *MissingSpecialFunctionError) Error() string {
	return fmt.Sprintf("expression cannot be evaluated because a %s for the type '%s' could not be found (maybe inlined?)", err.What, err.Type)
}

// CallAbandonKind says why a function call did not complete.
type CallAbandonKind uint8

const (
	// CallErrorDuringCall: the engine itself failed while the call ran.
	CallErrorDuringCall CallAbandonKind = iota
	CallProgramExited
	CallThreadExited
	CallSignalInOtherThread
	CallStoppedInOtherThread
	// CallSignalUnwound: a signal arrived and the dummy frame was popped.
	CallSignalUnwound
	// CallSignalled: a signal arrived and the program was left in the
	// called function.
	CallSignalled
	CallTerminateUnwound
	// CallStoppedAtBreakpoint: a breakpoint was hit, the program was left
	// in the called function.
	CallStoppedAtBreakpoint
)

// CallAbandonedError is returned when the called function did not return
// normally. Depending on Kind the program was either restored to the state
// before the call or left inside the called function, with the dummy frame
// still on its stack.
type CallAbandonedError struct {
	Kind   CallAbandonKind
	Name   string
	Signal Signal
	Err    error
}

func (err *CallAbandonedError) Error() string {
	switch err.Kind {
	case CallErrorDuringCall:
		return fmt.Sprintf("%v\nAn error occurred while in a function called from the debugger.\nEvaluation of the expression containing the function\n(%s) will be abandoned.\nWhen the function is done executing, the debugger will silently stop it.", err.Err, err.Name)
	case CallProgramExited:
		return fmt.Sprintf("the program being debugged exited while in a function called from the debugger.\nEvaluation of the expression containing the function\n(%s) will be abandoned.", err.Name)
	case CallThreadExited:
		return fmt.Sprintf("the thread being debugged exited while in a function called from the debugger.\nEvaluation of the expression containing the function\n(%s) will be abandoned.", err.Name)
	case CallSignalInOtherThread:
		return fmt.Sprintf("the program being debugged was signaled while in a function called from the debugger.\nThe debugger remains in the frame where the signal was received.\nEvaluation of the expression containing the function\n(%s) will be abandoned.\nWhen the function is done executing, the debugger will silently stop it.", err.Name)
	case CallStoppedInOtherThread:
		return fmt.Sprintf("the program being debugged stopped while in a function called from the debugger.\nEvaluation of the expression containing the function\n(%s) will be abandoned.\nWhen the function is done executing, the debugger will silently stop it.", err.Name)
	case CallSignalUnwound:
		return fmt.Sprintf("the program being debugged was signaled while in a function called from the debugger.\nThe debugger has restored the context to what it was before the call.\nEvaluation of the expression containing the function\n(%s) will be abandoned.\nSignal %v, %s.", err.Name, err.Signal, err.Signal.Description())
	case CallSignalled:
		return fmt.Sprintf("the program being debugged was signaled while in a function called from the debugger.\nThe debugger remains in the frame where the signal was received.\nEvaluation of the expression containing the function\n(%s) will be abandoned.\nWhen the function is done executing, the debugger will silently stop it.", err.Name)
	case CallTerminateUnwound:
		return fmt.Sprintf("the program being debugged entered a std::terminate call, most likely\ncaused by an unhandled C++ exception. The debugger blocked this call in order\nto prevent the program from being terminated, and has restored the context\nto its original state.\nEvaluation of the expression containing the function\n(%s) will be abandoned.", err.Name)
	case CallStoppedAtBreakpoint:
		return fmt.Sprintf("the program being debugged stopped while in a function called from the debugger.\nEvaluation of the expression containing the function\n(%s) will be abandoned.\nWhen the function is done executing, the debugger will silently stop it.", err.Name)
	}
	return fmt.Sprintf("call to %s abandoned", err.Name)
}

func (err *CallAbandonedError) Unwrap() error { return err.Err }

// Unwound returns true if the program was restored to the state it was in
// before the call.
func (err *CallAbandonedError) Unwound() bool {
	return err.Kind == CallSignalUnwound || err.Kind == CallTerminateUnwound
}

// BreakpointExistsError is returned when a user breakpoint is set twice at
// the same address.
type BreakpointExistsError struct {
	Addr uint64
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("Breakpoint exists at %#x", bpe.Addr)
}

// NoBreakpointError is returned when trying to clear a breakpoint that
// does not exist.
type NoBreakpointError struct {
	Addr uint64
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint at %#x", nbp.Addr)
}
