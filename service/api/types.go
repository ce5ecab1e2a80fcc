package api

import (
	"fmt"
)

// DebuggerState represents the current context of the debugger.
type DebuggerState struct {
	// CurrentThread is the currently selected debugger thread.
	CurrentThread *Thread `json:"currentThread,omitempty"`
	// Threads lists all live threads of the program.
	Threads []*Thread `json:"threads,omitempty"`
	// StopReason says why the program last stopped, see proc.AsyncReason.
	StopReason string `json:"stopReason,omitempty"`
	// Breakpoint is the user breakpoint the program stopped at, if any.
	Breakpoint *Breakpoint `json:"breakPoint,omitempty"`
	// Signal is the signal the program stopped or terminated with.
	Signal string `json:"signal,omitempty"`
	// ReturnValue is the value returned by the function a finish or call
	// command returned from.
	ReturnValue *Variable `json:"returnValue,omitempty"`
	// Function is the function a finish command returned from.
	Function string `json:"function,omitempty"`
	// Exited indicates whether the debugged process has exited.
	Exited     bool `json:"exited"`
	ExitStatus int  `json:"exitStatus"`

	// Filled by Debugger.Command, indicates an error
	Err error `json:"-"`
}

// Breakpoint addresses a location at which process execution may be
// suspended.
type Breakpoint struct {
	// ID is a unique identifier for the breakpoint.
	ID int `json:"id"`
	// Addr is the address of the breakpoint.
	Addr uint64 `json:"addr"`
	// File is the source file for the breakpoint.
	File string `json:"file"`
	// Line is a line in File for the breakpoint.
	Line int `json:"line"`
	// FunctionName is the name of the function at the current breakpoint, and
	// may not always be available.
	FunctionName string `json:"functionName,omitempty"`
	// number of times a breakpoint has been reached
	TotalHitCount uint64 `json:"totalHitCount"`
}

// Thread is a thread within the debugged process.
type Thread struct {
	// ID is the global number of the thread.
	ID int `json:"id"`
	// Pid and Lwp identify the thread to the target.
	Pid int `json:"pid"`
	Lwp int `json:"lwp"`
	// State is the user visible state: stopped, running or exited.
	State string `json:"state"`
	// PC is the current program counter for the thread.
	PC uint64 `json:"pc"`
	// File is the file for the program counter.
	File string `json:"file"`
	// Line is the line number for the program counter.
	Line int `json:"line"`
	// Function is function information at the program counter. May be nil.
	Function *Function `json:"function,omitempty"`
}

// Location holds program location information.
type Location struct {
	PC       uint64    `json:"pc"`
	File     string    `json:"file"`
	Line     int       `json:"line"`
	Function *Function `json:"function,omitempty"`
}

// Stackframe describes one frame in a stack trace.
type Stackframe struct {
	Location
	Level int `json:"level"`
	// Kind is normal, inline or dummy.
	Kind string `json:"kind"`
	// FrameID identifies the frame across stops.
	FrameID string `json:"frameID"`
	// InlinedCall is the name of the inlined function an inline frame
	// executes.
	InlinedCall string `json:"inlinedCall,omitempty"`
}

// Function represents thread-scoped function information.
type Function struct {
	// Name is the function name.
	Name  string `json:"name"`
	Entry uint64 `json:"entry"`
	End   uint64 `json:"end"`
	// NoDebug is true for functions without line information.
	NoDebug bool `json:"noDebug,omitempty"`
}

// Variable is a value computed by the debugger, usually the return value
// of a function.
type Variable struct {
	Name  string `json:"name"`
	Addr  uint64 `json:"addr"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DebuggerCommand is a command which changes the debugger's execution state.
type DebuggerCommand struct {
	// Name is the command to run.
	Name string `json:"name"`
	// ThreadID is used to specify which thread to use with the SwitchThread
	// command.
	ThreadID int `json:"threadID,omitempty"`
	// Count repeats stepping commands.
	Count int `json:"count,omitempty"`
	// Location is the target of Until and Advance.
	Location string `json:"location,omitempty"`
	// Expr is the function call expression for Call.
	Expr string `json:"expr,omitempty"`
}

const (
	// Continue resumes process execution.
	Continue = "continue"
	// Rewind resumes process execution backwards.
	Rewind = "rewind"
	// Step continues to next source line, entering function calls.
	Step = "step"
	// ReverseStep continues backward to the previous line of source code,
	// entering function calls.
	ReverseStep = "reverseStep"
	// Next continues to the next source line, not entering function calls.
	Next = "next"
	// ReverseNext continues backward to the previous line of source code, not
	// entering function calls.
	ReverseNext = "reverseNext"
	// StepOut continues to the return address of the selected function.
	StepOut = "stepOut"
	// ReverseStepOut continues backward to the call of the selected function.
	ReverseStepOut = "reverseStepOut"
	// StepInstruction steps a single cpu instruction.
	StepInstruction = "stepInstruction"
	// ReverseStepInstruction steps backwards a single cpu instruction.
	ReverseStepInstruction = "reverseStepInstruction"
	// NextInstruction steps a single cpu instruction, stepping over calls.
	NextInstruction = "nextInstruction"
	// Until runs to a line greater than the current one, or to Location.
	Until = "until"
	// Advance runs to Location, in any frame.
	Advance = "advance"
	// SwitchThread switches the debugger's current thread context.
	SwitchThread = "switchThread"
	// Call calls a function in the program.
	Call = "call"
	// PopDummyFrame abandons the innermost function call left on the stack
	// of the current thread.
	PopDummyFrame = "popDummyFrame"
)

// IsReverse returns true if the command runs the program backwards.
func (cmd *DebuggerCommand) IsReverse() bool {
	switch cmd.Name {
	case Rewind, ReverseStep, ReverseNext, ReverseStepOut, ReverseStepInstruction:
		return true
	}
	return false
}

func (bp *Breakpoint) String() string {
	if bp.FunctionName != "" && bp.File != "" {
		return fmt.Sprintf("Breakpoint %d at %#x for %s() %s:%d", bp.ID, bp.Addr, bp.FunctionName, bp.File, bp.Line)
	}
	return fmt.Sprintf("Breakpoint %d at %#x", bp.ID, bp.Addr)
}
