package api

import (
	"github.com/go-delve/execctl/pkg/proc"
)

// ConvertBreakpoint converts from a proc.Breakpoint to
// an api.Breakpoint.
func ConvertBreakpoint(bp *proc.Breakpoint, syms proc.SymbolTable) *Breakpoint {
	b := &Breakpoint{
		ID:            bp.ID,
		Addr:          bp.Addr,
		TotalHitCount: uint64(bp.HitCount),
	}
	if syms != nil {
		if fn := syms.PCToFunc(bp.Addr); fn != nil {
			b.FunctionName = fn.Name
		}
		if li, ok := syms.PCToLine(bp.Addr); ok {
			b.File = li.File
			b.Line = li.Line
		}
	}
	return b
}

// ConvertThread converts a proc.Thread into an
// api thread. frame is the innermost frame of th, if known.
func ConvertThread(th *proc.Thread, frame *proc.Frame) *Thread {
	t := &Thread{
		ID:    th.GlobalNum,
		Pid:   th.PTID.Pid,
		Lwp:   th.PTID.Lwp,
		State: th.State.String(),
	}
	if frame != nil {
		t.PC = frame.PC
		if frame.HasLine {
			t.File = frame.Line.File
			t.Line = frame.Line.Line
		}
		t.Function = ConvertFunction(frame.Fn)
	}
	return t
}

// ConvertFunction converts from proc.Function to api.Function.
func ConvertFunction(fn *proc.Function) *Function {
	if fn == nil {
		return nil
	}
	return &Function{
		Name:    fn.Name,
		Entry:   fn.Entry,
		End:     fn.End,
		NoDebug: fn.NoDebug,
	}
}

// ConvertStackframe converts a frame of a proc stack trace.
func ConvertStackframe(fr proc.Frame) Stackframe {
	sf := Stackframe{
		Location: Location{PC: fr.PC, Function: ConvertFunction(fr.Fn)},
		Level:    fr.Level,
		Kind:     fr.Kind.String(),
		FrameID:  fr.ID.String(),
	}
	if fr.HasLine {
		sf.File = fr.Line.File
		sf.Line = fr.Line.Line
	}
	if fr.Inline != nil {
		sf.InlinedCall = fr.Inline.Name
	}
	return sf
}

// ConvertValue converts a value computed by the engine.
func ConvertValue(name string, v *proc.Value) *Variable {
	if v == nil {
		return nil
	}
	return &Variable{
		Name:  name,
		Addr:  v.Addr,
		Type:  v.Type.String(),
		Value: v.String(),
	}
}

// ConvertStopReport fills the stop related fields of state from r.
func ConvertStopReport(state *DebuggerState, r *proc.StopReport, syms proc.SymbolTable) {
	if r == nil {
		return
	}
	state.StopReason = r.Reason.String()
	switch r.Reason {
	case proc.ReasonExited, proc.ReasonExitedNormally:
		state.Exited = true
		state.ExitStatus = r.ExitCode
	case proc.ReasonExitedSignalled:
		state.Exited = true
		state.ExitStatus = -1
		state.Signal = r.Signal.String()
	case proc.ReasonSignalReceived:
		if r.Signal != proc.SignalNone {
			state.Signal = r.Signal.String()
		}
	}
	if r.Breakpoint != nil {
		state.Breakpoint = ConvertBreakpoint(r.Breakpoint, syms)
	}
	if r.ReturnValue != nil {
		state.ReturnValue = ConvertValue("", r.ReturnValue)
	}
	if r.Function != nil {
		state.Function = r.Function.Name
	}
}
