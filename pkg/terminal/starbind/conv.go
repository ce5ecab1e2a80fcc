package starbind

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/go-delve/execctl/service/api"
)

// Values handed to scripts are frozen structs: scripts read the state of
// the inferior, they change it only through the builtins.

func frozen(name string, fields starlark.StringDict) *starlarkstruct.Struct {
	s := starlarkstruct.FromStringDict(starlark.String(name), fields)
	s.Freeze()
	return s
}

func stateValue(state *api.DebuggerState) starlark.Value {
	if state == nil {
		return starlark.None
	}
	threads := make([]starlark.Value, len(state.Threads))
	for i, th := range state.Threads {
		threads[i] = threadValue(th)
	}
	return frozen("state", starlark.StringDict{
		"CurrentThread": threadValue(state.CurrentThread),
		"Threads":       frozenList(threads),
		"StopReason":    starlark.String(state.StopReason),
		"Breakpoint":    breakpointValue(state.Breakpoint),
		"Signal":        starlark.String(state.Signal),
		"ReturnValue":   variableValue(state.ReturnValue),
		"Function":      starlark.String(state.Function),
		"Exited":        starlark.Bool(state.Exited),
		"ExitStatus":    starlark.MakeInt(state.ExitStatus),
	})
}

func threadValue(th *api.Thread) starlark.Value {
	if th == nil {
		return starlark.None
	}
	return frozen("thread", starlark.StringDict{
		"ID":       starlark.MakeInt(th.ID),
		"Pid":      starlark.MakeInt(th.Pid),
		"Lwp":      starlark.MakeInt(th.Lwp),
		"State":    starlark.String(th.State),
		"PC":       starlark.MakeUint64(th.PC),
		"File":     starlark.String(th.File),
		"Line":     starlark.MakeInt(th.Line),
		"Function": functionValue(th.Function),
	})
}

func threadsValue(ths []*api.Thread) starlark.Value {
	r := make([]starlark.Value, len(ths))
	for i := range ths {
		r[i] = threadValue(ths[i])
	}
	return frozenList(r)
}

func breakpointValue(bp *api.Breakpoint) starlark.Value {
	if bp == nil {
		return starlark.None
	}
	return frozen("breakpoint", starlark.StringDict{
		"ID":            starlark.MakeInt(bp.ID),
		"Addr":          starlark.MakeUint64(bp.Addr),
		"File":          starlark.String(bp.File),
		"Line":          starlark.MakeInt(bp.Line),
		"FunctionName":  starlark.String(bp.FunctionName),
		"TotalHitCount": starlark.MakeUint64(bp.TotalHitCount),
	})
}

func breakpointsValue(bps []*api.Breakpoint) starlark.Value {
	r := make([]starlark.Value, len(bps))
	for i := range bps {
		r[i] = breakpointValue(bps[i])
	}
	return frozenList(r)
}

func functionValue(fn *api.Function) starlark.Value {
	if fn == nil {
		return starlark.None
	}
	return frozen("function", starlark.StringDict{
		"Name":    starlark.String(fn.Name),
		"Entry":   starlark.MakeUint64(fn.Entry),
		"End":     starlark.MakeUint64(fn.End),
		"NoDebug": starlark.Bool(fn.NoDebug),
	})
}

func stackValue(frames []api.Stackframe) starlark.Value {
	r := make([]starlark.Value, len(frames))
	for i, fr := range frames {
		r[i] = frozen("frame", starlark.StringDict{
			"Level":       starlark.MakeInt(fr.Level),
			"Kind":        starlark.String(fr.Kind),
			"FrameID":     starlark.String(fr.FrameID),
			"InlinedCall": starlark.String(fr.InlinedCall),
			"PC":          starlark.MakeUint64(fr.PC),
			"File":        starlark.String(fr.File),
			"Line":        starlark.MakeInt(fr.Line),
			"Function":    functionValue(fr.Function),
		})
	}
	return frozenList(r)
}

func variableValue(v *api.Variable) starlark.Value {
	if v == nil {
		return starlark.None
	}
	return frozen("variable", starlark.StringDict{
		"Name":  starlark.String(v.Name),
		"Addr":  starlark.MakeUint64(v.Addr),
		"Type":  starlark.String(v.Type),
		"Value": starlark.String(v.Value),
	})
}

func frozenList(elems []starlark.Value) *starlark.List {
	l := starlark.NewList(elems)
	l.Freeze()
	return l
}

// argValue converts an argument passed to a script's main function.
func argValue(v interface{}) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case bool:
		return starlark.Bool(v), nil
	}
	return nil, fmt.Errorf("can not pass %T to a script", v)
}
