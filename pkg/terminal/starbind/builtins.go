package starbind

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/go-delve/execctl/service/api"
)

func (env *Env) defineTerminalBuiltins() {
	env.define("exec_command", "Command", "runs a terminal command, for example exec_command(\"next\"). When the program exits it returns the exit message.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		words := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of %s is not a string", b.Name())
			}
			words[i] = string(a)
		}
		err := env.ctx.CallCommand(strings.Join(words, " "))
		if err != nil && strings.Contains(err.Error(), " has exited with status ") {
			return starlark.String(err.Error()), nil
		}
		return starlark.None, err
	})

	env.define("read_file", "Path", "returns the contents of a file.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
			return nil, err
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return starlark.String(buf), nil
	})

	env.define("write_file", "Path, Text", "writes Text to a file.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			path string
			text starlark.Value
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &path, &text); err != nil {
			return nil, err
		}
		s, ok := starlark.AsString(text)
		if !ok {
			s = text.String()
		}
		return starlark.None, os.WriteFile(path, []byte(s), 0640)
	})

	env.define("cur_frame", "", "returns the level of the selected frame.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return starlark.MakeInt(env.ctx.SelectedFrame()), nil
	})

	env.define("help", "Object", "prints the documentation of Object, or lists the builtins.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var obj starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &obj); err != nil {
			return nil, err
		}
		switch x := obj.(type) {
		case nil:
			names := make([]string, 0, len(env.doc))
			for name := range env.doc {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(env.out, "Available builtins:\n\t%s\n", strings.Join(names, "\n\t"))
		case *starlark.Builtin:
			if doc := env.doc[x.Name()]; doc != "" {
				fmt.Fprintln(env.out, doc)
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %s\n", obj.Type())
		}
		return starlark.None, nil
	})
}

func (env *Env) defineStateBuiltins() {
	env.define("state", "", "returns the current debugger state.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		state, err := env.ctx.Debugger().State()
		if err != nil {
			return nil, err
		}
		return stateValue(state), nil
	})

	env.define("threads", "", "lists the threads of the program.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		ths, err := env.ctx.Debugger().Threads()
		if err != nil {
			return nil, err
		}
		return threadsValue(ths), nil
	})

	env.define("breakpoints", "", "lists the user breakpoints.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		return breakpointsValue(env.ctx.Debugger().Breakpoints()), nil
	})

	env.define("create_breakpoint", "Location", "sets a breakpoint at Location, see \"help break\" for the syntax.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var loc string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "Location", &loc); err != nil {
			return nil, err
		}
		bp, err := env.ctx.Debugger().CreateBreakpoint(loc)
		if err != nil {
			return nil, err
		}
		return breakpointValue(bp), nil
	})

	env.define("clear_breakpoint", "Id", "deletes breakpoint Id.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var id int
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "Id", &id); err != nil {
			return nil, err
		}
		bp, err := env.ctx.Debugger().ClearBreakpoint(id)
		if err != nil {
			return nil, err
		}
		return breakpointValue(bp), nil
	})

	env.define("stacktrace", "Depth", "returns up to Depth frames of the current thread.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		depth := 50
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "Depth?", &depth); err != nil {
			return nil, err
		}
		frames, err := env.ctx.Debugger().Stacktrace(depth)
		if err != nil {
			return nil, err
		}
		return stackValue(frames), nil
	})

	env.define("find_location", "Location", "returns the address of Location.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var loc string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "Location", &loc); err != nil {
			return nil, err
		}
		addr, err := env.ctx.Debugger().FindLocation(loc)
		if err != nil {
			return nil, err
		}
		return starlark.MakeUint64(addr), nil
	})
}

// execBuiltins are the shorthands for the execution commands. Each one
// takes at most one argument, named after the DebuggerCommand field it
// fills, and returns the state the program stopped in.
var execBuiltins = []struct {
	name, cmd, rcmd string
	param           string
	descr           string
}{
	{"cont", api.Continue, api.Rewind, "", "resumes the program until something stops it."},
	{"step", api.Step, api.ReverseStep, "Count?", "runs Count source lines, entering calls."},
	{"next", api.Next, api.ReverseNext, "Count?", "runs Count source lines, stepping over calls."},
	{"stepi", api.StepInstruction, api.ReverseStepInstruction, "Count?", "runs Count instructions."},
	{"nexti", api.NextInstruction, "", "Count?", "runs Count instructions, stepping over calls."},
	{"finish", api.StepOut, api.ReverseStepOut, "", "runs until the selected frame returns."},
	{"until", api.Until, "", "Location?", "runs until a line greater than the current one, or until Location in the current frame."},
	{"advance", api.Advance, "", "Location", "runs until Location is reached in any frame."},
	{"call", api.Call, "", "Expr", "calls a function in the program, for example call(\"square(3)\"). The result is in ReturnValue."},
	{"pop_dummy_frame", api.PopDummyFrame, "", "", "abandons the innermost function call left on the stack."},
}

func (env *Env) defineExecBuiltins() {
	env.define("command", "Name, ThreadID, Count, Location, Expr", "runs an execution command, for example command(\"next\", Count=2), and returns the new state.", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var cmd api.DebuggerCommand
		err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"Name", &cmd.Name,
			"ThreadID?", &cmd.ThreadID,
			"Count?", &cmd.Count,
			"Location?", &cmd.Location,
			"Expr?", &cmd.Expr)
		if err != nil {
			return nil, err
		}
		return env.command(&cmd)
	})

	for _, eb := range execBuiltins {
		eb := eb
		params := eb.param
		if eb.rcmd != "" {
			params = strings.TrimPrefix(params+", Reverse?", ", ")
		}
		env.define(eb.name, strings.ReplaceAll(params, "?", ""), eb.descr, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			cmd := api.DebuggerCommand{Name: eb.cmd}
			var reverse bool
			var pairs []interface{}
			switch strings.TrimSuffix(eb.param, "?") {
			case "Count":
				pairs = append(pairs, eb.param, &cmd.Count)
			case "Location":
				pairs = append(pairs, eb.param, &cmd.Location)
			case "Expr":
				pairs = append(pairs, eb.param, &cmd.Expr)
			}
			if eb.rcmd != "" {
				pairs = append(pairs, "Reverse?", &reverse)
			}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, pairs...); err != nil {
				return nil, err
			}
			if reverse {
				cmd.Name = eb.rcmd
			}
			return env.command(&cmd)
		})
	}
}

func (env *Env) command(cmd *api.DebuggerCommand) (starlark.Value, error) {
	state, err := env.ctx.Debugger().Command(cmd)
	if err != nil {
		return nil, err
	}
	return stateValue(state), nil
}
