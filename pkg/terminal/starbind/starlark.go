// Package starbind makes the execution engine scriptable with starlark.
// Scripts drive the inferior through the same commands the terminal
// offers and read back frozen snapshots of the debugger state.
package starbind

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-delve/execctl/service/debugger"
)

const (
	commandPrefix = "command_"
	contextName   = "execctl_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
// It gives access to the debugger and to the commands of the terminal.
type Context interface {
	Debugger() *debugger.Debugger
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	SelectedFrame() int
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env starlark.StringDict
	doc map[string]string

	mu       sync.Mutex
	thread   *starlark.Thread
	cancelfn context.CancelFunc

	ctx Context
	out io.Writer
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark environment bound to ctx. Script output is
// written to out.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}
	env.defineTerminalBuiltins()
	env.defineStateBuiltins()
	env.defineExecBuiltins()
	return env
}

// define adds a builtin to the environment. Every builtin fails once the
// script has been cancelled and reports errors at the calling line.
func (env *Env) define(name, params, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		v, err := fn(thread, b, args, kwargs)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return v, nil
	})
	env.doc[name] = fmt.Sprintf("builtin %s(%s)\n\n%s %s", name, params, name, descr)
}

// Execute runs a script. Path names the script and source holds its text,
// as a string, a []byte or an io.Reader; when source is nil the file at
// path is read.
// After the script runs, the global function mainFnName, if the script
// defined one, is called with args.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
	defer func() {
		if ierr := recover(); ierr != nil {
			_err = fmt.Errorf("panic executing starlark script: %v", ierr)
			fmt.Fprintf(env.out, "%v\n%s", _err, debug.Stack())
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}
	env.exportGlobals(globals)
	if mainFnName == "" || globals[mainFnName] == nil {
		return starlark.None, nil
	}
	mainfn, ok := globals[mainFnName].(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		if argtuple[i], err = argValue(args[i]); err != nil {
			return starlark.None, err
		}
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

// exportGlobals keeps the globals whose name starts with a capital letter
// for later scripts and turns command_ functions into terminal commands.
func (env *Env) exportGlobals(globals starlark.StringDict) {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			if fn, ok := val.(*starlark.Function); ok {
				env.registerCommand(name[len(commandPrefix):], fn)
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
}

// registerCommand makes fn callable from the terminal. A function with a
// single parameter named args receives the command line verbatim, any
// other function receives the command line evaluated as a tuple.
func (env *Env) registerCommand(name string, fn *starlark.Function) {
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fn.NumParams() == 1 && paramName(fn, 0) == "args" {
		env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
			_, err := starlark.Call(env.newThread(), fn, starlark.Tuple{starlark.String(args)}, nil)
			return err
		})
		return
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fn, argtuple, nil)
		return err
	})
}

func paramName(fn *starlark.Function, i int) string {
	name, _ := fn.Param(i)
	return name
}

// Cancel cancels the script or command currently running.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	thread.SetLocal(contextName, ctx)
	env.mu.Lock()
	env.thread, env.cancelfn = thread, cancel
	env.mu.Unlock()
	return thread
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(contextName).(context.Context); ok {
		return ctx.Err()
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %w", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %w", pos.Filename(), pos.Line, err)
}
