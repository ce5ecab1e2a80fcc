// Package terminal implements functions for responding to user
// input and dispatching to appropriate debugger commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-delve/execctl/service/api"
)

type cmdPrefix int

const (
	noPrefix  = cmdPrefix(0)
	revPrefix = cmdPrefix(1 << iota)
)

type callContext struct {
	Prefix cmdPrefix
}

type frameDirection int

const (
	frameSet frameDirection = iota
	frameUp
	frameDown
)

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases         []string
	builtinAliases  []string
	group           commandGroup
	allowedPrefixes cmdPrefix
	helpMsg         string
	cmdFn           cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the execctl terminal.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <location>

Locations are:

	*<address>		an address
	<function>:<line>	a line of a function
	<line>			a line of the function of the selected frame
	+<offset>, -<offset>	a line relative to the selected frame
	<function>		the entry point of a function
	<label>			any other symbol of the program`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clearCmd, helpMsg: `Deletes breakpoint.

	clear <breakpoint id>`},
		{aliases: []string{"clearall"}, group: breakCmds, cmdFn: clearAll, helpMsg: `Deletes all breakpoints.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"restart", "r"}, group: runCmds, cmdFn: restart, helpMsg: `Restart process.

	restart [args...]

Breakpoints are kept. New arguments replace the old ones.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: c.cont, allowedPrefixes: revPrefix, helpMsg: `Run until breakpoint or program termination.

	continue [<location>]

Optional location stops the program there, like a temporary breakpoint.`},
		{aliases: []string{"rewind", "rw"}, group: runCmds, cmdFn: c.rewind, helpMsg: "Run backwards until breakpoint or the start of the recorded history."},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: c.step, allowedPrefixes: revPrefix, helpMsg: `Single step through program.

	step [count]`},
		{aliases: []string{"step-instruction", "si", "stepi"}, group: runCmds, allowedPrefixes: revPrefix, cmdFn: c.stepInstruction, helpMsg: `Single step a single cpu instruction.

	step-instruction [count]`},
		{aliases: []string{"next-instruction", "ni", "nexti"}, group: runCmds, cmdFn: c.nextInstruction, helpMsg: `Single step a single cpu instruction, stepping over calls.

	next-instruction [count]`},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: c.next, allowedPrefixes: revPrefix, helpMsg: `Step over to next source line.

	next [count]`},
		{aliases: []string{"stepout", "so", "finish"}, group: runCmds, allowedPrefixes: revPrefix, cmdFn: c.stepout, helpMsg: "Step out of the current function."},
		{aliases: []string{"until", "u"}, group: runCmds, cmdFn: c.until, helpMsg: `Run until a source line greater than the current one is reached, or location.

	until [<location>]

Without a location, stepping does not go backward in loops. With a
location, the program stops there or when the current function returns.`},
		{aliases: []string{"advance"}, group: runCmds, cmdFn: c.advance, helpMsg: `Run until location is reached or the current function returns.

	advance <location>`},
		{aliases: []string{"call"}, group: runCmds, cmdFn: c.call, helpMsg: `Calls a function of the program.

	call <function>(<args...>)

Arguments are integer or floating point constants, true, false, or the
names of functions and symbols. Wrap the call in a type conversion to
call a function without debug information, for example call long(fn()).`},
		{aliases: []string{"popcall"}, group: runCmds, cmdFn: c.popCall, helpMsg: `Abandons the function call that stopped in the middle.

Restores the state the thread had before the call.`},
		{aliases: []string{"rev"}, group: runCmds, cmdFn: c.revCmd, helpMsg: `Reverses the execution of the target program for the command specified.
Currently, only the rev step-instruction, rev step, rev next, rev stepout and rev continue commands are supported.`},
		{aliases: []string{"threads"}, group: threadCmds, cmdFn: threads, helpMsg: "Print out info for every traced thread."},
		{aliases: []string{"thread", "tr"}, group: threadCmds, cmdFn: thread, helpMsg: `Switch to the specified thread.

	thread <id>`},
		{aliases: []string{"stack", "bt"}, group: stackCmds, cmdFn: stackCommand, helpMsg: `Print stack trace.

	stack [<depth>]`},
		{aliases: []string{"frame"}, group: stackCmds, cmdFn: func(t *Term, ctx callContext, arg string) error {
			return c.frameCommand(t, ctx, arg, frameSet)
		}, helpMsg: `Set the current frame.

	frame <m>`},
		{aliases: []string{"up"}, group: stackCmds, cmdFn: func(t *Term, ctx callContext, arg string) error {
			return c.frameCommand(t, ctx, arg, frameUp)
		}, helpMsg: `Move the current frame up.

	up [<m>]`},
		{aliases: []string{"down"}, group: stackCmds, cmdFn: func(t *Term, ctx callContext, arg string) error {
			return c.frameCommand(t, ctx, arg, frameDown)
		}, helpMsg: `Move the current frame down.

	down [<m>]`},
		{aliases: []string{"args"}, cmdFn: argsCommand, helpMsg: "Print the program's arguments."},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of execctl commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the debugger."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string, prefix cmdPrefix) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			if prefix != noPrefix && v.allowedPrefixes&prefix == 0 {
				continue
			}
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname, ctx.Prefix)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	return c.CallWithContext(cmdstr, t, callContext{Prefix: noPrefix})
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

type byThreadID []*api.Thread

func (a byThreadID) Len() int           { return len(a) }
func (a byThreadID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byThreadID) Less(i, j int) bool { return a[i].ID < a[j].ID }

func threads(t *Term, ctx callContext, args string) error {
	threads, err := t.debugger.Threads()
	if err != nil {
		return err
	}
	state, err := t.debugger.State()
	if err != nil {
		return err
	}
	sort.Sort(byThreadID(threads))
	for _, th := range threads {
		prefix := "  "
		if state.CurrentThread != nil && state.CurrentThread.ID == th.ID {
			prefix = "* "
		}
		fmt.Fprintf(t.stdout, "%s%s\n", prefix, formatThread(th))
	}
	return nil
}

func thread(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("you must specify a thread")
	}
	tid, err := strconv.Atoi(args)
	if err != nil {
		return err
	}
	oldState, err := t.debugger.State()
	if err != nil {
		return err
	}
	newState, err := t.debugger.Command(&api.DebuggerCommand{Name: api.SwitchThread, ThreadID: tid})
	if err != nil {
		return err
	}

	oldThread := "<none>"
	newThread := "<none>"
	if oldState.CurrentThread != nil {
		oldThread = strconv.Itoa(oldState.CurrentThread.ID)
	}
	if newState.CurrentThread != nil {
		newThread = strconv.Itoa(newState.CurrentThread.ID)
	}
	fmt.Fprintf(t.stdout, "Switched from %s to %s\n", oldThread, newThread)
	return nil
}

func formatThread(th *api.Thread) string {
	if th == nil {
		return "<nil>"
	}
	if th.Function == nil {
		return fmt.Sprintf("Thread %d (%d.%d) %s at %#x", th.ID, th.Pid, th.Lwp, th.State, th.PC)
	}
	return fmt.Sprintf("Thread %d (%d.%d) %s at %#x %s:%d %s", th.ID, th.Pid, th.Lwp, th.State, th.PC, th.File, th.Line, th.Function.Name)
}

func (c *Commands) frameCommand(t *Term, ctx callContext, argstr string, direction frameDirection) error {
	frame := 1
	if len(argstr) == 0 {
		if direction == frameSet {
			return errors.New("not enough arguments")
		}
	} else {
		var err error
		if frame, err = strconv.Atoi(argstr); err != nil {
			return err
		}
	}
	switch direction {
	case frameUp:
		frame = t.debugger.SelectedFrameLevel() + frame
	case frameDown:
		frame = t.debugger.SelectedFrameLevel() - frame
	}
	if frame < 0 {
		return fmt.Errorf("invalid frame %d", frame)
	}
	sf, err := t.debugger.SelectFrame(frame)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Frame %d: %s\n", frame, formatLocation(sf))
	return nil
}

func formatLocation(sf *api.Stackframe) string {
	fname := "?"
	if sf.Function != nil {
		fname = sf.Function.Name
	}
	switch {
	case sf.Kind == "dummy":
		return fmt.Sprintf("<function called from execctl> (PC: %#x)", sf.PC)
	case sf.File == "":
		return fmt.Sprintf("%s() (PC: %#x)", fname, sf.PC)
	}
	return fmt.Sprintf("%s() %s:%d (PC: %#x)", fname, sf.File, sf.Line, sf.PC)
}

func stackCommand(t *Term, ctx callContext, args string) error {
	depth := 50
	if args != "" {
		var err error
		if depth, err = strconv.Atoi(args); err != nil || depth <= 0 {
			return fmt.Errorf("invalid depth %q", args)
		}
	}
	frames, err := t.debugger.Stacktrace(depth)
	if err != nil {
		return err
	}
	selected := t.debugger.SelectedFrameLevel()
	for i := range frames {
		prefix := "  "
		if frames[i].Level == selected {
			prefix = "* "
		}
		fmt.Fprintf(t.stdout, "%s%d  %s", prefix, frames[i].Level, formatLocation(&frames[i]))
		if frames[i].InlinedCall != "" {
			fmt.Fprintf(t.stdout, " [inlined %s]", frames[i].InlinedCall)
		}
		fmt.Fprintln(t.stdout)
	}
	return nil
}

func argsCommand(t *Term, ctx callContext, args string) error {
	str, argv, err := t.debugger.Args()
	if err != nil {
		return err
	}
	if str == "" {
		fmt.Fprintln(t.stdout, "(no arguments)")
		return nil
	}
	for i, arg := range argv {
		fmt.Fprintf(t.stdout, "argv[%d] = %q\n", i+1, arg)
	}
	return nil
}

func restart(t *Term, ctx callContext, args string) error {
	if args != "" {
		if err := t.debugger.SetArgs(args); err != nil {
			return err
		}
	}
	if err := t.debugger.Restart(); err != nil {
		return err
	}
	t.printedOutput = 0
	fmt.Fprintf(t.stdout, "Process restarted with PID %d\n", t.debugger.ProcessPid())
	return nil
}

func exitedToError(state *api.DebuggerState, err error) (*api.DebuggerState, error) {
	if err == nil && state.Exited {
		return nil, fmt.Errorf("process has exited with status %d", state.ExitStatus)
	}
	return state, err
}

// execute runs an execution command and prints where the program
// stopped.
func execute(t *Term, cmd *api.DebuggerCommand) error {
	state, err := exitedToError(t.debugger.Command(cmd))
	if err != nil {
		t.flushOutput()
		return err
	}
	printcontext(t, state)
	return nil
}

func (c *Commands) cont(t *Term, ctx callContext, args string) error {
	if ctx.Prefix == revPrefix {
		return c.rewind(t, ctx, args)
	}
	if args != "" {
		bp, err := t.debugger.CreateBreakpoint(args)
		if err != nil {
			return err
		}
		defer func() {
			if _, err := t.debugger.ClearBreakpoint(bp.ID); err != nil {
				fmt.Fprintf(t.stdout, "failed to clear temporary breakpoint: %d", bp.ID)
			}
		}()
	}
	return execute(t, &api.DebuggerCommand{Name: api.Continue})
}

func (c *Commands) rewind(t *Term, ctx callContext, args string) error {
	return execute(t, &api.DebuggerCommand{Name: api.Rewind})
}

func parseOptionalCount(arg string) (int, error) {
	if arg == "" {
		return 1, nil
	}
	count, err := strconv.Atoi(arg)
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, fmt.Errorf("invalid count %d", count)
	}
	return count, nil
}

func steppingCommand(t *Term, name, args string) error {
	count, err := parseOptionalCount(args)
	if err != nil {
		return err
	}
	return execute(t, &api.DebuggerCommand{Name: name, Count: count})
}

var errNotOnFrameZero = errors.New("not on topmost frame")

func checkFrameZero(t *Term) error {
	if t.debugger.SelectedFrameLevel() != 0 {
		return errNotOnFrameZero
	}
	return nil
}

func (c *Commands) step(t *Term, ctx callContext, args string) error {
	name := api.Step
	if ctx.Prefix == revPrefix {
		name = api.ReverseStep
	}
	return steppingCommand(t, name, args)
}

func (c *Commands) stepInstruction(t *Term, ctx callContext, args string) error {
	if err := checkFrameZero(t); err != nil {
		return err
	}
	name := api.StepInstruction
	if ctx.Prefix == revPrefix {
		name = api.ReverseStepInstruction
	}
	return steppingCommand(t, name, args)
}

func (c *Commands) nextInstruction(t *Term, ctx callContext, args string) error {
	if err := checkFrameZero(t); err != nil {
		return err
	}
	return steppingCommand(t, api.NextInstruction, args)
}

func (c *Commands) revCmd(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return errors.New("not enough arguments")
	}

	ctx.Prefix = revPrefix
	return c.CallWithContext(args, t, ctx)
}

func (c *Commands) next(t *Term, ctx callContext, args string) error {
	if err := checkFrameZero(t); err != nil {
		return err
	}
	name := api.Next
	if ctx.Prefix == revPrefix {
		name = api.ReverseNext
	}
	return steppingCommand(t, name, args)
}

func (c *Commands) stepout(t *Term, ctx callContext, args string) error {
	name := api.StepOut
	if ctx.Prefix == revPrefix {
		name = api.ReverseStepOut
	}
	return execute(t, &api.DebuggerCommand{Name: name})
}

func (c *Commands) until(t *Term, ctx callContext, args string) error {
	return execute(t, &api.DebuggerCommand{Name: api.Until, Location: args})
}

func (c *Commands) advance(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments: advance <location>")
	}
	return execute(t, &api.DebuggerCommand{Name: api.Advance, Location: args})
}

func (c *Commands) call(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments: call <expression>")
	}
	state, err := exitedToError(t.debugger.Command(&api.DebuggerCommand{Name: api.Call, Expr: args}))
	t.flushOutput()
	if err != nil {
		return err
	}
	if v := state.ReturnValue; v != nil && v.Type != "void" {
		fmt.Fprintf(t.stdout, "%s = %s\n", v.Name, v.Value)
	}
	return nil
}

func (c *Commands) popCall(t *Term, ctx callContext, args string) error {
	state, err := t.debugger.Command(&api.DebuggerCommand{Name: api.PopDummyFrame})
	if err != nil {
		return err
	}
	printcontext(t, state)
	return nil
}

func clearCmd(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid breakpoint id %q", args)
	}
	bp, err := t.debugger.ClearBreakpoint(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s cleared\n", bp)
	return nil
}

func clearAll(t *Term, ctx callContext, args string) error {
	for _, bp := range t.debugger.Breakpoints() {
		if _, err := t.debugger.ClearBreakpoint(bp.ID); err != nil {
			fmt.Fprintf(t.stdout, "Couldn't delete %s: %s\n", bp, err)
			continue
		}
		fmt.Fprintf(t.stdout, "%s cleared\n", bp)
	}
	return nil
}

type byID []*api.Breakpoint

func (a byID) Len() int           { return len(a) }
func (a byID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byID) Less(i, j int) bool { return a[i].ID < a[j].ID }

func breakpoints(t *Term, ctx callContext, args string) error {
	bps := t.debugger.Breakpoints()
	sort.Sort(byID(bps))
	for _, bp := range bps {
		fmt.Fprintf(t.stdout, "%s (hits total:%d)\n", bp, bp.TotalHitCount)
	}
	return nil
}

func breakpoint(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments: break <location>")
	}
	bp, err := t.debugger.CreateBreakpoint(args)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s set\n", bp)
	return nil
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

// ExitRequestError is returned by the exit command.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func printcontext(t *Term, state *api.DebuggerState) {
	t.flushOutput()

	th := state.CurrentThread
	if th == nil {
		fmt.Fprintln(t.stdout, "No current thread available")
		return
	}

	if bp := state.Breakpoint; bp != nil {
		fmt.Fprintf(t.stdout, "%s Breakpoint %d (hits total:%d)\n", t.colorize(ansiGreen, ">"), bp.ID, bp.TotalHitCount)
	}
	if state.Signal != "" {
		fmt.Fprintf(t.stdout, "%s Thread %d received signal %s\n", t.colorize(ansiYellow, ">"), th.ID, state.Signal)
	}

	fname := "?"
	if th.Function != nil {
		fname = th.Function.Name
	}
	if th.File == "" {
		t.Println("> ", fmt.Sprintf("[Thread %d] %s() (PC: %#x)", th.ID, fname, th.PC))
	} else {
		t.Println("> ", fmt.Sprintf("[Thread %d] %s() %s:%d (PC: %#x)", th.ID, fname, th.File, th.Line, th.PC))
	}

	if state.ReturnValue != nil && state.Function != "" {
		fmt.Fprintln(t.stdout, "Values returned:")
		fmt.Fprintf(t.stdout, "\t%s(): (%s) %s\n", state.Function, state.ReturnValue.Type, state.ReturnValue.Value)
	}
	if state.Err != nil {
		fmt.Fprintf(t.stdout, "%s %v\n", t.colorize(ansiRed, "error:"), state.Err)
	}
}
