package terminal

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/go-delve/execctl/pkg/config"
	"github.com/go-delve/execctl/pkg/logflags"
	"github.com/go-delve/execctl/pkg/proc"
	"github.com/go-delve/execctl/pkg/proc/test"
	"github.com/go-delve/execctl/service/debugger"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(test.RunTestsWithFixtures(m))
}

type FakeTerminal struct {
	*Term
	t testing.TB
}

const logCommandOutput = false

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	var buf bytes.Buffer
	termstdout := ft.Term.stdout
	ft.Term.stdout = &buf
	defer func() {
		ft.Term.stdout = termstdout
		outstr = buf.String()
		if logCommandOutput {
			ft.t.Logf("command %q -> %q", cmdstr, outstr)
		}
	}()
	err = ft.cmds.Call(cmdstr, ft.Term)
	return
}

func (ft *FakeTerminal) ExecStarlark(starlarkProgram string) (outstr string, err error) {
	var buf bytes.Buffer
	termstdout := ft.Term.stdout
	ft.Term.stdout = &buf
	defer func() {
		ft.Term.stdout = termstdout
		outstr = buf.String()
		if logCommandOutput {
			ft.t.Logf("command %q -> %q", starlarkProgram, outstr)
		}
	}()
	_, err = ft.Term.starlarkEnv.Execute("<stdin>", starlarkProgram, "main", nil)
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) MustExecStarlark(starlarkProgram string) string {
	outstr, err := ft.ExecStarlark(starlarkProgram)
	if err != nil {
		ft.t.Errorf("output of %q: %q", starlarkProgram, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", starlarkProgram, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("Error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if err.Error() != tgterr {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

// assertContains fails unless out contains every one of tgts.
func (ft *FakeTerminal) assertContains(cmdstr, out string, tgts ...string) {
	for _, tgt := range tgts {
		if !strings.Contains(out, tgt) {
			ft.t.Fatalf("output of %q does not contain %q:\n%s", cmdstr, tgt, out)
		}
	}
}

func (ft *FakeTerminal) execContains(cmdstr string, tgts ...string) string {
	out := ft.MustExec(cmdstr)
	ft.assertContains(cmdstr, out, tgts...)
	return out
}

func withTestTerminal(name string, t testing.TB, fn func(*FakeTerminal)) {
	withTestTerminalConfig(name, t, nil, fn)
}

func withTestTerminalConfig(name string, t testing.TB, conf *config.Config, fn func(*FakeTerminal)) {
	d, err := debugger.New(&debugger.Config{
		Program: filepath.Join(test.FindFixturesDir(), name+".yml"),
		Options: proc.DefaultOptions(),
		Record:  test.RecordingAllowed(t),
	})
	if err != nil {
		t.Fatalf("could not start %s: %v", name, err)
	}
	term := New(d, conf)
	term.dumb = true
	ft := &FakeTerminal{t: t, Term: term}
	defer func() {
		term.Close()
		d.Detach(true)
	}()
	fn(ft)
}

func TestCommandDefault(t *testing.T) {
	var (
		cmds = Commands{}
		cmd  = cmds.Find("non-existant-command", noPrefix)
	)

	err := cmd(nil, callContext{}, "")
	if err == nil {
		t.Fatal("cmd() did not default")
	}

	if err.Error() != "command not available" {
		t.Fatal("wrong command output")
	}
}

func TestCommandReplayWithoutPreviousCommand(t *testing.T) {
	var (
		cmds = DebugCommands()
		cmd  = cmds.Find("", noPrefix)
		err  = cmd(nil, callContext{}, "")
	)

	if err != nil {
		t.Error("Null command not returned", err)
	}
}

func TestCommandThread(t *testing.T) {
	var (
		cmds = DebugCommands()
		cmd  = cmds.Find("thread", noPrefix)
	)

	err := cmd(nil, callContext{}, "")
	if err == nil {
		t.Fatal("thread terminal command did not default")
	}

	if err.Error() != "you must specify a thread" {
		t.Fatal("wrong command output: ", err.Error())
	}
}

func TestPrefixRestrictions(t *testing.T) {
	cmds := DebugCommands()
	if cmds.Find("continue", revPrefix) == nil {
		t.Fatal("continue not found")
	}
	// The reverse prefix only reaches commands that can run backwards.
	if err := cmds.Find("call", revPrefix)(nil, callContext{Prefix: revPrefix}, "f()"); err != errNoCmd {
		t.Fatalf("rev call: %v", err)
	}
	if err := cmds.Find("next-instruction", revPrefix)(nil, callContext{Prefix: revPrefix}, ""); err != errNoCmd {
		t.Fatalf("rev nexti: %v", err)
	}
}

func TestExecuteStepping(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		term.execContains("break main:10", "Breakpoint 1 at", "for main() simple.c:10 set")
		term.execContains("continue", "> Breakpoint 1 (hits total:1)", "main() simple.c:10")
		term.execContains("next", "main() simple.c:11")
		term.execContains("step", "straight() simple.c:15")
		term.execContains("next 2", "straight() simple.c:17")
		term.execContains("stepout", "main() simple.c:11", "Values returned:", "straight(): (long) 4")
		term.AssertExecError("continue", "process has exited with status 0")
	})
}

func TestInvalidCount(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		for _, cmd := range []string{"next -1", "step 0", "stepi x"} {
			if _, err := term.Exec(cmd); err == nil {
				t.Errorf("%q did not fail", cmd)
			}
		}
	})
}

func TestBreakpointCommands(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		term.MustExec("break add")
		term.MustExec("b main:11")
		out := term.MustExec("breakpoints")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != 2 || !strings.HasPrefix(lines[0], "Breakpoint 1 ") || !strings.HasPrefix(lines[1], "Breakpoint 2 ") {
			t.Fatalf("wrong breakpoints output:\n%s", out)
		}

		term.MustExec("continue")
		term.MustExec("continue")
		term.execContains("bp", "for add() simple.c:3 (hits total:2)")

		term.execContains("clear 1", "Breakpoint 1 at")
		term.AssertExecError("clear 1", "no breakpoint with id 1")
		term.AssertExecError("clear x", "invalid breakpoint id \"x\"")
		term.AssertExecError("break", "not enough arguments: break <location>")
		if _, err := term.Exec("break nosuch"); err == nil {
			t.Fatal("break at unknown location succeeded")
		}

		term.execContains("clearall", "Breakpoint 2 at", "cleared")
		if out := term.MustExec("breakpoints"); out != "" {
			t.Fatalf("breakpoints left after clearall:\n%s", out)
		}
	})
}

func TestContinueToLocation(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		term.execContains("continue straight", "straight() simple.c:15")
		// The temporary breakpoint is gone.
		if out := term.MustExec("breakpoints"); out != "" {
			t.Fatalf("temporary breakpoint left:\n%s", out)
		}
	})
}

func TestUntilAdvanceCommands(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		term.MustExec("break main:9")
		term.MustExec("continue")
		term.execContains("until", "main() simple.c:10")
		term.execContains("until main:12", "main() simple.c:12")
		term.AssertExecError("advance", "not enough arguments: advance <location>")
	})
}

func TestStackCommands(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		term.MustExec("break straight")
		term.MustExec("continue")

		out := term.MustExec("stack")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) < 2 {
			t.Fatalf("short stack:\n%s", out)
		}
		if !strings.HasPrefix(lines[0], "* 0  straight() simple.c:") {
			t.Fatalf("wrong frame 0: %q", lines[0])
		}
		if !strings.HasPrefix(lines[1], "  1  main() simple.c:11") {
			t.Fatalf("wrong frame 1: %q", lines[1])
		}
		if out := term.MustExec("bt 1"); strings.Count(out, "\n") != 1 {
			t.Fatalf("bt 1 printed more than one frame:\n%s", out)
		}
		term.AssertExecError("stack -2", "invalid depth \"-2\"")

		term.execContains("up", "Frame 1: main() simple.c:11")
		term.execContains("stack", "* 1  main()")
		term.AssertExecError("next", "not on topmost frame")
		term.AssertExecError("stepi", "not on topmost frame")
		term.execContains("down", "Frame 0: straight()")
		term.AssertExecError("down", "invalid frame -1")
		term.execContains("frame 1", "Frame 1: main()")
		term.AssertExecError("frame", "not enough arguments")
		term.execContains("frame 0", "Frame 0: straight()")
		term.execContains("next", "straight() simple.c:16")
	})
}

func TestCallCommand(t *testing.T) {
	withTestTerminal("call", t, func(term *FakeTerminal) {
		term.MustExec("break main:12")
		term.MustExec("continue")
		term.AssertExec("call square(7)", "square(7) = 49\n")
		term.AssertExec("call long(opaque())", "long(opaque()) = 99\n")
		term.AssertExecError("call", "not enough arguments: call <expression>")
		if _, err := term.Exec("call nosuch(1)"); err == nil {
			t.Fatal("call of an unknown function succeeded")
		}

		if _, err := term.Exec("call crash()"); err == nil {
			t.Fatal("crash() returned")
		}
		term.execContains("popcall", "main() call.c:12")
		term.execContains("next", "main() call.c:13")
	})
}

func TestConfigCommand(t *testing.T) {
	withTestTerminal("call", t, func(term *FakeTerminal) {
		out := term.MustExec("config -list")
		if !regexp.MustCompile(`(?m)^may-call-functions\s+true$`).MatchString(out) {
			t.Fatalf("may-call-functions missing from:\n%s", out)
		}
		if strings.Contains(out, "aliases") {
			t.Fatalf("aliases listed:\n%s", out)
		}

		term.MustExec("break main:12")
		term.MustExec("continue")
		term.MustExec("config may-call-functions false")
		if term.conf.MayCallFunctions {
			t.Fatal("configuration not changed")
		}
		term.AssertExecError("call square(2)", "cannot call function square: calling functions in the program is disabled")
		term.MustExec("config may-call-functions true")
		term.AssertExec("call square(2)", "square(2) = 4\n")

		term.AssertExecError("config nosuch 1", "\"nosuch\" is not a configuration parameter")
		term.AssertExecError("config non-stop maybe", "argument to \"non-stop\" must be true or false")
		term.AssertExecError("config sim-instruction-budget -1", "argument to \"sim-instruction-budget\" must be a number greater than zero")
		term.AssertExecError("config", "wrong number of arguments to \"config\"")

		term.MustExec("config alias next nn")
		term.execContains("nn", "main() call.c:13")
		term.MustExec("config alias nn")
		if _, err := term.Exec("nn"); err != errNoCmd {
			t.Fatalf("alias not removed: %v", err)
		}
		term.AssertExecError("config alias a b c", "wrong number of arguments to \"config alias\"")
	})
}

func TestConfiguredAliases(t *testing.T) {
	conf := config.Default()
	conf.Aliases["next"] = []string{"nx"}
	withTestTerminalConfig("simple", t, conf, func(term *FakeTerminal) {
		term.MustExec("break main:10")
		term.MustExec("continue")
		term.execContains("nx", "main() simple.c:11")
	})
}

func TestArgsAndRestart(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		term.AssertExec("args", "(no arguments)\n")
		term.MustExec("break main:10")
		term.MustExec("continue")

		term.execContains("restart one 'two three'", "Process restarted with PID")
		term.AssertExec("args", "argv[1] = \"one\"\nargv[2] = \"two three\"\n")
		term.execContains("continue", "> Breakpoint 1 (hits total:2)")

		if _, err := term.Exec("restart a | b"); err == nil {
			t.Fatal("pipe in arguments accepted")
		}
		term.AssertExec("args", "argv[1] = \"one\"\nargv[2] = \"two three\"\n")
	})
}

func TestThreadCommands(t *testing.T) {
	withTestTerminal("threads", t, func(term *FakeTerminal) {
		term.MustExec("break worker_loop")
		term.execContains("continue", "> Breakpoint 1 (hits total:1)", "worker()")

		out := term.MustExec("threads")
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) < 2 {
			t.Fatalf("expected at least two threads:\n%s", out)
		}
		if !strings.HasPrefix(lines[0], "  Thread 1 ") {
			t.Fatalf("thread 1 should not be current: %q", lines[0])
		}
		if !strings.Contains(out, "* Thread ") {
			t.Fatalf("no current thread marked:\n%s", out)
		}

		out = term.MustExec("thread 1")
		if !strings.HasPrefix(out, "Switched from ") || !strings.HasSuffix(out, " to 1\n") {
			t.Fatalf("wrong output %q", out)
		}
		term.execContains("threads", "* Thread 1 ")
		term.AssertExecError("thread 99", "unknown thread 99")
		if _, err := term.Exec("thread x"); err == nil {
			t.Fatal("thread x succeeded")
		}
	})
}

func TestSourceCommand(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "cmds")
		script := "# comment\nbreak straight\n\nnosuch\ncontinue\n"
		if err := os.WriteFile(path, []byte(script), 0600); err != nil {
			t.Fatal(err)
		}
		out := term.MustExec("source " + path)
		term.assertContains("source", out, path+":4: command not available", "straight() simple.c:15")

		if err := os.WriteFile(path, []byte("exit\ncontinue\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := term.Exec("source " + path); err != (ExitRequestError{}) {
			t.Fatalf("exit in sourced file: %v", err)
		}
		term.AssertExecError("source", "wrong number of arguments: source <filename>")
	})
}

func TestHelpCommand(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		out := term.MustExec("help")
		term.assertContains("help", out, "Running the program:", "Manipulating breakpoints:", "next (alias: n)", "Type help followed by a command")
		term.execContains("help until", "Run until a source line greater than the current one")
		if _, err := term.Exec("help nosuch"); err != errNoCmd {
			t.Fatalf("help nosuch: %v", err)
		}
	})
}

func TestRegisterCommand(t *testing.T) {
	cmds := DebugCommands()
	called := ""
	cmds.Register("hello", func(t *Term, ctx callContext, args string) error {
		called = args
		return nil
	}, "says hello")
	if err := cmds.Call("hello world", nil); err != nil || called != "world" {
		t.Fatalf("hello: %v %q", err, called)
	}
	// Registering again replaces the command.
	cmds.Register("hello", func(t *Term, ctx callContext, args string) error {
		called = "again"
		return nil
	}, "says hello again")
	n := 0
	for _, cmd := range cmds.cmds {
		if cmd.aliases[0] == "hello" {
			n++
		}
	}
	if err := cmds.Call("hello", nil); err != nil || called != "again" || n != 1 {
		t.Fatalf("hello: %v %q %d", err, called, n)
	}
}

func TestCompleter(t *testing.T) {
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		complete := term.completer()
		got := complete("ne")
		want := map[string]bool{"next": true, "next-instruction": true, "nexti": true}
		if len(got) != len(want) {
			t.Fatalf("complete(ne) = %v", got)
		}
		for _, s := range got {
			if !want[s] {
				t.Fatalf("complete(ne) = %v", got)
			}
		}
		if got := complete("break ma"); got != nil {
			t.Fatalf("arguments completed: %v", got)
		}
	})
}

func TestReverseCommands(t *testing.T) {
	test.AllowRecording(t)
	withTestTerminal("simple", t, func(term *FakeTerminal) {
		term.MustExec("break main:10")
		term.MustExec("continue")
		term.execContains("next", "main() simple.c:11")
		term.execContains("rev next", "main() simple.c:10")
		term.AssertExecError("rev", "not enough arguments")
		if _, err := term.Exec("rev call square(1)"); err != errNoCmd {
			t.Fatalf("rev call: %v", err)
		}
		term.execContains("next", "main() simple.c:11")
		term.execContains("rewind", "> Breakpoint 1 (hits total:")
	})
}
