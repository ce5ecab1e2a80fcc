package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-delve/execctl/pkg/config"
	"github.com/go-delve/execctl/pkg/terminal/starbind"
	"github.com/go-delve/execctl/service/debugger"
)

const (
	historyFile                 string = ".execctl_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the terminal running execctl.
type Term struct {
	debugger *debugger.Debugger
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   io.Writer
	InitFile string

	starlarkEnv *starbind.Env

	// printedOutput is how much of the program's output was already
	// copied to stdout.
	printedOutput int
}

// New returns a new Term.
func New(d *debugger.Debugger, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = config.Default()
	}

	var w io.Writer
	dumb := dumbTerminal()
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		debugger: d,
		conf:     conf,
		prompt:   "(execctl) ",
		line:     liner.NewLiner(),
		cmds:     cmds,
		dumb:     dumb,
		stdout:   w,
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, termWriter{t})
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// sigintGuard cancels the running starlark script on SIGINT. Execution
// commands run to completion inside the command that resumed the program.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(t.stdout, "received SIGINT\n")
	}
}

// completer returns the commands and aliases starting with line.
func (t *Term) completer() func(string) []string {
	tr := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			tr.Add(alias, nil)
		}
	}
	return func(line string) []string {
		if strings.Contains(line, " ") {
			return nil
		}
		return tr.PrefixSearch(strings.ToLower(line))
	}
}

// Run begins running execctl in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.completer())

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		if err := t.cmds.executeFile(t, t.InitFile); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	var lastCmd string
	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, errors.New("prompt for input failed")
		}
		if strings.TrimSpace(cmdstr) == "" {
			cmdstr = lastCmd
		}
		lastCmd = cmdstr

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			if isErrProcessExited(err) {
				fmt.Fprintln(os.Stderr, err.Error())
				continue
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	fmt.Fprintf(t.stdout, "%s%s\n", t.colorize(ansiBlue, prefix), str)
}

func (t *Term) colorize(color int, s string) string {
	if t.dumb {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			if _, err := t.line.WriteHistory(f); err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if err := t.debugger.Detach(true); err != nil {
		return 1, err
	}
	return 0, nil
}

// flushOutput copies what the program wrote since the last call.
func (t *Term) flushOutput() {
	out := t.debugger.Output()
	if len(out) < t.printedOutput {
		// restarted
		t.printedOutput = 0
	}
	if len(out) > t.printedOutput {
		fmt.Fprint(t.stdout, out[t.printedOutput:])
		t.printedOutput = len(out)
	}
}

// termWriter follows the terminal's current output, which tests swap.
type termWriter struct {
	t *Term
}

func (w termWriter) Write(p []byte) (int, error) {
	return w.t.stdout.Write(p)
}

func isErrProcessExited(err error) bool {
	return strings.Contains(err.Error(), "has exited with status")
}
