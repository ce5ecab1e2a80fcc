package cmds

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/go-delve/execctl/cmd/execctl/cmds/helphelpers"
	"github.com/go-delve/execctl/pkg/config"
	"github.com/go-delve/execctl/pkg/logflags"
	"github.com/go-delve/execctl/pkg/terminal"
	"github.com/go-delve/execctl/pkg/version"
	"github.com/go-delve/execctl/service"
	"github.com/go-delve/execctl/service/api"
	"github.com/go-delve/execctl/service/dap"
	"github.com/go-delve/execctl/service/debugger"
	"github.com/go-delve/execctl/service/rpc2"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configFile overrides the default configuration file.
	configFile string
	// initFile is the path to initialization file.
	initFile string
	// record keeps the execution history so the program can run backwards.
	record bool
	// headless is whether to run without terminal.
	headless bool
	// addr is the debugging server listen address.
	addr string
	// acceptMulti allows multiple clients to connect to the same server.
	acceptMulti bool

	// eventBreakpoints are the locations the events command stops at.
	eventBreakpoints []string
	// noThreadEvents suppresses thread started and exited events.
	noThreadEvents bool
	// verbose makes the version command print the build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command
)

const execctlCommandLongDesc = `execctl runs programs under the control of an execution engine.

A program is described by a YAML file listing its functions, their source
lines and the instructions for each line. execctl loads it in a simulated
process that can be stepped line by line or instruction by instruction,
stopped at breakpoints, run backwards when the execution is recorded and
made to call its own functions.

Pass flags to the program you are debugging using ` + "`--`" + `, for example:

` + "`execctl run prog.yml -- -n 3 'two words'`"

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Main execctl root command.
	rootCommand = &cobra.Command{
		Use:   "execctl",
		Short: "execctl controls the execution of programs.",
		Long:  execctlCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable execution engine logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'execctl help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'execctl help log').")
	rootCommand.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file, instead of config.yml in the configuration directory.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().BoolVar(&record, "record", false, "Record the execution so the program can run backwards.")

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	// 'run' subcommand.
	runCommand := &cobra.Command{
		Use:   "run <program> [-- args]",
		Short: "Load a program and begin debugging it.",
		Long: `Loads the program and starts it, stopped at its entry point, then
starts the interactive terminal.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a program description")
			}
			return nil
		},
		Run: runCmd,
	}
	runCommand.Flags().BoolVarP(&headless, "headless", "", false, "Run debug server only, in headless mode.")
	runCommand.Flags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Debugging server listen address.")
	runCommand.Flags().BoolVarP(&acceptMulti, "accept-multiclient", "", false, "Allows a headless server to accept multiple client connections.")
	rootCommand.AddCommand(runCommand)

	// 'events' subcommand.
	eventsCommand := &cobra.Command{
		Use:   "events <program> [-- args]",
		Short: "Run a program and write its events in DAP format.",
		Long: `Runs the program to completion, stopping at the breakpoints specified with
--break, and writes a Debug Adapter Protocol event to standard output for
every thread creation and exit, resumption, stop and for the exit of the
program.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a program description")
			}
			return nil
		},
		Run: eventsCmd,
	}
	eventsCommand.Flags().StringSliceVarP(&eventBreakpoints, "break", "b", nil, "Locations to stop at, may be repeated or comma separated.")
	eventsCommand.Flags().BoolVar(&noThreadEvents, "no-thread-events", false, "Do not send thread started and exited events.")
	rootCommand.AddCommand(eventsCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "execctl\n%s\n", version.ExecctlVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	infrun		Log resumptions, stops and the decisions of the execution commands
	infcall		Log the function call protocol (alias: fncall)
	threads		Log thread creation, exit and deletion
	stepover	Log the step-over queue and displaced stepping (alias: displaced)
	dap		Log all DAP messages
	debugger	Log debugger commands
	rpc		Log connections to the headless server

Without --log-output only infrun is logged.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadConfig returns the configuration to use, the defaults if it can not
// be read.
func loadConfig() (*config.Config, error) {
	var (
		conf *config.Config
		err  error
	)
	if configFile != "" {
		conf, err = config.LoadConfigFile(configFile)
	} else {
		conf, err = config.LoadConfig()
	}
	if conf == nil {
		conf = config.Default()
	}
	return conf, err
}

func runCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		conf, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}

		program, targetArgs := splitArgs(args)
		if headless {
			return serve(conf, program, targetArgs)
		}
		if acceptMulti {
			fmt.Fprint(os.Stderr, "Warning: accept-multiclient has no effect without headless\n")
		}
		d, err := debugger.New(debuggerConfig(conf, program, targetArgs))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		term := terminal.New(d, conf)
		term.InitFile = initFile
		status, err := term.Run()
		if err != nil {
			fmt.Println(err)
		}
		return status
	}()
	os.Exit(status)
}

func eventsCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with events\n")
		}
		if isatty.IsTerminal(os.Stdout.Fd()) {
			fmt.Fprint(os.Stderr, "Warning: writing DAP messages to a terminal\n")
		}

		conf, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		program, targetArgs := splitArgs(args)
		return streamEvents(os.Stdout, os.Stderr, debuggerConfig(conf, program, targetArgs), conf, eventBreakpoints)
	}()
	os.Exit(status)
}

// serve exposes the program over JSON-RPC until a client detaches or
// execctl is interrupted.
func serve(conf *config.Config, program string, targetArgs []string) int {
	if initFile != "" {
		fmt.Fprint(os.Stderr, "Warning: init file ignored with headless\n")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't start listener: %s\n", err)
		return 1
	}
	disconnectChan := make(chan struct{})
	server := rpc2.NewServer(&service.Config{
		Listener:       listener,
		AcceptMulti:    acceptMulti,
		Debugger:       *debuggerConfig(conf, program, targetArgs),
		DisconnectChan: disconnectChan,
	})
	if err := server.Run(); err != nil {
		listener.Close()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Printf("API server listening at: %s\n", listener.Addr())

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	select {
	case <-ch:
	case <-disconnectChan:
	}
	if err := server.Stop(true); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// streamEvents runs the program described by dcfg to completion, writing
// its events to out. It returns the exit status of execctl.
func streamEvents(out, errOut io.Writer, dcfg *debugger.Config, conf *config.Config, bps []string) int {
	es := dap.NewEventStream(out)
	es.PrintThreadEvents = conf.PrintThreadEvents && !noThreadEvents
	dcfg.Observe = es.Attach

	d, err := debugger.New(dcfg)
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
		return 1
	}
	defer es.Detach()
	defer d.Detach(true)

	for _, loc := range bps {
		if _, err := d.CreateBreakpoint(loc); err != nil {
			fmt.Fprintf(errOut, "could not set breakpoint at %s: %v\n", loc, err)
			return 1
		}
	}

	printed := 0
	for {
		state, err := d.Command(&api.DebuggerCommand{Name: api.Continue})
		if err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return 1
		}
		if output := d.Output(); len(output) > printed {
			es.Output("stdout", output[printed:])
			printed = len(output)
		}
		if err := es.Err(); err != nil {
			fmt.Fprintf(errOut, "could not write event: %v\n", err)
			return 1
		}
		if state.Exited {
			return 0
		}
	}
}

// debuggerConfig returns the configuration of the debugger for program.
func debuggerConfig(conf *config.Config, program string, targetArgs []string) *debugger.Config {
	return &debugger.Config{
		Program: program,
		Args:    joinArgs(targetArgs),
		Options: conf.ProcOptions(),
		Budget:  conf.SimInstructionBudget,
		Record:  record,
	}
}

// splitArgs separates the program description from the arguments of the
// program. A "--" keeps cobra from parsing the arguments as flags.
func splitArgs(args []string) (string, []string) {
	return args[0], args[1:]
}

// joinArgs quotes args into the argument string of the program.
func joinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		switch {
		case arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\`|$"):
			quoted[i] = arg
		case !strings.Contains(arg, "'"):
			quoted[i] = "'" + arg + "'"
		default:
			r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
			quoted[i] = `"` + r.Replace(arg) + `"`
		}
	}
	return strings.Join(quoted, " ")
}
