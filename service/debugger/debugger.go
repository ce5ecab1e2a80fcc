package debugger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-delve/execctl/pkg/logflags"
	"github.com/go-delve/execctl/pkg/proc"
	"github.com/go-delve/execctl/pkg/proc/sim"
	"github.com/go-delve/execctl/service/api"
)

// Debugger service.
//
// Debugger provides a higher level of abstraction over proc.Session. It
// owns the simulated process, serializes access to the engine and
// converts engine types to the types expected by clients.
type Debugger struct {
	config *Config
	prog   *sim.Program

	targetMutex sync.Mutex
	session     *proc.Session
	inf         *proc.Inferior
	process     *sim.Process
	log         logflags.Logger

	running      bool
	runningMutex sync.Mutex
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// Program is the path of the program description to run.
	Program string
	// Args is the argument string of the program.
	Args string
	// Options are the execution engine options.
	Options proc.Options
	// Budget bounds the number of instructions the program may execute,
	// zero means the backend default.
	Budget int
	// Record keeps an execution history so the program can run backwards.
	Record bool
	// Observe, if set, is called with the session before the program is
	// started, to attach observers.
	Observe func(*proc.Session)
}

// New creates a new Debugger and starts the program, stopped at its entry
// point.
func New(config *Config) (*Debugger, error) {
	prog, err := sim.LoadProgram(config.Program)
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %v", config.Program, err)
	}
	return NewWithProgram(config, prog)
}

// NewWithProgram is like New with an already loaded program.
func NewWithProgram(config *Config, prog *sim.Program) (*Debugger, error) {
	d := &Debugger{
		config: config,
		prog:   prog,
		log:    logflags.DebuggerLogger(),
	}
	d.session = proc.NewSession(config.Options)
	d.session.SetLanguage(prog.Language())
	if config.Observe != nil {
		config.Observe(d.session)
	}
	d.inf = d.session.AddInferior()
	d.inf.SetArgs(config.Args)
	d.inf.Pspace.SetSymbols(prog, prog)
	if err := d.launch(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Debugger) launch() error {
	d.log.Infof("launching %s with args %q", d.config.Program, d.config.Args)
	if _, err := d.inf.Argv(); err != nil {
		return fmt.Errorf("could not parse program arguments: %v", err)
	}
	d.process = sim.Launch(d.prog, sim.Config{Budget: d.config.Budget, NoRecord: !d.config.Record})
	if err := d.session.Start(d.inf, d.process, d.process.Pid()); err != nil {
		d.process.Kill()
		return fmt.Errorf("could not launch process: %v", err)
	}
	return nil
}

// Session returns the execution engine session. Callers must not use it
// concurrently with the Debugger's methods.
func (d *Debugger) Session() *proc.Session {
	return d.session
}

// Program returns the program being debugged.
func (d *Debugger) Program() *sim.Program {
	return d.prog
}

// ProcessPid returns the PID of the process
// the debugger is debugging.
func (d *Debugger) ProcessPid() int {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	return d.inf.Pid
}

// Output returns what the program wrote so far.
func (d *Debugger) Output() string {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	return d.process.Output()
}

// Detach kills the target process.
func (d *Debugger) Detach(kill bool) error {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	return d.detach()
}

func (d *Debugger) detach() error {
	if d.inf.Pid == 0 {
		return nil
	}
	d.process.Kill()
	d.session.ExitInferior(d.inf)
	return nil
}

// SetOptions changes the execution engine options.
func (d *Debugger) SetOptions(opts proc.Options) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	d.config.Options = opts
	d.session.SetOptions(opts)
}

// Args returns the program's argument string and its split form.
func (d *Debugger) Args() (string, []string, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	argv, err := d.inf.Argv()
	return d.inf.Args(), argv, err
}

// SetArgs changes the program's arguments. They are used the next time
// the program is started.
func (d *Debugger) SetArgs(args string) error {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	old := d.inf.Args()
	d.inf.SetArgs(args)
	if _, err := d.inf.Argv(); err != nil {
		d.inf.SetArgs(old)
		return fmt.Errorf("could not parse program arguments: %v", err)
	}
	d.config.Args = args
	return nil
}

// Restart kills the process and starts the program again. User
// breakpoints are kept.
func (d *Debugger) Restart() error {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	if d.session.Direction() == proc.Reverse && d.inf.Pid != 0 {
		if err := d.session.SetDirection(proc.Forward); err != nil {
			return err
		}
	}
	if err := d.detach(); err != nil {
		return err
	}
	return d.launch()
}

// State returns the current state of the debugger.
func (d *Debugger) State() (*api.DebuggerState, error) {
	if d.isRunning() {
		return &api.DebuggerState{}, nil
	}
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	return d.state(d.session.LastStop()), nil
}

func (d *Debugger) state(r *proc.StopReport) *api.DebuggerState {
	state := &api.DebuggerState{}
	api.ConvertStopReport(state, r, d.prog)
	if d.inf.Pid == 0 {
		state.Exited = true
		if d.inf.HasExitCode {
			state.ExitStatus = d.inf.ExitCode
		}
		return state
	}
	for _, th := range d.inf.NonExitedThreads() {
		state.Threads = append(state.Threads, d.convertThread(th))
	}
	if th, err := d.session.CurrentThread(); err == nil {
		state.CurrentThread = d.convertThread(th)
	}
	return state
}

func (d *Debugger) convertThread(th *proc.Thread) *api.Thread {
	if th.State == proc.ThreadStopped {
		if fr, err := d.session.FrameAt(th, 0); err == nil {
			return api.ConvertThread(th, &fr)
		}
	}
	return api.ConvertThread(th, nil)
}

// CreateBreakpoint creates a breakpoint at the location described by
// locStr.
func (d *Debugger) CreateBreakpoint(locStr string) (*api.Breakpoint, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	addr, err := d.findLocation(locStr)
	if err != nil {
		return nil, err
	}
	bp, err := d.session.Breakpoints.SetBreakpoint(d.inf, addr)
	if err != nil {
		return nil, err
	}
	createdBp := api.ConvertBreakpoint(bp, d.prog)
	d.log.Infof("created breakpoint: %#v", createdBp)
	return createdBp, nil
}

// ClearBreakpoint clears a breakpoint.
func (d *Debugger) ClearBreakpoint(id int) (*api.Breakpoint, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	bp := d.session.Breakpoints.FindID(id)
	if bp == nil {
		return nil, fmt.Errorf("no breakpoint with id %d", id)
	}
	if _, err := d.session.Breakpoints.ClearBreakpoint(bp.Inf, bp.Addr); err != nil {
		return nil, fmt.Errorf("can't clear breakpoint @%x: %s", bp.Addr, err)
	}
	clearedBp := api.ConvertBreakpoint(bp, d.prog)
	d.log.Infof("cleared breakpoint: %#v", clearedBp)
	return clearedBp, nil
}

// Breakpoints returns the list of user breakpoints.
func (d *Debugger) Breakpoints() []*api.Breakpoint {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	var bps []*api.Breakpoint
	for _, bp := range d.session.Breakpoints.User() {
		bps = append(bps, api.ConvertBreakpoint(bp, d.prog))
	}
	return bps
}

// Threads returns the threads of the target process.
func (d *Debugger) Threads() ([]*api.Thread, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	if d.inf.Pid == 0 {
		return nil, proc.ErrNoProcess
	}
	var threads []*api.Thread
	for _, th := range d.inf.NonExitedThreads() {
		threads = append(threads, d.convertThread(th))
	}
	return threads, nil
}

// Stacktrace returns a list of Stackframes of the current thread, up to
// depth frames deep.
func (d *Debugger) Stacktrace(depth int) ([]api.Stackframe, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	th, err := d.session.CurrentThread()
	if err != nil {
		return nil, err
	}
	frames, err := d.session.Stacktrace(th, depth)
	if err != nil {
		return nil, err
	}
	r := make([]api.Stackframe, 0, len(frames))
	for _, fr := range frames {
		r = append(r, api.ConvertStackframe(fr))
	}
	return r, nil
}

// SelectFrame selects a frame of the current thread.
func (d *Debugger) SelectFrame(level int) (*api.Stackframe, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	if err := d.session.SelectFrame(level); err != nil {
		return nil, err
	}
	fr, err := d.session.SelectedFrame()
	if err != nil {
		return nil, err
	}
	sf := api.ConvertStackframe(fr)
	return &sf, nil
}

// SelectedFrameLevel returns the level of the selected frame.
func (d *Debugger) SelectedFrameLevel() int {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	return d.session.SelectedFrameLevel()
}

func (d *Debugger) setRunning(running bool) {
	d.runningMutex.Lock()
	d.running = running
	d.runningMutex.Unlock()
}

func (d *Debugger) isRunning() bool {
	d.runningMutex.Lock()
	defer d.runningMutex.Unlock()
	return d.running
}

var errUnknownCommand = errors.New("unknown command")

// Command handles commands which control the debugger lifecycle.
func (d *Debugger) Command(command *api.DebuggerCommand) (*api.DebuggerState, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	d.setRunning(true)
	defer d.setRunning(false)

	s := d.session
	count := command.Count
	if count <= 0 {
		count = 1
	}

	if command.IsReverse() {
		if err := s.SetDirection(proc.Reverse); err != nil {
			return nil, err
		}
		defer s.SetDirection(proc.Forward)
	}

	var (
		r   *proc.StopReport
		err error
	)
	switch command.Name {
	case api.Continue, api.Rewind:
		d.log.Debug("continuing")
		r, err = s.Continue()
	case api.Next, api.ReverseNext:
		d.log.Debug("nexting")
		r, err = s.Next(count)
	case api.Step, api.ReverseStep:
		d.log.Debug("stepping")
		r, err = s.Step(count)
	case api.StepInstruction, api.ReverseStepInstruction:
		d.log.Debug("single stepping")
		r, err = s.StepInstruction(count)
	case api.NextInstruction:
		d.log.Debug("single stepping over calls")
		r, err = s.NextInstruction(count)
	case api.StepOut, api.ReverseStepOut:
		d.log.Debug("step out")
		r, err = s.Finish()
	case api.Until:
		if command.Location == "" {
			d.log.Debug("until next line")
			r, err = s.UntilNext()
			break
		}
		var addr uint64
		if addr, err = d.findLocation(command.Location); err == nil {
			d.log.Debugf("until %s (%#x)", command.Location, addr)
			r, err = s.UntilLocation(addr)
		}
	case api.Advance:
		var addr uint64
		if addr, err = d.findLocation(command.Location); err == nil {
			d.log.Debugf("advance to %s (%#x)", command.Location, addr)
			r, err = s.Advance(addr)
		}
	case api.SwitchThread:
		d.log.Debugf("switching to thread %d", command.ThreadID)
		th := s.FindThreadGlobalID(command.ThreadID)
		if th == nil || th.State == proc.ThreadExited {
			return nil, fmt.Errorf("unknown thread %d", command.ThreadID)
		}
		s.SelectThread(th)
		return d.state(s.LastStop()), nil
	case api.Call:
		d.log.Debugf("function call %s", command.Expr)
		var v *proc.Value
		v, err = d.call(command.Expr)
		if err != nil {
			return nil, err
		}
		state := d.state(nil)
		state.ReturnValue = api.ConvertValue(command.Expr, v)
		return state, nil
	case api.PopDummyFrame:
		d.log.Debug("popping dummy frame")
		if err := s.PopDummyFrame(); err != nil {
			return nil, err
		}
		return d.state(nil), nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownCommand, command.Name)
	}
	if err != nil {
		return nil, err
	}
	return d.state(r), nil
}
