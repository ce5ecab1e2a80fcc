package proc

import "fmt"

// Signal is a signal number as seen by the execution engine. Numbering
// follows Linux on amd64 regardless of the host.
type Signal int

const (
	// SignalDefault tells proceed to deliver whatever signal the thread
	// last stopped with, if it is one the program should see.
	SignalDefault Signal = -1
	SignalNone    Signal = 0
	SIGHUP        Signal = 1
	SIGINT        Signal = 2
	SIGQUIT       Signal = 3
	SIGILL        Signal = 4
	SIGTRAP       Signal = 5
	SIGABRT       Signal = 6
	SIGBUS        Signal = 7
	SIGFPE        Signal = 8
	SIGKILL       Signal = 9
	SIGUSR1       Signal = 10
	SIGSEGV       Signal = 11
	SIGUSR2       Signal = 12
	SIGPIPE       Signal = 13
	SIGALRM       Signal = 14
	SIGTERM       Signal = 15
	SIGCHLD       Signal = 17
	SIGCONT       Signal = 18
	SIGSTOP       Signal = 19
)

var signalDescriptions = map[Signal]string{
	SIGHUP:  "Hangup",
	SIGINT:  "Interrupt",
	SIGQUIT: "Quit",
	SIGILL:  "Illegal instruction",
	SIGTRAP: "Trace/breakpoint trap",
	SIGABRT: "Aborted",
	SIGBUS:  "Bus error",
	SIGFPE:  "Arithmetic exception",
	SIGKILL: "Killed",
	SIGUSR1: "User defined signal 1",
	SIGSEGV: "Segmentation fault",
	SIGUSR2: "User defined signal 2",
	SIGPIPE: "Broken pipe",
	SIGALRM: "Alarm clock",
	SIGTERM: "Terminated",
	SIGCHLD: "Child status changed",
	SIGCONT: "Continued",
	SIGSTOP: "Stopped (signal)",
}

func (sig Signal) String() string {
	switch sig {
	case SignalNone:
		return "0"
	case SignalDefault:
		return "default"
	}
	if name := signalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("SIG%d", int(sig))
}

// Description returns the human readable meaning of sig.
func (sig Signal) Description() string {
	if d, ok := signalDescriptions[sig]; ok {
		return d
	}
	return fmt.Sprintf("Unknown signal %d", int(sig))
}

// random returns true if sig is not one the engine uses for its own
// purposes, i.e. it should be reported to the user.
func (sig Signal) random() bool {
	return sig != SignalNone && sig != SIGTRAP
}

// pass returns true if sig should be delivered to the program when the
// thread that stopped with it is resumed.
func (sig Signal) pass() bool {
	switch sig {
	case SignalNone, SignalDefault, SIGTRAP, SIGINT, SIGSTOP:
		return false
	}
	return true
}
