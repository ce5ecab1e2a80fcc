//go:build !linux

package proc

var signalNames = map[Signal]string{
	SIGHUP:  "SIGHUP",
	SIGINT:  "SIGINT",
	SIGQUIT: "SIGQUIT",
	SIGILL:  "SIGILL",
	SIGTRAP: "SIGTRAP",
	SIGABRT: "SIGABRT",
	SIGBUS:  "SIGBUS",
	SIGFPE:  "SIGFPE",
	SIGKILL: "SIGKILL",
	SIGUSR1: "SIGUSR1",
	SIGSEGV: "SIGSEGV",
	SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE",
	SIGALRM: "SIGALRM",
	SIGTERM: "SIGTERM",
	SIGCHLD: "SIGCHLD",
	SIGCONT: "SIGCONT",
	SIGSTOP: "SIGSTOP",
}

// The host numbering differs from the engine's, so x/sys/unix can't be
// asked for names here.
func signalName(sig Signal) string {
	return signalNames[sig]
}
