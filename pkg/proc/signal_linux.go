package proc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func signalName(sig Signal) string {
	return unix.SignalName(syscall.Signal(sig))
}
