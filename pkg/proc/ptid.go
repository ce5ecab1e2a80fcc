package proc

import "fmt"

// PTID identifies a thread at the target level. Pid is the process,
// Lwp the kernel thread and Tid a thread library id. A PTID with only Pid
// set names a whole process.
type PTID struct {
	Pid int
	Lwp int
	Tid uint64
}

var (
	// NullPTID names no thread at all.
	NullPTID = PTID{}
	// MinusOnePTID matches every thread of every process.
	MinusOnePTID = PTID{Pid: -1}
)

// PidPTID returns the PTID naming process pid as a whole.
func PidPTID(pid int) PTID {
	return PTID{Pid: pid}
}

// IsPid returns true if p names a whole process.
func (p PTID) IsPid() bool {
	return p.Pid > 0 && p.Lwp == 0 && p.Tid == 0
}

// Matches returns true if p is selected by filter. Filter can be
// MinusOnePTID, a process wide PTID or an exact thread.
func (p PTID) Matches(filter PTID) bool {
	switch {
	case filter == MinusOnePTID:
		return true
	case filter.IsPid():
		return p.Pid == filter.Pid
	default:
		return p == filter
	}
}

func (p PTID) String() string {
	switch {
	case p == NullPTID:
		return "null_ptid"
	case p == MinusOnePTID:
		return "minus_one_ptid"
	case p.IsPid():
		return fmt.Sprintf("process %d", p.Pid)
	case p.Tid != 0:
		return fmt.Sprintf("%d.%d.%d", p.Pid, p.Lwp, p.Tid)
	}
	return fmt.Sprintf("LWP %d", p.Lwp)
}
