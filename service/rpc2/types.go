package rpc2

import "github.com/go-delve/execctl/service/api"

type RestartIn struct {
	// ResetArgs replaces the arguments of the program with NewArgs.
	ResetArgs bool
	NewArgs   string
}

type RestartOut struct {
}

type ProcessPidIn struct {
}

type ProcessPidOut struct {
	Pid int
}

type DetachIn struct {
	Kill bool
}

type DetachOut struct {
}

type StateIn struct {
}

type StateOut struct {
	State *api.DebuggerState
}

type CommandOut struct {
	State api.DebuggerState
}

type CreateBreakpointIn struct {
	Location string
}

type CreateBreakpointOut struct {
	Breakpoint api.Breakpoint
}

type ClearBreakpointIn struct {
	Id int
}

type ClearBreakpointOut struct {
	Breakpoint *api.Breakpoint
}

type ListBreakpointsIn struct {
}

type ListBreakpointsOut struct {
	Breakpoints []*api.Breakpoint
}

type ListThreadsIn struct {
}

type ListThreadsOut struct {
	Threads []*api.Thread
}

type StacktraceIn struct {
	Depth int
}

type StacktraceOut struct {
	Locations []api.Stackframe
}

type FindLocationIn struct {
	Location string
}

type FindLocationOut struct {
	Addr uint64
}

type OutputIn struct {
}

type OutputOut struct {
	Output string
}
