package rpc2

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/go-delve/execctl/service/api"
)

// RPCClient is a RPC service.Client.
type RPCClient struct {
	client *rpc.Client
}

// NewClient creates a new RPCClient.
func NewClient(addr string) (*RPCClient, error) {
	client, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &RPCClient{client: client}, nil
}

// NewClientFromConn creates a new RPCClient from the given connection.
func NewClientFromConn(conn net.Conn) *RPCClient {
	return &RPCClient{client: jsonrpc.NewClient(conn)}
}

func (c *RPCClient) ProcessPid() int {
	out := new(ProcessPidOut)
	c.call("ProcessPid", ProcessPidIn{}, out)
	return out.Pid
}

// Detach detaches the debugger and closes the connection.
func (c *RPCClient) Detach(kill bool) error {
	defer c.client.Close()
	out := new(DetachOut)
	return c.call("Detach", DetachIn{kill}, out)
}

// Restart restarts the program, with new arguments if resetArgs is set.
func (c *RPCClient) Restart(resetArgs bool, newArgs string) error {
	out := new(RestartOut)
	return c.call("Restart", RestartIn{resetArgs, newArgs}, out)
}

func (c *RPCClient) GetState() (*api.DebuggerState, error) {
	var out StateOut
	err := c.call("State", StateIn{}, &out)
	return out.State, err
}

func (c *RPCClient) Continue() (*api.DebuggerState, error) {
	return c.Command(&api.DebuggerCommand{Name: api.Continue})
}

func (c *RPCClient) Next() (*api.DebuggerState, error) {
	return c.Command(&api.DebuggerCommand{Name: api.Next})
}

func (c *RPCClient) Step() (*api.DebuggerState, error) {
	return c.Command(&api.DebuggerCommand{Name: api.Step})
}

func (c *RPCClient) StepOut() (*api.DebuggerState, error) {
	return c.Command(&api.DebuggerCommand{Name: api.StepOut})
}

func (c *RPCClient) Call(expr string) (*api.DebuggerState, error) {
	return c.Command(&api.DebuggerCommand{Name: api.Call, Expr: expr})
}

func (c *RPCClient) SwitchThread(threadID int) (*api.DebuggerState, error) {
	return c.Command(&api.DebuggerCommand{Name: api.SwitchThread, ThreadID: threadID})
}

// Command runs cmd on the server.
func (c *RPCClient) Command(cmd *api.DebuggerCommand) (*api.DebuggerState, error) {
	var out CommandOut
	err := c.call("Command", cmd, &out)
	return &out.State, err
}

func (c *RPCClient) CreateBreakpoint(location string) (*api.Breakpoint, error) {
	var out CreateBreakpointOut
	err := c.call("CreateBreakpoint", CreateBreakpointIn{location}, &out)
	return &out.Breakpoint, err
}

func (c *RPCClient) ClearBreakpoint(id int) (*api.Breakpoint, error) {
	var out ClearBreakpointOut
	err := c.call("ClearBreakpoint", ClearBreakpointIn{id}, &out)
	return out.Breakpoint, err
}

func (c *RPCClient) ListBreakpoints() ([]*api.Breakpoint, error) {
	var out ListBreakpointsOut
	err := c.call("ListBreakpoints", ListBreakpointsIn{}, &out)
	return out.Breakpoints, err
}

func (c *RPCClient) ListThreads() ([]*api.Thread, error) {
	var out ListThreadsOut
	err := c.call("ListThreads", ListThreadsIn{}, &out)
	return out.Threads, err
}

func (c *RPCClient) Stacktrace(depth int) ([]api.Stackframe, error) {
	var out StacktraceOut
	err := c.call("Stacktrace", StacktraceIn{depth}, &out)
	return out.Locations, err
}

func (c *RPCClient) FindLocation(loc string) (uint64, error) {
	var out FindLocationOut
	err := c.call("FindLocation", FindLocationIn{loc}, &out)
	return out.Addr, err
}

func (c *RPCClient) Output() (string, error) {
	var out OutputOut
	err := c.call("Output", OutputIn{}, &out)
	return out.Output, err
}

func (c *RPCClient) call(method string, args, reply interface{}) error {
	return c.client.Call("RPCServer."+method, args, reply)
}
