package rpc2

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/go-delve/execctl/pkg/logflags"
	"github.com/go-delve/execctl/service"
	"github.com/go-delve/execctl/service/api"
	"github.com/go-delve/execctl/service/debugger"
)

// ServerImpl exposes a Debugger over JSON-RPC.
type ServerImpl struct {
	s *RPCServer

	// config is all the information necessary to start the debugger and server.
	config *service.Config
	// listener is used to serve HTTP.
	listener net.Listener
	// stopChan is used to stop the listener goroutine.
	stopChan chan struct{}
	stopOnce sync.Once
	log      logflags.Logger
}

// RPCServer holds the methods a client can call.
type RPCServer struct {
	// config is all the information necessary to start the debugger and server.
	config *service.Config
	// debugger is a debugger service.
	debugger *debugger.Debugger
	// detach is called when a client detaches.
	detach func()
}

// NewServer creates a new RPCServer.
func NewServer(config *service.Config) *ServerImpl {
	return &ServerImpl{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		log:      logflags.RPCLogger(),
	}
}

// Stop detaches from the debugger and waits for it to stop.
func (s *ServerImpl) Stop(kill bool) error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.listener.Close()
	})
	if s.s == nil {
		return nil
	}
	return s.s.debugger.Detach(kill)
}

// Restart restarts the debugger.
func (s *RPCServer) Restart(arg RestartIn, out *RestartOut) error {
	if s.config.AcceptMulti {
		return errors.New("restart not supported with accept-multiclient")
	}
	if arg.ResetArgs {
		if err := s.debugger.SetArgs(arg.NewArgs); err != nil {
			return err
		}
	}
	return s.debugger.Restart()
}

// Run starts a debugger and exposes it with an JSON-RPC server. The debugger
// itself can be stopped with the `detach` API. Run blocks until the HTTP
// server stops.
func (s *ServerImpl) Run() error {
	// Create and start the debugger
	dcfg := s.config.Debugger
	d, err := debugger.New(&dcfg)
	if err != nil {
		return err
	}
	s.s = &RPCServer{
		config:   s.config,
		debugger: d,
	}
	s.s.detach = func() {
		if s.config.DisconnectChan != nil {
			close(s.config.DisconnectChan)
			s.config.DisconnectChan = nil
		}
		s.stopOnce.Do(func() {
			close(s.stopChan)
			s.listener.Close()
		})
	}

	rpcs := rpc.NewServer()
	if err := rpcs.RegisterName("RPCServer", s.s); err != nil {
		return err
	}

	go func() {
		defer s.listener.Close()
		for {
			c, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.stopChan:
					// We were supposed to exit, do nothing and return
					return
				default:
					panic(err)
				}
			}
			s.log.Debugf("client connected from %s", c.RemoteAddr())
			go rpcs.ServeCodec(jsonrpc.NewServerCodec(c))
			if !s.config.AcceptMulti {
				break
			}
		}
	}()
	return nil
}

// ProcessPid returns the pid of the process we are debugging.
func (s *RPCServer) ProcessPid(arg ProcessPidIn, out *ProcessPidOut) error {
	out.Pid = s.debugger.ProcessPid()
	return nil
}

// Detach detaches the debugger, optionally killing the process.
func (s *RPCServer) Detach(arg DetachIn, out *DetachOut) error {
	err := s.debugger.Detach(arg.Kill)
	s.detach()
	return err
}

// State returns the current debugger state.
func (s *RPCServer) State(arg StateIn, out *StateOut) error {
	st, err := s.debugger.State()
	if err != nil {
		return err
	}
	out.State = st
	return nil
}

// Command runs a stepping, call or thread switching command and returns
// the state of the debugger once it completes.
func (s *RPCServer) Command(command api.DebuggerCommand, out *CommandOut) error {
	st, err := s.debugger.Command(&command)
	if err != nil {
		return err
	}
	out.State = *st
	return nil
}

// CreateBreakpoint creates a new breakpoint at the location.
func (s *RPCServer) CreateBreakpoint(arg CreateBreakpointIn, out *CreateBreakpointOut) error {
	bp, err := s.debugger.CreateBreakpoint(arg.Location)
	if err != nil {
		return err
	}
	out.Breakpoint = *bp
	return nil
}

// ClearBreakpoint deletes a breakpoint by ID.
func (s *RPCServer) ClearBreakpoint(arg ClearBreakpointIn, out *ClearBreakpointOut) error {
	bp, err := s.debugger.ClearBreakpoint(arg.Id)
	if err != nil {
		return err
	}
	out.Breakpoint = bp
	return nil
}

// ListBreakpoints gets all breakpoints.
func (s *RPCServer) ListBreakpoints(arg ListBreakpointsIn, out *ListBreakpointsOut) error {
	out.Breakpoints = s.debugger.Breakpoints()
	return nil
}

// ListThreads lists all threads.
func (s *RPCServer) ListThreads(arg ListThreadsIn, out *ListThreadsOut) (err error) {
	out.Threads, err = s.debugger.Threads()
	return err
}

// Stacktrace returns the frames of the selected thread, innermost first.
func (s *RPCServer) Stacktrace(arg StacktraceIn, out *StacktraceOut) error {
	if arg.Depth < 0 {
		return fmt.Errorf("invalid depth %d", arg.Depth)
	}
	locs, err := s.debugger.Stacktrace(arg.Depth)
	if err != nil {
		return err
	}
	out.Locations = locs
	return nil
}

// FindLocation returns the address of a location.
func (s *RPCServer) FindLocation(arg FindLocationIn, out *FindLocationOut) (err error) {
	out.Addr, err = s.debugger.FindLocation(arg.Location)
	return err
}

// Output returns what the program wrote so far.
func (s *RPCServer) Output(arg OutputIn, out *OutputOut) error {
	out.Output = s.debugger.Output()
	return nil
}
