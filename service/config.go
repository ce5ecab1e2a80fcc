package service

import (
	"net"

	"github.com/go-delve/execctl/service/debugger"
)

// Config provides the configuration to start a Debugger and expose it with a
// service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener
	// AcceptMulti configures the server to accept multiple connection.
	// Note that the server API is not reentrant and clients will have to coordinate.
	AcceptMulti bool

	// Debugger is the configuration of the debugger the server exposes.
	Debugger debugger.Config

	// DisconnectChan will be closed by the server when the client detaches.
	DisconnectChan chan<- struct{}
}
