package rpc

import (
	"github.com/tzrikka/spate/pkg/network"
)

// Server accepts inbound connections and multiplexes each of them.
type Server struct {
	listener *network.Listener
}

// Listen binds the given port and starts accepting connections.
// Port 0 picks a free port.
func Listen(n *network.Network, port uint16) (*Server, error) {
	l, err := n.Listen(port)
	if err != nil {
		return nil, err
	}
	return &Server{listener: l}, nil
}

// Accept blocks until the next client connects, and returns the
// connection's multiplexed halves. It reports false after
// [Server.Close], or once accepting fails.
func (s *Server) Accept() (*Outgoing, *Incoming, bool) {
	sender, receiver, ok := s.listener.Accept()
	if !ok {
		return nil, nil, false
	}
	out, in := multiplexChannel(sender, receiver)
	return out, in, true
}

// ExternalAddr returns the advertised endpoint of this server:
// the configured external hostname, and the actual bound port.
func (s *Server) ExternalAddr() (string, uint16) {
	return s.listener.ExternalAddr()
}

// Close stops accepting new connections. Connections
// already accepted are unaffected.
func (s *Server) Close() {
	s.listener.Close()
}
