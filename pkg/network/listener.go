package network

import (
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Listener accepts inbound TCP connections and
// yields a frame channel pair for each of them.
type Listener struct {
	hostname string
	port     uint16
	ln       net.Listener
	accepted *queue[channelPair]
}

type channelPair struct {
	sender   *Sender
	receiver *Receiver
}

// Listen binds the given TCP port on the unspecified IPv4 address and
// starts accepting connections. Port 0 picks a free port; the bound
// port is reported by [Listener.ExternalAddr].
func (n *Network) Listen(port uint16) (*Listener, error) {
	ln, err := net.Listen("tcp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	l := &Listener{
		hostname: n.hostname,
		port:     uint16(ln.Addr().(*net.TCPAddr).Port), //nolint:errcheck
		ln:       ln,
		accepted: newQueue[channelPair](),
	}

	go func() {
		defer l.accepted.close()
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Debug().Msg("listener is exiting")
				return
			}
			s, r := n.Channel(conn)
			l.accepted.push(channelPair{sender: s, receiver: r})
		}
	}()

	return l, nil
}

// Accept blocks until the next client connects, and returns the
// connection's channel pair. It reports false after [Listener.Close],
// or once accepting fails.
func (l *Listener) Accept() (*Sender, *Receiver, bool) {
	pair, ok := l.accepted.pop()
	if !ok {
		return nil, nil, false
	}
	return pair.sender, pair.receiver, true
}

// ExternalAddr returns the advertised endpoint of this listener:
// the configured external hostname, and the actual bound port.
func (l *Listener) ExternalAddr() (string, uint16) {
	return l.hostname, l.port
}

// Close stops accepting new connections. Connections
// already accepted are unaffected.
func (l *Listener) Close() {
	_ = l.ln.Close()
}
