// Package rpc layers a symmetric request/response protocol on top of a
// [network] frame channel. Either endpoint may issue typed requests and
// receive typed replies on the same socket, concurrently: outbound
// requests are correlated to their replies by a per-connection id, and
// inbound requests are surfaced as an incoming stream that the
// application answers through single-shot responders.
package rpc

import (
	"fmt"
	"net"
	"sync"

	"github.com/tzrikka/spate/pkg/network"
	"github.com/tzrikka/spate/pkg/wire"
)

// Request is a payload that can be sent as an RPC request. The wire
// name associates it with the peer's handler, and with the success and
// error types of the reply (see [Call] and [Decode]).
type Request interface {
	RequestName() string
}

// Message kind discriminator: the first section of every frame.
// Any other value is a protocol error that tears the connection down.
const (
	kindRequest  byte = 0x00
	kindResponse byte = 0x01
)

// pendingTable maps in-flight request ids to the one-shot channels
// their [Response] handles are blocked on. It is shared between the
// issuing side and the connection's resolver goroutine.
type pendingTable struct {
	mu     sync.Mutex
	m      map[uint32]chan *wire.MessageBuf
	failed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[uint32]chan *wire.MessageBuf)}
}

// insert registers a new in-flight id. It reports false once the
// connection has been torn down, so that new calls fail immediately
// instead of waiting for a reply that can never arrive.
func (p *pendingTable) insert(id uint32, ch chan *wire.MessageBuf) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return false
	}
	p.m[id] = ch
	return true
}

// remove deletes the entry for the given id, reporting whether it was
// still present. Both completion and cancellation go through here, so
// each entry is removed exactly once.
func (p *pendingTable) remove(id uint32) (chan *wire.MessageBuf, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.m[id]
	if ok {
		delete(p.m, id)
	}
	return ch, ok
}

// failAll removes every entry and closes its channel, failing the
// corresponding [Response] handles with a transport error. Called by
// the resolver when the connection is torn down.
func (p *pendingTable) failAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed = true
	for id, ch := range p.m {
		close(ch)
		delete(p.m, id)
	}
}

func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Multiplex wraps a connected socket with a frame channel and a
// resolver goroutine, and returns the two application-facing halves:
// [Outgoing] issues requests to the peer, [Incoming] yields the peer's
// requests to us.
func Multiplex(n *network.Network, conn net.Conn) (*Outgoing, *Incoming) {
	sender, receiver := n.Channel(conn)
	return multiplexChannel(sender, receiver)
}

// multiplexChannel layers the request/response protocol
// on an already established frame channel.
func multiplexChannel(sender *network.Sender, receiver *network.Receiver) (*Outgoing, *Incoming) {
	pending := newPendingTable()
	incoming := &Incoming{ch: make(chan *RequestBuf, incomingBacklog)}

	outgoing := &Outgoing{
		pending: pending,
		sender:  sender,
	}

	r := &resolver{
		receiver: receiver,
		sender:   sender,
		pending:  pending,
		incoming: incoming,
	}
	go r.run()

	return outgoing, incoming
}

// Connect dials the given TCP endpoint and multiplexes the connection.
func Connect(n *network.Network, addr string) (*Outgoing, *Incoming, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	out, in := Multiplex(n, conn)
	return out, in, nil
}
