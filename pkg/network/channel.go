package network

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tzrikka/spate/pkg/wire"
)

// Sender is the outbound half of a frame channel. It is safe for
// concurrent use: frames sent by a single goroutine reach the peer
// in send order.
type Sender struct {
	q    *queue[*wire.MessageBuf]
	done chan struct{}
}

// Send enqueues a frame for the writer goroutine. It never blocks and
// never reports an error: once the writer has exited, frames are
// silently discarded.
func (s *Sender) Send(msg *wire.MessageBuf) {
	s.q.push(msg)
}

// Close stops accepting new frames, flushes those already queued, and
// waits for the writer goroutine to exit. Closing twice is a no-op.
func (s *Sender) Close() {
	s.q.close()
	<-s.done
}

// Receiver is the inbound half of a frame channel.
type Receiver struct {
	q *queue[recvItem]
}

type recvItem struct {
	msg *wire.MessageBuf
	err error
}

// Recv blocks until the next inbound frame is available. It returns
// [io.EOF] once the peer has shut down in an orderly way; a transport
// failure is surfaced exactly once, and every call after that returns
// [io.EOF] as well.
func (r *Receiver) Recv() (*wire.MessageBuf, error) {
	item, ok := r.q.pop()
	if !ok {
		return nil, io.EOF
	}
	if item.err != nil {
		return nil, item.err
	}
	return item.msg, nil
}

// Channel wraps a connected socket with a writer and a reader goroutine
// and returns the in-memory handles feeding them. The returned halves
// outlive each other: when either one shuts down, the socket is closed
// on both ends, and the other half observes end-of-stream.
func (n *Network) Channel(conn net.Conn) (*Sender, *Receiver) {
	sender := &Sender{
		q:    newQueue[*wire.MessageBuf](),
		done: make(chan struct{}),
	}

	// closeConn shuts the socket down from whichever
	// side finishes first, without double-close noise.
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			_ = conn.Close()
		})
	}

	go func() {
		defer close(sender.done)
		defer closeConn()

		for {
			msg, ok := sender.q.pop()
			if !ok {
				return
			}
			if err := wire.Write(conn, msg); err != nil {
				log.Info().Err(err).Msg("unexpected error while writing frame")
				sender.q.close()
				return
			}
		}
	}()

	receiver := &Receiver{q: newQueue[recvItem]()}
	go func() {
		defer closeConn()
		defer receiver.q.close()

		for {
			msg, err := wire.Read(conn)
			if err != nil {
				// An orderly peer shutdown, or our own half closing the
				// socket first, is an end-of-stream rather than a failure.
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
					receiver.q.push(recvItem{err: err})
				}
				return
			}
			receiver.q.push(recvItem{msg: msg})
		}
	}()

	return sender, receiver
}
